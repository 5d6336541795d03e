// =============================================================================
// Ledger Reconciliation - Ledger Row Validator
// =============================================================================
//
// This module produces the advisory diagnostics collected while the ledger
// key set is built:
//   - empty_ticket   : the primary identifier cell is blank
//   - invalid_format : the primary identifier is not a 10-digit numeral
//   - duplicate      : the same match key occurs on more than one row
//
// ERROR HANDLING:
//   - Warnings are collected, never thrown
//   - Each warning carries the source file and the 1-based row number
//   - Nothing in this module blocks matching
//
// =============================================================================

package validation

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/ginjaninja78/ledger-reconciliation/internal/keys"
	"github.com/ginjaninja78/ledger-reconciliation/internal/types"
)

// =============================================================================
// LEDGER VALIDATOR
// =============================================================================

// LedgerValidator accumulates row diagnostics for one ledger scan.
type LedgerValidator struct {
	sourceFile    string
	primaryColumn int

	warnings []types.ValidationWarning

	// keyRows maps each key to the 1-based rows it was seen on.
	keyRows  map[string][]int
	keyOrder []string
}

// NewLedgerValidator creates a validator for sourceFile whose primary
// identifier lives at primaryColumn.
func NewLedgerValidator(sourceFile string, primaryColumn int) *LedgerValidator {
	return &LedgerValidator{
		sourceFile:    sourceFile,
		primaryColumn: primaryColumn,
		keyRows:       make(map[string][]int),
	}
}

// CheckRow runs the row-level checks and records the row's key for
// duplicate detection. Rows with an empty key are checked but not tracked.
func (v *LedgerValidator) CheckRow(row types.Row, key string) {
	primary := row.Cell(v.primaryColumn)

	switch {
	case keys.Normalize(primary) == "":
		v.warnings = append(v.warnings, types.ValidationWarning{
			Kind:       types.WarnEmptyTicket,
			SourceFile: v.sourceFile,
			RowNumber:  row.Number(),
			Message:    "ticket number is empty",
		})
	case !keys.IsTenDigitNumeral(primary):
		v.warnings = append(v.warnings, types.ValidationWarning{
			Kind:       types.WarnInvalidFormat,
			SourceFile: v.sourceFile,
			RowNumber:  row.Number(),
			Message:    fmt.Sprintf("ticket number %q is not a 10-digit number", strings.TrimSpace(fmt.Sprint(primary))),
		})
	}

	if key == "" {
		return
	}
	if _, seen := v.keyRows[key]; !seen {
		v.keyOrder = append(v.keyOrder, key)
	}
	v.keyRows[key] = append(v.keyRows[key], row.Number())
}

// Warnings returns the row warnings followed by one duplicate warning per
// key seen more than once, in first-seen order.
func (v *LedgerValidator) Warnings() []types.ValidationWarning {
	out := make([]types.ValidationWarning, 0, len(v.warnings))
	out = append(out, v.warnings...)

	for _, key := range v.keyOrder {
		rows := v.keyRows[key]
		if len(rows) < 2 {
			continue
		}
		out = append(out, types.ValidationWarning{
			Kind:       types.WarnDuplicate,
			SourceFile: v.sourceFile,
			RowNumber:  rows[0],
			Message:    fmt.Sprintf("key %q appears on rows %s", key, joinInts(rows)),
		})
	}
	return out
}

// =============================================================================
// FORMATTING
// =============================================================================

// CountByKind tallies warnings per kind.
func CountByKind(warnings []types.ValidationWarning) map[string]int {
	counts := make(map[string]int)
	for _, w := range warnings {
		counts[w.Kind]++
	}
	return counts
}

// FormatWarnings formats warnings for display or logging.
func FormatWarnings(warnings []types.ValidationWarning) string {
	if len(warnings) == 0 {
		return "No validation warnings."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Validation completed with %d warning(s):\n", len(warnings))

	counts := CountByKind(warnings)
	kinds := make([]string, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Fprintf(&b, "  %-16s %d\n", k, counts[k])
	}
	b.WriteString("\n")

	for i, w := range warnings {
		fmt.Fprintf(&b, "%d. %s\n", i+1, Format(w))
	}
	return b.String()
}

// Format renders a single warning on one line.
func Format(w types.ValidationWarning) string {
	if w.RowNumber > 0 {
		return fmt.Sprintf("[%s] %s row %d: %s", strings.ToUpper(w.Kind), w.SourceFile, w.RowNumber, w.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", strings.ToUpper(w.Kind), w.SourceFile, w.Message)
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ", ")
}
