// =============================================================================
// Ledger Reconciliation - Ledger Matcher
// =============================================================================
//
// This module joins the ledger's rows against every counterparty file's rows
// by normalized match key.
//
// MATCHING PIPELINE:
//   1. Build the ledger key set, running row diagnostics on the primary
//      identifier column and tracking duplicate keys.
//   2. For each counterparty file: build its key set, skip junk rows, record
//      the file's label against every key the ledger also has, and collect
//      rows the ledger does not know as unmatched.
//   3. Re-scan the ledger: a row whose key collected labels gets them joined
//      with ", "; any other keyed row gets the "no match" text.
//
// The labels live in an explicit key -> label set map until step 3 so the
// ledger's result column reflects every file, not just the first one.
//
// =============================================================================

package matcher

import (
	"fmt"
	"math"
	"strings"

	"github.com/ginjaninja78/ledger-reconciliation/internal/keys"
	"github.com/ginjaninja78/ledger-reconciliation/internal/types"
	"github.com/ginjaninja78/ledger-reconciliation/internal/validation"
)

// DefaultLabel is used when a counterparty file has no label.
const DefaultLabel = "Matched"

// LabelSeparator joins multiple labels in a result cell.
const LabelSeparator = ", "

// =============================================================================
// INPUT TYPES
// =============================================================================

// Ledger is the master file's rows, already restricted to its row range.
type Ledger struct {
	// SourceFile names the ledger in diagnostics.
	SourceFile string

	// Rows are the ledger rows to reconcile.
	Rows []types.Row

	// IDColumns are the 0-based identifier columns. The first one is the
	// primary identifier used for row diagnostics.
	IDColumns []int
}

// CounterpartyFile is one counterparty's rows, already restricted to its
// row range.
type CounterpartyFile struct {
	SourceFile string
	Rows       []types.Row
	IDColumns  []int

	// Label is the group name matched rows are attributed to.
	Label string

	// Transformer rewrites identifier cells before normalization. Optional.
	Transformer *keys.Transformer
}

// Options controls matching.
type Options struct {
	// NoMatchText is written for keyed ledger rows without any label.
	// Empty leaves the result cell blank.
	NoMatchText string

	// Junk filters counterparty rows.
	Junk keys.JunkFilter
}

// =============================================================================
// OUTPUT TYPES
// =============================================================================

// UnmatchedRow is a counterparty row whose key is absent from the ledger.
type UnmatchedRow struct {
	SourceFile string
	RowNumber  int
	Key        string
	Cells      []types.Cell
}

// FileStats is the match-rate statistic of one counterparty file.
type FileStats struct {
	SourceFile string  `json:"source_file"`
	Label      string  `json:"label"`
	Total      int     `json:"total"`
	Matched    int     `json:"matched"`
	Junk       int     `json:"junk"`
	Percentage float64 `json:"percentage"`
}

// Result is the outcome of one matching run.
type Result struct {
	// Values maps ledger row index (types.Row.Index) to its result text.
	// Rows with an empty key are absent.
	Values map[int]string

	// Labels maps ledger row index to the ordered labels it matched.
	// Only matched rows are present.
	Labels map[int][]string

	UnmatchedRows []UnmatchedRow
	Warnings      []types.ValidationWarning
	FileStats     []FileStats

	// MatchedCount and TotalCount cover keyed ledger rows only.
	MatchedCount    int
	UnmatchedCount  int
	TotalCount      int
	MatchPercentage float64
}

// Group returns the group label of a matched ledger row ("" if unmatched).
func (r *Result) Group(index int) string {
	return strings.Join(r.Labels[index], LabelSeparator)
}

// =============================================================================
// LABEL SET
// =============================================================================

// labelSet is an insertion-ordered set of labels.
type labelSet struct {
	order []string
	seen  map[string]struct{}
}

func (s *labelSet) add(label string) {
	if s.seen == nil {
		s.seen = make(map[string]struct{})
	}
	if _, ok := s.seen[label]; ok {
		return
	}
	s.seen[label] = struct{}{}
	s.order = append(s.order, label)
}

// =============================================================================
// MATCHING
// =============================================================================

// Match joins the ledger against files in order.
func Match(ledger Ledger, files []CounterpartyFile, opts Options) *Result {
	result := &Result{
		Values: make(map[int]string),
		Labels: make(map[int][]string),
	}

	// =========================================================================
	// PASS 1: LEDGER KEY SET
	// =========================================================================

	primary := -1
	if len(ledger.IDColumns) > 0 {
		primary = ledger.IDColumns[0]
	}
	validator := validation.NewLedgerValidator(ledger.SourceFile, primary)

	ledgerKeys := make(map[string]struct{})
	for _, row := range ledger.Rows {
		key := keys.BuildKey(row, ledger.IDColumns)
		validator.CheckRow(row, key)
		if key != "" {
			ledgerKeys[key] = struct{}{}
		}
	}
	result.Warnings = append(result.Warnings, validator.Warnings()...)

	// =========================================================================
	// PASS 2: COUNTERPARTY FILES
	// =========================================================================

	labels := make(map[string]*labelSet)

	for _, file := range files {
		label := file.Label
		if strings.TrimSpace(label) == "" {
			label = DefaultLabel
		}

		stats := FileStats{SourceFile: file.SourceFile, Label: label}

		for _, row := range file.Rows {
			key := keys.BuildKeyWith(row, file.IDColumns, file.Transformer)
			if junk, reason := opts.Junk.IsJunk(key); junk {
				if key != "" {
					stats.Junk++
					result.Warnings = append(result.Warnings, types.ValidationWarning{
						Kind:       types.WarnJunkRow,
						SourceFile: file.SourceFile,
						RowNumber:  row.Number(),
						Message:    fmt.Sprintf("skipped row %q: %s", key, reason),
					})
				}
				continue
			}

			stats.Total++
			if _, ok := ledgerKeys[key]; !ok {
				result.UnmatchedRows = append(result.UnmatchedRows, UnmatchedRow{
					SourceFile: file.SourceFile,
					RowNumber:  row.Number(),
					Key:        key,
					Cells:      row.Cells,
				})
				continue
			}

			stats.Matched++
			set, ok := labels[key]
			if !ok {
				set = &labelSet{}
				labels[key] = set
			}
			set.add(label)
		}

		stats.Percentage = Percentage(stats.Matched, stats.Total)
		result.FileStats = append(result.FileStats, stats)
	}

	// =========================================================================
	// PASS 3: APPLY LABELS TO THE LEDGER
	// =========================================================================

	for _, row := range ledger.Rows {
		key := keys.BuildKey(row, ledger.IDColumns)
		if key == "" {
			continue
		}
		result.TotalCount++

		if set, ok := labels[key]; ok && len(set.order) > 0 {
			result.Labels[row.Index] = append([]string(nil), set.order...)
			result.Values[row.Index] = strings.Join(set.order, LabelSeparator)
			result.MatchedCount++
			continue
		}

		result.Values[row.Index] = opts.NoMatchText
		result.UnmatchedCount++
	}

	result.MatchPercentage = Percentage(result.MatchedCount, result.TotalCount)
	return result
}

// Percentage returns matched/total*100 rounded to 2 decimals; 0 when total
// is 0.
func Percentage(matched, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(matched)/float64(total)*10000) / 100
}
