// =============================================================================
// Ledger Reconciliation - Quantity Aggregator
// =============================================================================
//
// This module classifies every matched ledger row by material grade, parses
// its quantity and accumulates per-group and global GradeTotals.
//
// GRADE CLASSIFICATION:
//   The description cell plus the rest of the row (minus excluded columns
//   such as the result column) are scanned against an
//   ordered rule table. The highest-weight matching rule wins, so a row that
//   mentions both "10mm" and "20mm" is 20mm. No match means "other".
//
// QUANTITY PARSING:
//   Thousands separators and trailing text are stripped ("1,234.5 t" ->
//   1234.5). Unparseable, negative or absurd (> 1,000,000) values count as 0
//   and produce a warning; they never stop the run.
//
// Totals are built in local accumulators and only returned once the whole
// row range has been scanned.
//
// =============================================================================

package aggregate

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ginjaninja78/ledger-reconciliation/internal/keys"
	"github.com/ginjaninja78/ledger-reconciliation/internal/logger"
	"github.com/ginjaninja78/ledger-reconciliation/internal/matcher"
	"github.com/ginjaninja78/ledger-reconciliation/internal/types"
)

// QuantityCeiling is the largest quantity accepted from a single row.
const QuantityCeiling = 1_000_000

// =============================================================================
// GRADE RULES
// =============================================================================

// GradeRule is one (pattern, weight) entry of the grade table.
type GradeRule struct {
	Grade  types.Grade
	Substr string
	Weight int
}

// DefaultGradeRules detects 10mm and 20mm material; 20mm outranks 10mm.
var DefaultGradeRules = []GradeRule{
	{Grade: types.Grade20, Substr: "20mm", Weight: 2},
	{Grade: types.Grade10, Substr: "10mm", Weight: 1},
}

// Classify returns the grade of the highest-weight rule whose substring
// occurs in text (case-insensitive), or GradeOther.
func Classify(text string, rules []GradeRule) types.Grade {
	lower := strings.ToLower(text)
	grade := types.GradeOther
	best := 0
	for _, rule := range rules {
		if rule.Weight <= best {
			continue
		}
		if strings.Contains(lower, strings.ToLower(rule.Substr)) {
			grade = rule.Grade
			best = rule.Weight
		}
	}
	return grade
}

// =============================================================================
// QUANTITY PARSING
// =============================================================================

var leadingNumber = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)`)

// ParseQuantity tolerantly parses a quantity cell.
func ParseQuantity(cell types.Cell) (float64, error) {
	var q float64
	switch v := cell.(type) {
	case nil:
		return 0, fmt.Errorf("quantity is empty")
	case float64:
		q = v
	case int:
		q = float64(v)
	case int64:
		q = float64(v)
	default:
		s := strings.ReplaceAll(strings.TrimSpace(fmt.Sprint(v)), ",", "")
		m := leadingNumber.FindString(s)
		if m == "" {
			return 0, fmt.Errorf("quantity %q is not a number", fmt.Sprint(v))
		}
		parsed, err := strconv.ParseFloat(m, 64)
		if err != nil {
			return 0, fmt.Errorf("quantity %q is not a number: %w", fmt.Sprint(v), err)
		}
		q = parsed
	}

	if q < 0 {
		return 0, fmt.Errorf("quantity %v is negative", q)
	}
	if q > QuantityCeiling {
		return 0, fmt.Errorf("quantity %v exceeds ceiling %d", q, QuantityCeiling)
	}
	return q, nil
}

// =============================================================================
// AGGREGATION
// =============================================================================

// Options selects the columns used for classification and quantities.
type Options struct {
	SourceFile        string
	DescriptionColumn int
	QuantityColumn    int

	// ExcludeColumns are left out of grade detection. The ledger's result
	// column goes here so labels written by an earlier run never change a
	// row's grade.
	ExcludeColumns []int

	// Rules defaults to DefaultGradeRules when nil.
	Rules []GradeRule

	Logger logger.Logger
}

// ClassifiedRow is a matched ledger row after classification.
type ClassifiedRow struct {
	Index    int
	Group    string
	Labels   []string
	Grade    types.Grade
	Quantity float64
}

// Aggregation is the published outcome of a full scan.
type Aggregation struct {
	// Groups holds totals per group label.
	Groups map[string]types.GradeTotals

	// GroupOrder lists group labels in first-seen order.
	GroupOrder []string

	// Global is the sum over all groups.
	Global types.GradeTotals

	// Rows lists classified matched rows in ledger order.
	Rows []ClassifiedRow

	Warnings []types.ValidationWarning
}

// Aggregate classifies and totals every matched ledger row.
func Aggregate(ledgerRows []types.Row, match *matcher.Result, opts Options) *Aggregation {
	rules := opts.Rules
	if rules == nil {
		rules = DefaultGradeRules
	}
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}

	groups := make(map[string]*types.GradeTotals)
	var order []string
	var classified []ClassifiedRow
	var warnings []types.ValidationWarning

	for _, row := range ledgerRows {
		labels, ok := match.Labels[row.Index]
		if !ok || len(labels) == 0 {
			continue
		}
		group := strings.Join(labels, matcher.LabelSeparator)
		if len(labels) > 1 {
			warnings = append(warnings, types.ValidationWarning{
				Kind:       types.WarnAmbiguousMatch,
				SourceFile: opts.SourceFile,
				RowNumber:  row.Number(),
				Message:    fmt.Sprintf("row matched several counterparties (%s)", group),
			})
		}

		grade := Classify(rowText(row, opts.DescriptionColumn, opts.ExcludeColumns), rules)

		quantity, err := ParseQuantity(row.Cell(opts.QuantityColumn))
		if err != nil {
			log.Warn("row %d: %v; counting quantity as 0", row.Number(), err)
			warnings = append(warnings, types.ValidationWarning{
				Kind:       types.WarnQuantityParse,
				SourceFile: opts.SourceFile,
				RowNumber:  row.Number(),
				Message:    err.Error(),
			})
			quantity = 0
		}

		totals, ok := groups[group]
		if !ok {
			totals = &types.GradeTotals{}
			groups[group] = totals
			order = append(order, group)
		}
		totals.Add(grade, quantity)

		classified = append(classified, ClassifiedRow{
			Index:    row.Index,
			Group:    group,
			Labels:   labels,
			Grade:    grade,
			Quantity: quantity,
		})
	}

	published := make(map[string]types.GradeTotals, len(groups))
	var global types.GradeTotals
	for _, name := range order {
		published[name] = *groups[name]
		global.Merge(*groups[name])
	}

	return &Aggregation{
		Groups:     published,
		GroupOrder: order,
		Global:     global,
		Rows:       classified,
		Warnings:   warnings,
	}
}

// rowText is the description cell followed by every other cell of the row
// except the excluded ones.
func rowText(row types.Row, descriptionColumn int, exclude []int) string {
	skip := make(map[int]bool, len(exclude))
	for _, c := range exclude {
		skip[c] = true
	}
	parts := make([]string, 0, len(row.Cells)+1)
	parts = append(parts, keys.Normalize(row.Cell(descriptionColumn)))
	for i, c := range row.Cells {
		if skip[i] || i == descriptionColumn {
			continue
		}
		parts = append(parts, keys.Normalize(c))
	}
	return strings.Join(parts, " ")
}
