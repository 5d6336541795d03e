// =============================================================================
// Ledger Reconciliation - Shared Types
// =============================================================================
//
// This package contains shared types used across multiple modules to avoid
// import cycles. Types defined here are used by:
//   - matcher
//   - aggregate
//   - billing
//   - store
//   - reconciler
//
// =============================================================================

package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SPREADSHEET TYPES
// =============================================================================

// Cell is a single spreadsheet value: nil (empty), a string, or a number
// (float64, int or int64). The core treats cells as opaque scalars.
type Cell = any

// Row is one row read from a spreadsheet.
type Row struct {
	// Index is the 0-based position of the row in its source sheet.
	Index int

	// Cells holds the row's values in column order.
	Cells []Cell
}

// Number returns the 1-based sheet row number used in diagnostics.
func (r Row) Number() int {
	return r.Index + 1
}

// Cell returns the value at column index i, or nil if the row is shorter.
func (r Row) Cell(i int) Cell {
	if i < 0 || i >= len(r.Cells) {
		return nil
	}
	return r.Cells[i]
}

// RowRange selects an inclusive range of 1-based sheet rows.
// End == 0 means "until the last row of the sheet".
type RowRange struct {
	Start int `yaml:"start" toml:"start" json:"start"`
	End   int `yaml:"end" toml:"end" json:"end"`
}

// Contains reports whether the 1-based row number n lies in the range.
func (r RowRange) Contains(n int) bool {
	if n < r.Start {
		return false
	}
	return r.End == 0 || n <= r.End
}

// =============================================================================
// GRADES
// =============================================================================

// Grade is the material category of a delivery.
type Grade string

const (
	Grade10    Grade = "10mm"
	Grade20    Grade = "20mm"
	GradeOther Grade = "other"
)

// Grades lists every grade in reporting order.
var Grades = []Grade{Grade10, Grade20, GradeOther}

// GradeTotals accumulates quantities and trip counts per grade.
// All fields are non-negative and Quantity10+Quantity20+Other == Total().
type GradeTotals struct {
	Quantity10     float64 `json:"quantity_10"`
	Quantity20     float64 `json:"quantity_20"`
	Other          float64 `json:"other"`
	TripCount10    int     `json:"trip_count_10"`
	TripCount20    int     `json:"trip_count_20"`
	TripCountOther int     `json:"trip_count_other"`
	Rows           int     `json:"rows"`
}

// Add records one matched row of the given grade.
func (g *GradeTotals) Add(grade Grade, quantity float64) {
	g.Rows++
	switch grade {
	case Grade10:
		g.Quantity10 += quantity
		g.TripCount10++
	case Grade20:
		g.Quantity20 += quantity
		g.TripCount20++
	default:
		g.Other += quantity
		g.TripCountOther++
	}
}

// Merge adds another set of totals into g.
func (g *GradeTotals) Merge(o GradeTotals) {
	g.Quantity10 += o.Quantity10
	g.Quantity20 += o.Quantity20
	g.Other += o.Other
	g.TripCount10 += o.TripCount10
	g.TripCount20 += o.TripCount20
	g.TripCountOther += o.TripCountOther
	g.Rows += o.Rows
}

// Total is the group's total quantity across all grades.
func (g GradeTotals) Total() float64 {
	return g.Quantity10 + g.Quantity20 + g.Other
}

// =============================================================================
// COUNTERPARTY ACCOUNTS
// =============================================================================

// CounterpartyAccount is the persistent cumulative history of a counterparty.
// The record store owns the authoritative copy; the pipeline only reads it
// and proposes AccountUpdates.
type CounterpartyAccount struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Total10   float64   `json:"total_10"`
	Total20   float64   `json:"total_20"`
	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AccountUpdate is a proposed additive change to an account's totals.
type AccountUpdate struct {
	AccountID   string  `json:"account_id"`
	AccountName string  `json:"account_name"`
	Previous10  float64 `json:"previous_10"`
	Previous20  float64 `json:"previous_20"`
	Added10     float64 `json:"added_10"`
	Added20     float64 `json:"added_20"`

	// ExpectedVersion is the version the account had when it was read.
	// Stores reject the save if the stored version has moved on.
	ExpectedVersion int `json:"expected_version"`
}

// Apply returns the account value that results from the update.
func (u AccountUpdate) Apply(now time.Time) CounterpartyAccount {
	return CounterpartyAccount{
		ID:        u.AccountID,
		Name:      u.AccountName,
		Total10:   u.Previous10 + u.Added10,
		Total20:   u.Previous20 + u.Added20,
		Version:   u.ExpectedVersion,
		UpdatedAt: now,
	}
}

// =============================================================================
// DIAGNOSTICS
// =============================================================================

// Warning kinds reported in ValidationWarning.Kind.
const (
	WarnEmptyTicket    = "empty_ticket"
	WarnInvalidFormat  = "invalid_format"
	WarnDuplicate      = "duplicate"
	WarnJunkRow        = "junk_row"
	WarnAmbiguousMatch = "ambiguous_match"
	WarnQuantityParse  = "quantity_parse"
	WarnFileSkipped    = "file_skipped"
)

// ValidationWarning is an advisory diagnostic. It never blocks processing.
type ValidationWarning struct {
	Kind       string `json:"kind"`
	SourceFile string `json:"source_file"`
	RowNumber  int    `json:"row_number,omitempty"`
	Message    string `json:"message"`
}

// =============================================================================
// BILLING TYPES
// =============================================================================

// DocumentStatusDraft is the status of every newly generated document.
const DocumentStatusDraft = "draft"

// LineItem is a single billable line within a BillingDocument.
type LineItem struct {
	ID          string          `json:"id"`
	Description string          `json:"description"`
	Quantity    float64         `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Amount      decimal.Decimal `json:"amount"`
	Grade       Grade           `json:"grade"`
}

// Recalculate sets Amount to round(Quantity*UnitPrice, 2).
func (li *LineItem) Recalculate() {
	li.Amount = LineAmount(li.Quantity, li.UnitPrice)
}

// LineAmount is round(quantity*unitPrice, 2).
func LineAmount(quantity float64, unitPrice decimal.Decimal) decimal.Decimal {
	return decimal.NewFromFloat(quantity).Mul(unitPrice).Round(2)
}

// BillingDocument is a draft invoice for one counterparty.
type BillingDocument struct {
	ID               string          `json:"id"`
	Number           string          `json:"number"`
	CounterpartyID   string          `json:"counterparty_id"`
	CounterpartyName string          `json:"counterparty_name"`
	GroupLabel       string          `json:"group_label"`
	Items            []LineItem      `json:"items"`
	Subtotal         decimal.Decimal `json:"subtotal"`
	Tax              decimal.Decimal `json:"tax"`
	Total            decimal.Decimal `json:"total"`
	Status           string          `json:"status"`
	ChargeableExcess float64         `json:"chargeable_excess"`
	TripCount10      int             `json:"trip_count_10"`
	TripCount20      int             `json:"trip_count_20"`
	CreatedAt        time.Time       `json:"created_at"`
}

// SplitPricingConfig configures tiered pricing for one grade.
type SplitPricingConfig struct {
	Enabled           bool    `yaml:"enabled" toml:"enabled" json:"enabled"`
	ThresholdQuantity float64 `yaml:"threshold_quantity" toml:"threshold_quantity" json:"threshold_quantity"`
	RateTier1         float64 `yaml:"rate_tier1" toml:"rate_tier1" json:"rate_tier1"`
	RateTier2         float64 `yaml:"rate_tier2" toml:"rate_tier2" json:"rate_tier2"`
}
