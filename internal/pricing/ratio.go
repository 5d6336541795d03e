// =============================================================================
// Ledger Reconciliation - Cumulative Ratio Overage
// =============================================================================
//
// Contracts cap 10mm deliveries at 40% of a counterparty's total 10mm+20mm
// quantity (the "60/40 ratio"). The cap is measured over ALL history, not
// just the current batch:
//
//   cum10            = h10 + c10
//   cumTotal         = cum10 + h20 + c20
//   cumulativeExcess = max(0, cum10 - 0.40*cumTotal)
//   historicalExcess = max(0, h10 - 0.40*(h10+h20))
//   chargeable       = max(0, cumulativeExcess - historicalExcess)
//
// Subtracting the historical excess makes the calculation idempotent: an
// excess that earlier runs already billed is never billed again.
//
// =============================================================================

package pricing

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/ginjaninja78/ledger-reconciliation/internal/types"
)

// CapRatio is the largest share of 10mm allowed in the cumulative total.
const CapRatio = 0.40

// Tolerance is the smallest excess (in quantity units) that is charged.
const Tolerance = 0.001

// OverageResult holds every intermediate of the overage calculation.
type OverageResult struct {
	Cum10            float64 `json:"cum_10"`
	Cum20            float64 `json:"cum_20"`
	CumTotal         float64 `json:"cum_total"`
	AllowedCum10     float64 `json:"allowed_cum_10"`
	CumulativeExcess float64 `json:"cumulative_excess"`
	HistoricalExcess float64 `json:"historical_excess"`
	ChargeableExcess float64 `json:"chargeable_excess"`
}

// Overage computes the chargeable 10mm excess of a batch given the
// counterparty's historical totals (h10, h20) and the batch totals
// (c10, c20).
func Overage(h10, h20, c10, c20 float64) OverageResult {
	r := OverageResult{
		Cum10: h10 + c10,
		Cum20: h20 + c20,
	}
	r.CumTotal = r.Cum10 + r.Cum20
	r.AllowedCum10 = CapRatio * r.CumTotal
	r.CumulativeExcess = math.Max(0, r.Cum10-r.AllowedCum10)
	r.HistoricalExcess = math.Max(0, h10-CapRatio*(h10+h20))

	chargeable := r.CumulativeExcess - r.HistoricalExcess
	if chargeable > Tolerance {
		r.ChargeableExcess = chargeable
	}
	return r
}

// ExcessDescription is the line item description of the overage charge.
func ExcessDescription(grade types.Grade) string {
	return fmt.Sprintf("Excess %s (>40%%)", grade)
}

// DeductExcess removes excess quantity from the grade's line items, earliest
// first, and appends one overage item at rate for the quantity removed.
// Items whose quantity reaches zero are dropped. The input slice is not
// modified. It returns the new items and the quantity actually moved.
func DeductExcess(items []types.LineItem, grade types.Grade, excess float64, rate decimal.Decimal, newID func() string) ([]types.LineItem, float64) {
	if excess <= Tolerance {
		return append([]types.LineItem(nil), items...), 0
	}

	excessDesc := ExcessDescription(grade)
	remaining := excess
	out := make([]types.LineItem, 0, len(items)+1)

	for _, item := range items {
		if item.Grade != grade || item.Description == excessDesc || remaining <= epsilon {
			out = append(out, item)
			continue
		}
		take := math.Min(item.Quantity, remaining)
		remaining -= take
		item.Quantity -= take
		if item.Quantity <= epsilon {
			continue
		}
		item.Recalculate()
		out = append(out, item)
	}

	moved := excess - math.Max(0, remaining)
	if moved <= epsilon {
		return out, 0
	}

	overage := types.LineItem{
		Description: excessDesc,
		Quantity:    moved,
		UnitPrice:   rate,
		Grade:       grade,
	}
	if newID != nil {
		overage.ID = newID()
	}
	overage.Recalculate()
	return append(out, overage), moved
}
