package pricing

import (
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ginjaninja78/ledger-reconciliation/internal/types"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.True(t, dec(want).Equal(got), "want %s, got %s", want, got)
}

func seqID() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

// =============================================================================
// OVERAGE
// =============================================================================

func TestOverageBatchPushesOverCap(t *testing.T) {
	r := Overage(300, 500, 200, 0)

	require.InDelta(t, 500, r.Cum10, 1e-9)
	require.InDelta(t, 1000, r.CumTotal, 1e-9)
	require.InDelta(t, 400, r.AllowedCum10, 1e-9)
	require.InDelta(t, 100, r.CumulativeExcess, 1e-9)
	require.Zero(t, r.HistoricalExcess)
	require.InDelta(t, 100, r.ChargeableExcess, 1e-9)
}

func TestOverageIsIdempotent(t *testing.T) {
	first := Overage(300, 500, 200, 0)
	again := Overage(300, 500, 200, 0)
	require.Equal(t, first, again)

	// History now includes the first batch and its excess was billed.
	next := Overage(500, 500, 0, 0)
	require.InDelta(t, 100, next.HistoricalExcess, 1e-9)
	require.Zero(t, next.ChargeableExcess)
}

func TestOverageBoundary(t *testing.T) {
	exact := Overage(0, 0, 40, 60)
	require.Zero(t, exact.ChargeableExcess)

	over := Overage(0, 0, 40.01, 59.99)
	require.Greater(t, over.ChargeableExcess, 0.0)
	require.InDelta(t, 0.01, over.ChargeableExcess, 1e-9)

	withinTolerance := Overage(0, 0, 40.0005, 59.9995)
	require.Zero(t, withinTolerance.ChargeableExcess)
}

func TestOverageHistoryAlreadyOverCap(t *testing.T) {
	// History is 50% 10mm (excess 100 already billed); a 20mm-only batch
	// brings the ratio back down and must not be charged.
	r := Overage(500, 500, 0, 300)
	require.Zero(t, r.ChargeableExcess)

	// A further 10mm batch is charged only for what it adds.
	r = Overage(500, 500, 100, 0)
	require.InDelta(t, 160-100, r.ChargeableExcess, 1e-9)
}

func TestDeductExcessEarliestFirst(t *testing.T) {
	items := []types.LineItem{
		{ID: "a", Description: "10mm", Quantity: 60, UnitPrice: dec("10"), Grade: types.Grade10},
		{ID: "b", Description: "20mm", Quantity: 80, UnitPrice: dec("12"), Grade: types.Grade20},
		{ID: "c", Description: "10mm night", Quantity: 70, UnitPrice: dec("11"), Grade: types.Grade10},
	}
	for i := range items {
		items[i].Recalculate()
	}

	out, moved := DeductExcess(items, types.Grade10, 100, dec("25"), seqID())
	require.InDelta(t, 100, moved, 1e-9)

	require.Len(t, out, 3)
	require.Equal(t, "b", out[0].ID)
	require.Equal(t, "c", out[1].ID)
	require.InDelta(t, 30, out[1].Quantity, 1e-9)
	requireDecimal(t, "330", out[1].Amount)

	excess := out[2]
	require.Equal(t, "Excess 10mm (>40%)", excess.Description)
	require.Equal(t, "id-1", excess.ID)
	require.InDelta(t, 100, excess.Quantity, 1e-9)
	requireDecimal(t, "2500", excess.Amount)

	// Input untouched.
	require.Equal(t, 60.0, items[0].Quantity)
}

func TestDeductExcessBelowToleranceIsNoop(t *testing.T) {
	items := []types.LineItem{{Description: "10mm", Quantity: 5, Grade: types.Grade10}}
	out, moved := DeductExcess(items, types.Grade10, 0.0005, dec("25"), nil)
	require.Zero(t, moved)
	require.Equal(t, items, out)
}

func TestDeductExcessCappedByAvailableQuantity(t *testing.T) {
	items := []types.LineItem{{Description: "10mm", Quantity: 5, UnitPrice: dec("10"), Grade: types.Grade10}}
	out, moved := DeductExcess(items, types.Grade10, 8, dec("25"), nil)
	require.InDelta(t, 5, moved, 1e-9)
	require.Len(t, out, 1)
	require.InDelta(t, 5, out[0].Quantity, 1e-9)
	requireDecimal(t, "125", out[0].Amount)
}

// =============================================================================
// TIERS
// =============================================================================

var tierCfg = types.SplitPricingConfig{Enabled: true, ThresholdQuantity: 50, RateTier1: 10, RateTier2: 15}

func TestSplitAboveThreshold(t *testing.T) {
	out := Split(types.LineItem{ID: "x", Description: "10mm", Quantity: 80, Grade: types.Grade10}, tierCfg, seqID())

	require.Len(t, out, 2)
	require.Equal(t, "x", out[0].ID)
	require.Equal(t, 50.0, out[0].Quantity)
	requireDecimal(t, "500", out[0].Amount)

	require.Equal(t, "id-1", out[1].ID)
	require.Equal(t, "10mm (above 50)", out[1].Description)
	require.InDelta(t, 30, out[1].Quantity, 1e-9)
	requireDecimal(t, "450", out[1].Amount)
}

func TestSplitAtOrBelowThreshold(t *testing.T) {
	for _, q := range []float64{50, 12.345} {
		out := Split(types.LineItem{Description: "10mm", Quantity: q}, tierCfg, nil)
		require.Len(t, out, 1)
		requireDecimal(t, "10", out[0].UnitPrice)
		require.True(t, out[0].Amount.Equal(types.LineAmount(q, dec("10"))))
	}
}

func TestTierAllocatorIsCumulative(t *testing.T) {
	a := NewTierAllocator(tierCfg, seqID())

	first := a.Allocate(types.LineItem{ID: "1", Description: "10mm", Quantity: 30})
	require.Len(t, first, 1)
	require.InDelta(t, 20, a.remaining, 1e-9)

	second := a.Allocate(types.LineItem{ID: "2", Description: "10mm", Quantity: 30})
	require.Len(t, second, 2)
	require.InDelta(t, 20, second[0].Quantity, 1e-9)
	require.InDelta(t, 10, second[1].Quantity, 1e-9)
	requireDecimal(t, "150", second[1].Amount)
	require.Zero(t, a.remaining)

	third := a.Allocate(types.LineItem{ID: "3", Description: "10mm", Quantity: 5})
	require.Len(t, third, 1)
	require.Equal(t, "3", third[0].ID)
	require.Equal(t, "10mm (above 50)", third[0].Description)
	requireDecimal(t, "15", third[0].UnitPrice)
	requireDecimal(t, "75", third[0].Amount)
}

func TestLineAmountRoundsToCents(t *testing.T) {
	requireDecimal(t, "4.12", types.LineAmount(1.2345, dec("3.333")))
	requireDecimal(t, "0.01", types.LineAmount(0.005, dec("1")))
}
