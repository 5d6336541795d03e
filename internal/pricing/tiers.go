package pricing

import (
	"fmt"
	"math"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/ginjaninja78/ledger-reconciliation/internal/types"
)

// epsilon absorbs floating point noise when comparing quantities.
const epsilon = 1e-9

// TierAllocator splits successive line items of one grade across two price
// tiers. The first ThresholdQuantity units of the document bill at
// RateTier1; everything after bills at RateTier2.
type TierAllocator struct {
	cfg       types.SplitPricingConfig
	remaining float64
	newID     func() string
}

// NewTierAllocator starts a cumulative allocation with the full threshold
// available at tier 1.
func NewTierAllocator(cfg types.SplitPricingConfig, newID func() string) *TierAllocator {
	return &TierAllocator{
		cfg:       cfg,
		remaining: math.Max(0, cfg.ThresholdQuantity),
		newID:     newID,
	}
}

// Allocate prices item across the tiers, consuming tier-1 capacity first.
// It returns one or two items. The tier-1 part keeps item's description;
// the tier-2 part is labelled with Tier2Description.
func (a *TierAllocator) Allocate(item types.LineItem) []types.LineItem {
	rate1 := decimal.NewFromFloat(a.cfg.RateTier1)
	rate2 := decimal.NewFromFloat(a.cfg.RateTier2)

	take := math.Min(a.remaining, item.Quantity)
	overflow := item.Quantity - take
	a.remaining -= take

	var out []types.LineItem

	if take > epsilon {
		tier1 := item
		tier1.Quantity = take
		tier1.UnitPrice = rate1
		tier1.Recalculate()
		out = append(out, tier1)
	}

	if overflow > epsilon {
		tier2 := item
		if len(out) > 0 {
			tier2.ID = ""
			if a.newID != nil {
				tier2.ID = a.newID()
			}
		}
		tier2.Description = Tier2Description(item.Description, a.cfg.ThresholdQuantity)
		tier2.Quantity = overflow
		tier2.UnitPrice = rate2
		tier2.Recalculate()
		out = append(out, tier2)
	}

	return out
}

// Split prices a single quantity: at or below the threshold everything is
// tier 1, above it the threshold is tier 1 and the rest tier 2.
func Split(item types.LineItem, cfg types.SplitPricingConfig, newID func() string) []types.LineItem {
	return NewTierAllocator(cfg, newID).Allocate(item)
}

// Tier2Description labels the quantity billed above the threshold.
func Tier2Description(description string, threshold float64) string {
	return fmt.Sprintf("%s (above %s)", description, strconv.FormatFloat(threshold, 'f', -1, 64))
}
