// =============================================================================
// Ledger Reconciliation - Billing Generator
// =============================================================================
//
// This module turns aggregated deliveries into draft billing documents, one
// per counterparty, and proposes the account updates that record the new
// deliveries in the counterparty's cumulative history.
//
// DOCUMENT BUILD ORDER:
//   1. One line item per matched row: grade description at the grade rate.
//   2. Items with the same (description, unit price) are merged.
//   3. The cumulative 40% overage is computed from the account history and
//      the batch, and the chargeable excess is moved from 10mm items into
//      an "Excess 10mm (>40%)" item at the overage rate.
//   4. Grades with split pricing are re-priced cumulatively across the
//      document's items (tier 1 up to the threshold, tier 2 after).
//   5. Subtotal = sum of amounts, Tax = 0, Total = Subtotal, status draft.
//
// The account fetched from the store is never modified; the generator
// returns an AccountUpdate carrying the version that was read.
//
// =============================================================================

package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ginjaninja78/ledger-reconciliation/internal/aggregate"
	"github.com/ginjaninja78/ledger-reconciliation/internal/logger"
	"github.com/ginjaninja78/ledger-reconciliation/internal/pricing"
	"github.com/ginjaninja78/ledger-reconciliation/internal/store"
	"github.com/ginjaninja78/ledger-reconciliation/internal/types"
)

// DefaultNumberPrefix starts every document number.
const DefaultNumberPrefix = "DRAFT"

// DefaultDescriptions are used for grades without a configured description.
var DefaultDescriptions = map[types.Grade]string{
	types.Grade10:    "10mm Aggregate",
	types.Grade20:    "20mm Aggregate",
	types.GradeOther: "Other Material",
}

// =============================================================================
// INPUTS
// =============================================================================

// Pricing holds the rates a document is priced with.
type Pricing struct {
	// Rates is the base unit price per grade.
	Rates map[types.Grade]decimal.Decimal

	// Descriptions overrides DefaultDescriptions per grade.
	Descriptions map[types.Grade]string

	// SplitPricing enables tiered pricing per grade.
	SplitPricing map[types.Grade]types.SplitPricingConfig

	// OverageRate prices the 10mm excess. Zero disables the overage charge.
	OverageRate decimal.Decimal
}

// Description returns the line item description for grade.
func (p Pricing) Description(grade types.Grade) string {
	if d, ok := p.Descriptions[grade]; ok && d != "" {
		return d
	}
	return DefaultDescriptions[grade]
}

// Counterparty assigns one or more match groups to a billable account.
type Counterparty struct {
	ID     string
	Name   string
	Groups []string
}

// AccountReader is the part of the record store the generator needs.
type AccountReader interface {
	GetAccount(ctx context.Context, id string) (types.CounterpartyAccount, error)
}

// =============================================================================
// OUTPUTS
// =============================================================================

// Plan is the billing outcome for one counterparty.
type Plan struct {
	Document types.BillingDocument

	// Update is nil when the batch added no 10mm or 20mm quantity.
	Update *types.AccountUpdate

	// History is the account as read at the start of the run.
	History types.CounterpartyAccount

	Overage pricing.OverageResult

	// Added10 and Added20 are the batch quantities per grade.
	Added10 float64
	Added20 float64
}

// Batch is the set of plans produced by one run.
type Batch struct {
	Plans []Plan

	// Failures lists counterparties that could not be billed because their
	// history could not be read.
	Failures []*PersistenceError
}

// Documents returns every planned document.
func (b *Batch) Documents() []types.BillingDocument {
	out := make([]types.BillingDocument, 0, len(b.Plans))
	for _, p := range b.Plans {
		out = append(out, p.Document)
	}
	return out
}

// Updates returns every proposed account update.
func (b *Batch) Updates() []types.AccountUpdate {
	var out []types.AccountUpdate
	for _, p := range b.Plans {
		if p.Update != nil {
			out = append(out, *p.Update)
		}
	}
	return out
}

// =============================================================================
// GENERATOR
// =============================================================================

// Generator builds billing documents.
type Generator struct {
	Pricing      Pricing
	NumberPrefix string
	Logger       logger.Logger

	// NewID and Now are replaceable for tests.
	NewID func() string
	Now   func() time.Time
}

// NewGenerator returns a Generator with uuid IDs and the wall clock.
func NewGenerator(p Pricing, log logger.Logger) *Generator {
	if log == nil {
		log = logger.Nop()
	}
	return &Generator{
		Pricing:      p,
		NumberPrefix: DefaultNumberPrefix,
		Logger:       log,
		NewID:        uuid.NewString,
		Now:          func() time.Time { return time.Now().UTC() },
	}
}

// Generate builds one document per counterparty that has matched rows.
// A ledger row is billed to at most one counterparty: when two
// counterparties list the same group, the first one in order keeps its rows.
func (g *Generator) Generate(ctx context.Context, agg *aggregate.Aggregation, counterparties []Counterparty, accounts AccountReader) (*Batch, error) {
	batch := &Batch{}
	now := g.Now()
	seen := make(map[string]bool)
	claimed := make(map[int]string)

	for _, cp := range counterparties {
		if err := ctx.Err(); err != nil {
			return batch, err
		}
		if cp.ID == "" || seen[cp.ID] {
			continue
		}
		seen[cp.ID] = true

		rows := g.claim(rowsFor(agg, cp.Groups), claimed, cp.ID)
		if len(rows) == 0 {
			g.Logger.Debug("counterparty %s: no matched rows", cp.ID)
			continue
		}

		history, err := accounts.GetAccount(ctx, cp.ID)
		if errors.Is(err, store.ErrNotFound) {
			history = types.CounterpartyAccount{ID: cp.ID, Name: cp.Name}
		} else if err != nil {
			g.Logger.Error("counterparty %s: failed to read account: %v", cp.ID, err)
			batch.Failures = append(batch.Failures, &PersistenceError{
				CounterpartyID: cp.ID,
				Op:             OpReadAccount,
				Err:            err,
			})
			continue
		}

		plan := g.plan(cp, rows, history, now)
		if len(plan.Document.Items) == 0 {
			g.Logger.Warn("counterparty %s: matched rows carry no billable quantity; no document", cp.ID)
			continue
		}
		batch.Plans = append(batch.Plans, plan)
	}
	return batch, nil
}

func (g *Generator) plan(cp Counterparty, rows []aggregate.ClassifiedRow, history types.CounterpartyAccount, now time.Time) Plan {
	var c10, c20 float64
	var trips10, trips20 int
	items := make([]types.LineItem, 0, len(rows))

	for _, row := range rows {
		switch row.Grade {
		case types.Grade10:
			c10 += row.Quantity
			trips10++
		case types.Grade20:
			c20 += row.Quantity
			trips20++
		}
		if row.Quantity <= 0 {
			continue
		}
		item := types.LineItem{
			ID:          g.NewID(),
			Description: g.Pricing.Description(row.Grade),
			Quantity:    row.Quantity,
			UnitPrice:   g.Pricing.Rates[row.Grade],
			Grade:       row.Grade,
		}
		item.Recalculate()
		items = append(items, item)
	}

	items = MergeItems(items)

	overage := pricing.Overage(history.Total10, history.Total20, c10, c20)
	var moved float64
	switch {
	case overage.ChargeableExcess <= 0:
	case g.Pricing.OverageRate.IsPositive():
		items, moved = pricing.DeductExcess(items, types.Grade10, overage.ChargeableExcess, g.Pricing.OverageRate, g.NewID)
		g.Logger.Info("counterparty %s: charging %.3f excess 10mm (cumulative %.3f, already billed %.3f)",
			cp.ID, moved, overage.CumulativeExcess, overage.HistoricalExcess)
	default:
		g.Logger.Warn("counterparty %s: %.3f 10mm over the 40%% cap billed at the 10mm rate; no overage_rate is set",
			cp.ID, overage.ChargeableExcess)
	}

	for _, grade := range types.Grades {
		cfg, ok := g.Pricing.SplitPricing[grade]
		if !ok || !cfg.Enabled {
			continue
		}
		items = ApplyTiers(items, grade, cfg, g.NewID)
	}

	doc := types.BillingDocument{
		ID:               g.NewID(),
		CounterpartyID:   cp.ID,
		CounterpartyName: cp.Name,
		GroupLabel:       strings.Join(cp.Groups, ", "),
		Items:            items,
		Status:           types.DocumentStatusDraft,
		ChargeableExcess: moved,
		TripCount10:      trips10,
		TripCount20:      trips20,
		CreatedAt:        now,
	}
	doc.Number = g.documentNumber(doc.ID, now)
	Totals(&doc)

	plan := Plan{
		Document: doc,
		History:  history,
		Overage:  overage,
		Added10:  c10,
		Added20:  c20,
	}
	if c10+c20 > 0 {
		name := cp.Name
		if name == "" {
			name = history.Name
		}
		plan.Update = &types.AccountUpdate{
			AccountID:       cp.ID,
			AccountName:     name,
			Previous10:      history.Total10,
			Previous20:      history.Total20,
			Added10:         c10,
			Added20:         c20,
			ExpectedVersion: history.Version,
		}
	}
	return plan
}

func (g *Generator) documentNumber(id string, now time.Time) string {
	prefix := g.NumberPrefix
	if prefix == "" {
		prefix = DefaultNumberPrefix
	}
	suffix := strings.ReplaceAll(id, "-", "")
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	return fmt.Sprintf("%s-%s-%s", prefix, now.Format("20060102"), strings.ToUpper(suffix))
}

// claim drops rows already billed to another counterparty and records the
// rest as billed to id.
func (g *Generator) claim(rows []aggregate.ClassifiedRow, claimed map[int]string, id string) []aggregate.ClassifiedRow {
	out := rows[:0:0]
	for _, r := range rows {
		if owner, ok := claimed[r.Index]; ok && owner != id {
			g.Logger.Error("counterparty %s: row %d of group %q is already billed to %s; skipped", id, r.Index+1, r.Group, owner)
			continue
		}
		claimed[r.Index] = id
		out = append(out, r)
	}
	return out
}

// rowsFor collects the classified rows of every group, in ledger order.
func rowsFor(agg *aggregate.Aggregation, groups []string) []aggregate.ClassifiedRow {
	want := make(map[string]bool, len(groups))
	for _, g := range groups {
		want[g] = true
	}
	var out []aggregate.ClassifiedRow
	for _, r := range agg.Rows {
		if want[r.Group] {
			out = append(out, r)
		}
	}
	return out
}

// =============================================================================
// ITEM HELPERS
// =============================================================================

// MergeItems combines items with identical description and unit price,
// keeping the first occurrence's ID and position.
func MergeItems(items []types.LineItem) []types.LineItem {
	type mergeKey struct {
		desc  string
		price string
	}
	index := make(map[mergeKey]int)
	out := make([]types.LineItem, 0, len(items))

	for _, item := range items {
		k := mergeKey{item.Description, item.UnitPrice.String()}
		if i, ok := index[k]; ok {
			out[i].Quantity += item.Quantity
			out[i].Recalculate()
			continue
		}
		index[k] = len(out)
		item.Recalculate()
		out = append(out, item)
	}
	return out
}

// ApplyTiers re-prices the grade's items with a cumulative tier allocator.
// The overage item is left at its own rate.
func ApplyTiers(items []types.LineItem, grade types.Grade, cfg types.SplitPricingConfig, newID func() string) []types.LineItem {
	alloc := pricing.NewTierAllocator(cfg, newID)
	excessDesc := pricing.ExcessDescription(grade)
	out := make([]types.LineItem, 0, len(items)+1)

	for _, item := range items {
		if item.Grade != grade || item.Description == excessDesc {
			out = append(out, item)
			continue
		}
		out = append(out, alloc.Allocate(item)...)
	}
	return MergeItems(out)
}

// Totals sets Subtotal, Tax and Total from the document's items.
func Totals(doc *types.BillingDocument) {
	subtotal := decimal.Zero
	for _, item := range doc.Items {
		subtotal = subtotal.Add(item.Amount)
	}
	doc.Subtotal = subtotal
	doc.Tax = decimal.Zero
	doc.Total = subtotal.Add(doc.Tax)
}
