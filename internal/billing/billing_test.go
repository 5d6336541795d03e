package billing

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ginjaninja78/ledger-reconciliation/internal/aggregate"
	"github.com/ginjaninja78/ledger-reconciliation/internal/store"
	"github.com/ginjaninja78/ledger-reconciliation/internal/types"
)

var fixedNow = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func testGenerator(p Pricing) *Generator {
	g := NewGenerator(p, nil)
	n := 0
	g.NewID = func() string {
		n++
		return fmt.Sprintf("00000000-0000-0000-0000-%012d", n)
	}
	g.Now = func() time.Time { return fixedNow }
	return g
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// accountsFake serves fixed accounts; missing IDs are ErrNotFound.
type accountsFake struct {
	accounts map[string]types.CounterpartyAccount
	err      error
}

func (f accountsFake) GetAccount(_ context.Context, id string) (types.CounterpartyAccount, error) {
	if f.err != nil {
		return types.CounterpartyAccount{}, f.err
	}
	acc, ok := f.accounts[id]
	if !ok {
		return types.CounterpartyAccount{}, store.ErrNotFound
	}
	return acc, nil
}

func rows(group string, specs ...interface{}) []aggregate.ClassifiedRow {
	var out []aggregate.ClassifiedRow
	for i := 0; i < len(specs); i += 2 {
		out = append(out, aggregate.ClassifiedRow{
			Index:    len(out) + 1,
			Group:    group,
			Labels:   []string{group},
			Grade:    specs[i].(types.Grade),
			Quantity: specs[i+1].(float64),
		})
	}
	return out
}

func TestGenerateChargesCumulativeOverage(t *testing.T) {
	g := testGenerator(Pricing{
		Rates:       map[types.Grade]decimal.Decimal{types.Grade10: dec("10"), types.Grade20: dec("12")},
		OverageRate: dec("25"),
	})
	agg := &aggregate.Aggregation{Rows: rows("Acme", types.Grade10, 150.0, types.Grade10, 50.0)}
	accounts := accountsFake{accounts: map[string]types.CounterpartyAccount{
		"acme": {ID: "acme", Name: "Acme Ltd", Total10: 300, Total20: 500, Version: 4},
	}}

	batch, err := g.Generate(context.Background(), agg, []Counterparty{{ID: "acme", Name: "Acme Ltd", Groups: []string{"Acme"}}}, accounts)
	require.NoError(t, err)
	require.Len(t, batch.Plans, 1)

	plan := batch.Plans[0]
	doc := plan.Document
	require.InDelta(t, 100, plan.Overage.ChargeableExcess, 1e-9)
	require.InDelta(t, 100, doc.ChargeableExcess, 1e-9)

	require.Len(t, doc.Items, 2)
	require.Equal(t, "10mm Aggregate", doc.Items[0].Description)
	require.InDelta(t, 100, doc.Items[0].Quantity, 1e-9)
	require.True(t, doc.Items[0].Amount.Equal(dec("1000")))
	require.Equal(t, "Excess 10mm (>40%)", doc.Items[1].Description)
	require.True(t, doc.Items[1].Amount.Equal(dec("2500")))

	require.True(t, doc.Subtotal.Equal(dec("3500")))
	require.True(t, doc.Tax.IsZero())
	require.True(t, doc.Total.Equal(doc.Subtotal))
	require.Equal(t, types.DocumentStatusDraft, doc.Status)
	require.Equal(t, 2, doc.TripCount10)
	require.Equal(t, "DRAFT-20260314-00000000", doc.Number)

	require.NotNil(t, plan.Update)
	require.Equal(t, 4, plan.Update.ExpectedVersion)
	require.Equal(t, 200.0, plan.Update.Added10)
	require.Equal(t, 300.0, plan.Update.Previous10)

	// The fetched history is untouched.
	require.Equal(t, 300.0, plan.History.Total10)
}

func TestGenerateSecondRunDoesNotRecharge(t *testing.T) {
	g := testGenerator(Pricing{
		Rates:       map[types.Grade]decimal.Decimal{types.Grade10: dec("10"), types.Grade20: dec("12")},
		OverageRate: dec("25"),
	})
	// History already contains the first run's 200 tons.
	accounts := accountsFake{accounts: map[string]types.CounterpartyAccount{
		"acme": {ID: "acme", Total10: 500, Total20: 500, Version: 5},
	}}
	agg := &aggregate.Aggregation{Rows: rows("Acme", types.Grade20, 40.0)}

	batch, err := g.Generate(context.Background(), agg, []Counterparty{{ID: "acme", Groups: []string{"Acme"}}}, accounts)
	require.NoError(t, err)
	require.Zero(t, batch.Plans[0].Document.ChargeableExcess)
	require.Len(t, batch.Plans[0].Document.Items, 1)
}

// recordingLogger keeps formatted warnings.
type recordingLogger struct {
	warnings []string
}

func (l *recordingLogger) Debug(string, ...interface{}) {}
func (l *recordingLogger) Info(string, ...interface{})  {}
func (l *recordingLogger) Error(string, ...interface{}) {}

func (l *recordingLogger) Warn(msg string, args ...interface{}) {
	l.warnings = append(l.warnings, fmt.Sprintf(msg, args...))
}

func TestGenerateWithoutOverageRateBillsExcessAtBaseRate(t *testing.T) {
	g := testGenerator(Pricing{
		Rates: map[types.Grade]decimal.Decimal{types.Grade10: dec("10"), types.Grade20: dec("12")},
	})
	log := &recordingLogger{}
	g.Logger = log
	agg := &aggregate.Aggregation{Rows: rows("Acme", types.Grade10, 200.0)}
	accounts := accountsFake{accounts: map[string]types.CounterpartyAccount{
		"acme": {ID: "acme", Total10: 300, Total20: 500, Version: 1},
	}}

	batch, err := g.Generate(context.Background(), agg, []Counterparty{{ID: "acme", Groups: []string{"Acme"}}}, accounts)
	require.NoError(t, err)

	plan := batch.Plans[0]
	require.InDelta(t, 100, plan.Overage.ChargeableExcess, 1e-9)
	require.Zero(t, plan.Document.ChargeableExcess)
	require.Len(t, plan.Document.Items, 1)
	require.True(t, plan.Document.Total.Equal(dec("2000")))

	require.Len(t, log.warnings, 1)
	require.Contains(t, log.warnings[0], "no overage_rate is set")
}

func TestGenerateSplitPricing(t *testing.T) {
	g := testGenerator(Pricing{
		Rates: map[types.Grade]decimal.Decimal{types.Grade10: dec("10")},
		SplitPricing: map[types.Grade]types.SplitPricingConfig{
			types.Grade10: {Enabled: true, ThresholdQuantity: 50, RateTier1: 10, RateTier2: 15},
		},
	})
	agg := &aggregate.Aggregation{Rows: rows("Beta", types.Grade10, 30.0, types.Grade10, 50.0)}

	batch, err := g.Generate(context.Background(), agg, []Counterparty{{ID: "beta", Groups: []string{"Beta"}}}, accountsFake{})
	require.NoError(t, err)

	doc := batch.Plans[0].Document
	require.Len(t, doc.Items, 2)
	require.InDelta(t, 50, doc.Items[0].Quantity, 1e-9)
	require.True(t, doc.Items[0].Amount.Equal(dec("500.00")))
	require.Equal(t, "10mm Aggregate (above 50)", doc.Items[1].Description)
	require.InDelta(t, 30, doc.Items[1].Quantity, 1e-9)
	require.True(t, doc.Items[1].Amount.Equal(dec("450.00")))
	require.True(t, doc.Total.Equal(dec("950")))

	// Fresh account.
	require.Equal(t, 0, batch.Plans[0].Update.ExpectedVersion)
}

func TestGenerateBillsEachRowOnce(t *testing.T) {
	g := testGenerator(Pricing{
		Rates: map[types.Grade]decimal.Decimal{types.Grade10: dec("10")},
	})
	agg := &aggregate.Aggregation{Rows: rows("Matched", types.Grade10, 100.0)}
	counterparties := []Counterparty{
		{ID: "acme", Groups: []string{"Matched"}},
		{ID: "beta", Groups: []string{"Matched"}},
	}

	batch, err := g.Generate(context.Background(), agg, counterparties, accountsFake{})
	require.NoError(t, err)
	require.Len(t, batch.Plans, 1)
	require.Equal(t, "acme", batch.Plans[0].Document.CounterpartyID)

	updates := batch.Updates()
	require.Len(t, updates, 1)
	require.Equal(t, "acme", updates[0].AccountID)
	require.Equal(t, 100.0, updates[0].Added10)
}

func TestGenerateSkipsUnmatchedAndProposesNoUpdateForOther(t *testing.T) {
	g := testGenerator(Pricing{Rates: map[types.Grade]decimal.Decimal{types.GradeOther: dec("3")}})
	agg := &aggregate.Aggregation{Rows: rows("Gamma", types.GradeOther, 9.0)}

	batch, err := g.Generate(context.Background(), agg, []Counterparty{
		{ID: "gamma", Groups: []string{"Gamma"}},
		{ID: "delta", Groups: []string{"Delta"}},
	}, accountsFake{})
	require.NoError(t, err)
	require.Len(t, batch.Plans, 1)
	require.Nil(t, batch.Plans[0].Update)
	require.Empty(t, batch.Updates())
	require.Len(t, batch.Documents(), 1)
}

func TestGenerateRecordsUnreadableHistory(t *testing.T) {
	g := testGenerator(Pricing{})
	agg := &aggregate.Aggregation{Rows: rows("Acme", types.Grade10, 1.0)}

	batch, err := g.Generate(context.Background(), agg, []Counterparty{{ID: "acme", Groups: []string{"Acme"}}},
		accountsFake{err: errors.New("connection refused")})
	require.NoError(t, err)
	require.Empty(t, batch.Plans)
	require.Len(t, batch.Failures, 1)
	require.Equal(t, OpReadAccount, batch.Failures[0].Op)
}

func TestMergeItems(t *testing.T) {
	items := MergeItems([]types.LineItem{
		{ID: "a", Description: "20mm", Quantity: 1.5, UnitPrice: dec("12")},
		{ID: "b", Description: "10mm", Quantity: 2, UnitPrice: dec("10")},
		{ID: "c", Description: "20mm", Quantity: 2.5, UnitPrice: dec("12.00")},
		{ID: "d", Description: "20mm", Quantity: 1, UnitPrice: dec("13")},
	})
	require.Len(t, items, 3)
	require.Equal(t, "a", items[0].ID)
	require.Equal(t, 4.0, items[0].Quantity)
	require.True(t, items[0].Amount.Equal(dec("48")))
}

// =============================================================================
// PERSISTENCE
// =============================================================================

// flakyStore wraps a real store and fails selected calls.
type flakyStore struct {
	store.RecordStore
	failDocs     map[string]int
	docCalls     int
	failAccounts error
}

func (f *flakyStore) SaveDocument(ctx context.Context, doc types.BillingDocument) (string, error) {
	f.docCalls++
	if f.failDocs[doc.CounterpartyID] > 0 {
		f.failDocs[doc.CounterpartyID]--
		return "", errors.New("disk full")
	}
	return f.RecordStore.SaveDocument(ctx, doc)
}

func (f *flakyStore) SaveAccount(ctx context.Context, acc types.CounterpartyAccount) (types.CounterpartyAccount, error) {
	if f.failAccounts != nil {
		return types.CounterpartyAccount{}, f.failAccounts
	}
	return f.RecordStore.SaveAccount(ctx, acc)
}

func generateFor(t *testing.T, accounts AccountReader, ids ...string) *Batch {
	t.Helper()
	g := testGenerator(Pricing{Rates: map[types.Grade]decimal.Decimal{types.Grade10: dec("10"), types.Grade20: dec("10")}})
	var all []aggregate.ClassifiedRow
	var cps []Counterparty
	for _, id := range ids {
		all = append(all, rows(id, types.Grade20, 10.0, types.Grade10, 2.0)...)
		cps = append(cps, Counterparty{ID: id, Name: id, Groups: []string{id}})
	}
	for i := range all {
		all[i].Index = i
	}
	batch, err := g.Generate(context.Background(), &aggregate.Aggregation{Rows: all}, cps, accounts)
	require.NoError(t, err)
	return batch
}

func newJSONStore(t *testing.T) store.RecordStore {
	t.Helper()
	s, err := store.OpenJSON(filepath.Join(t.TempDir(), "records.json"))
	require.NoError(t, err)
	return s
}

func TestPersistContinuesAfterFailure(t *testing.T) {
	base := newJSONStore(t)
	fs := &flakyStore{RecordStore: base, failDocs: map[string]int{"acme": 5}}
	batch := generateFor(t, base, "acme", "beta")

	p := NewPersister(fs, 2, nil)
	p.Backoff = 0
	out := p.Persist(context.Background(), batch)

	require.Equal(t, 1, out.SuccessCount)
	require.Equal(t, 1, out.FailCount)
	require.Equal(t, OpSaveDocument, out.Failures[0].Op)
	require.Equal(t, 2, out.Failures[0].Attempts)
	require.Equal(t, 3, fs.docCalls)

	// The failed counterparty's account was not touched.
	_, err := base.GetAccount(context.Background(), "acme")
	require.ErrorIs(t, err, store.ErrNotFound)

	beta, err := base.GetAccount(context.Background(), "beta")
	require.NoError(t, err)
	require.Equal(t, 2.0, beta.Total10)
	require.Equal(t, 10.0, beta.Total20)
	require.Equal(t, 1, beta.Version)
	require.Equal(t, beta, out.Saved["beta"])
}

func TestPersistRetriesTransientErrors(t *testing.T) {
	base := newJSONStore(t)
	fs := &flakyStore{RecordStore: base, failDocs: map[string]int{"acme": 1}}
	batch := generateFor(t, base, "acme")

	p := NewPersister(fs, 3, nil)
	p.Backoff = 0
	out := p.Persist(context.Background(), batch)
	require.Equal(t, 1, out.SuccessCount)
	require.Zero(t, out.FailCount)

	docs, err := base.ListDocuments(context.Background(), "acme")
	require.NoError(t, err)
	require.Len(t, docs, 1)
}

func TestPersistDoesNotRetryVersionConflicts(t *testing.T) {
	base := newJSONStore(t)
	fs := &flakyStore{RecordStore: base, failAccounts: fmt.Errorf("acme: %w", store.ErrVersionConflict)}
	batch := generateFor(t, base, "acme")

	p := NewPersister(fs, 5, nil)
	p.Backoff = 0
	out := p.Persist(context.Background(), batch)
	require.Equal(t, 1, out.FailCount)
	require.Equal(t, OpSaveAccount, out.Failures[0].Op)
	require.Equal(t, 1, out.Failures[0].Attempts)
	require.ErrorIs(t, out.Failures[0], store.ErrVersionConflict)
}

func TestPersistCountsReadFailures(t *testing.T) {
	batch := &Batch{Failures: []*PersistenceError{{CounterpartyID: "x", Op: OpReadAccount, Err: errors.New("boom")}}}
	out := NewPersister(newJSONStore(t), 1, nil).Persist(context.Background(), batch)
	require.Equal(t, 1, out.FailCount)
	require.Zero(t, out.SuccessCount)
	require.Contains(t, out.Failures[0].Error(), "counterparty x: read account: boom")
}
