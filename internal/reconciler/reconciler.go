// =============================================================================
// Ledger Reconciliation - Reconciler Module
// =============================================================================
//
// This module contains the run pipeline. It orchestrates one reconciliation
// job, from reading the spreadsheets to persisting draft billing documents.
//
// RECONCILIATION PIPELINE:
//   1. Resolve the ledger and counterparty columns from their header rows
//   2. Read the ledger rows (an unreadable ledger aborts the run)
//   3. Read each counterparty file (an unreadable file is skipped)
//   4. Match the ledger against every counterparty file
//   5. Write the result column back into the ledger
//   6. Aggregate matched quantities per group and grade
//   7. Generate draft billing documents against account history
//   8. Persist documents and account updates
//   9. Write reports (warnings, summary, unmatched rows, XML export)
//
// Steps 5 and 8 are skipped on a dry run; step 5 also with NoWrite.
//
// =============================================================================

package reconciler

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ginjaninja78/ledger-reconciliation/internal/aggregate"
	"github.com/ginjaninja78/ledger-reconciliation/internal/billing"
	"github.com/ginjaninja78/ledger-reconciliation/internal/config"
	"github.com/ginjaninja78/ledger-reconciliation/internal/keys"
	"github.com/ginjaninja78/ledger-reconciliation/internal/logger"
	"github.com/ginjaninja78/ledger-reconciliation/internal/matcher"
	"github.com/ginjaninja78/ledger-reconciliation/internal/sheet"
	"github.com/ginjaninja78/ledger-reconciliation/internal/store"
	"github.com/ginjaninja78/ledger-reconciliation/internal/types"
)

// Sheets is the spreadsheet capability the pipeline needs.
type Sheets interface {
	ListSheets(ctx context.Context, path string) ([]string, error)
	ReadRows(ctx context.Context, path, sheetName string, rng types.RowRange, opts sheet.Options) ([]types.Row, error)
	ReadHeader(ctx context.Context, path, sheetName string, headerRow int, opts sheet.Options) ([]string, error)
	WriteResultColumn(ctx context.Context, rc sheet.ResultColumn) (string, error)
}

// =============================================================================
// RESULT STRUCTURE
// =============================================================================

// Result represents the outcome of one reconciliation run.
type Result struct {
	Job        string
	LedgerFile string
	DryRun     bool

	StartTime time.Time
	EndTime   time.Time

	// Matching statistics cover keyed ledger rows only.
	MatchedCount    int
	UnmatchedCount  int
	TotalCount      int
	MatchPercentage float64
	PerFileStats    []matcher.FileStats

	// Warnings are every advisory diagnostic of the run in pipeline order.
	Warnings []types.ValidationWarning

	GroupTotals  map[string]types.GradeTotals
	GroupOrder   []string
	GlobalTotals types.GradeTotals

	UnmatchedRows []matcher.UnmatchedRow

	Documents      []types.BillingDocument
	AccountUpdates []types.AccountUpdate
	Plans          []billing.Plan

	Persist billing.Outcome

	// ResultFile is where the result column was saved; empty when the
	// write-back was skipped.
	ResultFile string

	// Reports lists the side files written to the output directory.
	Reports []string
}

// =============================================================================
// RECONCILER STRUCTURE
// =============================================================================

// Options controls what a run writes.
type Options struct {
	// DryRun matches, aggregates and bills without writing the result
	// column or persisting anything.
	DryRun bool

	// NoWrite skips the result column write-back only.
	NoWrite bool

	// OutputDir receives reports. Empty disables reports.
	OutputDir string

	// FileNameFormat names report files. See utils.GenerateOutputFileName.
	FileNameFormat string

	// PersistAttempts is the number of tries per store save.
	PersistAttempts int
}

// Reconciler runs reconciliation jobs.
type Reconciler struct {
	Sheets  Sheets
	Store   store.RecordStore
	Logger  logger.Logger
	Options Options

	// Now and NewID are replaceable for tests.
	Now   func() time.Time
	NewID func() string
}

// New creates a Reconciler. The store may be nil for dry runs, in which
// case every account is treated as fresh.
func New(sheets Sheets, st store.RecordStore, log logger.Logger, opts Options) *Reconciler {
	if log == nil {
		log = logger.Nop()
	}
	return &Reconciler{
		Sheets:  sheets,
		Store:   st,
		Logger:  log,
		Options: opts,
		Now:     func() time.Time { return time.Now().UTC() },
	}
}

// =============================================================================
// MAIN PROCESSING FUNCTION
// =============================================================================

// Run executes the reconciliation pipeline for job.
//
// RETURNS:
//   - The Result of the run.
//   - A *config.ConfigError or a ledger *sheet.FileAccessError when the run
//     could not start; any other failure is reported inside the Result.
func (r *Reconciler) Run(ctx context.Context, job *config.JobConfig) (*Result, error) {
	if r.Store == nil && !r.Options.DryRun {
		return nil, errors.New("a record store is required unless running dry")
	}

	result := &Result{
		Job:        job.Name,
		LedgerFile: job.Ledger.Path,
		DryRun:     r.Options.DryRun,
		StartTime:  r.Now(),
	}

	r.Logger.Info("Reconciling job %s (ledger %s, %d counterparty files)", job.Name, job.Ledger.Path, len(job.CounterpartyFiles))

	// =========================================================================
	// STEP 1: RESOLVE COLUMNS
	// =========================================================================

	layout, err := ResolveLayout(ctx, r.Sheets, job)
	if err != nil {
		return nil, err
	}
	ll := layout.Ledger
	r.Logger.Debug("Ledger columns: ids %v, result %d, description %d, quantity %d",
		ll.IDColumns, ll.ResultColumn, ll.DescriptionColumn, ll.QuantityColumn)

	// =========================================================================
	// STEP 2: READ LEDGER
	// =========================================================================

	ledgerOpts := sheet.Options{Encoding: job.Ledger.Encoding, Delimiter: job.Ledger.Delimiter}
	ledgerRows, err := r.Sheets.ReadRows(ctx, job.Ledger.Path, job.Ledger.Sheet, job.Ledger.RowRange, ledgerOpts)
	if err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}
	r.Logger.Debug("Read %d ledger rows", len(ledgerRows))

	// =========================================================================
	// STEP 3: READ COUNTERPARTY FILES
	// =========================================================================

	files, skipped := r.readCounterpartyFiles(ctx, layout.Files)
	result.Warnings = append(result.Warnings, skipped...)

	// =========================================================================
	// STEP 4: MATCH
	// =========================================================================

	ledgerName := filepath.Base(job.Ledger.Path)
	match := matcher.Match(
		matcher.Ledger{SourceFile: ledgerName, Rows: ledgerRows, IDColumns: ll.IDColumns},
		files,
		matcher.Options{NoMatchText: job.NoMatch(), Junk: job.Junk()},
	)
	result.MatchedCount = match.MatchedCount
	result.UnmatchedCount = match.UnmatchedCount
	result.TotalCount = match.TotalCount
	result.MatchPercentage = match.MatchPercentage
	result.PerFileStats = match.FileStats
	result.UnmatchedRows = match.UnmatchedRows
	result.Warnings = append(result.Warnings, match.Warnings...)

	r.Logger.Info("Matched %d of %d ledger rows (%.2f%%)", match.MatchedCount, match.TotalCount, match.MatchPercentage)

	// =========================================================================
	// STEP 5: WRITE RESULT COLUMN
	// =========================================================================

	if !r.Options.DryRun && !r.Options.NoWrite {
		out, err := r.writeResults(ctx, job, ll, match)
		if err != nil {
			return nil, err
		}
		result.ResultFile = out
		r.Logger.Info("Wrote results to %s", out)
	}

	// =========================================================================
	// STEP 6: AGGREGATE
	// =========================================================================

	agg := aggregate.Aggregate(ledgerRows, match, aggregate.Options{
		SourceFile:        ledgerName,
		DescriptionColumn: ll.DescriptionColumn,
		QuantityColumn:    ll.QuantityColumn,
		ExcludeColumns:    []int{ll.ResultColumn},
		Logger:            r.Logger,
	})
	result.GroupTotals = agg.Groups
	result.GroupOrder = agg.GroupOrder
	result.GlobalTotals = agg.Global
	result.Warnings = append(result.Warnings, agg.Warnings...)

	// =========================================================================
	// STEP 7: GENERATE DOCUMENTS
	// =========================================================================

	pricing, err := buildPricing(job.Pricing)
	if err != nil {
		return nil, withFile(err, job)
	}
	gen := billing.NewGenerator(pricing, r.Logger)
	if job.Pricing.NumberPrefix != "" {
		gen.NumberPrefix = job.Pricing.NumberPrefix
	}
	gen.Now = r.Now
	if r.NewID != nil {
		gen.NewID = r.NewID
	}

	var accounts billing.AccountReader = freshAccounts{}
	if r.Store != nil {
		accounts = r.Store
	}
	batch, err := gen.Generate(ctx, agg, Counterparties(job), accounts)
	if err != nil {
		return nil, err
	}
	result.Plans = batch.Plans
	result.Documents = batch.Documents()
	result.AccountUpdates = batch.Updates()

	// =========================================================================
	// STEP 8: PERSIST
	// =========================================================================

	if r.Options.DryRun {
		result.Persist = billing.Outcome{FailCount: len(batch.Failures), Failures: batch.Failures}
		r.Logger.Info("Dry run: %d documents not persisted", len(result.Documents))
	} else {
		persister := billing.NewPersister(r.Store, r.Options.PersistAttempts, r.Logger)
		persister.Now = r.Now
		result.Persist = persister.Persist(ctx, batch)
		r.Logger.Info("Persisted %d counterparties, %d failed", result.Persist.SuccessCount, result.Persist.FailCount)
	}

	// =========================================================================
	// STEP 9: REPORTS
	// =========================================================================

	result.EndTime = r.Now()
	if r.Options.OutputDir != "" {
		result.Reports = r.writeReports(job, result)
	}
	result.EndTime = r.Now()

	return result, nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// readCounterpartyFiles reads every readable counterparty file. Files that
// cannot be read are skipped with a file_skipped warning.
func (r *Reconciler) readCounterpartyFiles(ctx context.Context, layouts []FileLayout) ([]matcher.CounterpartyFile, []types.ValidationWarning) {
	var files []matcher.CounterpartyFile
	var warnings []types.ValidationWarning

	skip := func(path string, err error) {
		r.Logger.Warn("Skipping %s: %v", path, err)
		warnings = append(warnings, types.ValidationWarning{
			Kind:       types.WarnFileSkipped,
			SourceFile: filepath.Base(path),
			Message:    err.Error(),
		})
	}

	for _, fl := range layouts {
		cfg := fl.Config
		if fl.Err != nil {
			skip(cfg.Path, fl.Err)
			continue
		}

		rows, err := r.Sheets.ReadRows(ctx, cfg.Path, cfg.Sheet, cfg.RowRange, sheet.Options{Encoding: cfg.Encoding, Delimiter: cfg.Delimiter})
		if err != nil {
			skip(cfg.Path, err)
			continue
		}

		var transformer *keys.Transformer
		if len(cfg.KeyTransforms) > 0 {
			// Validated when the job was loaded.
			transformer, err = keys.NewTransformer(cfg.KeyTransforms)
			if err != nil {
				skip(cfg.Path, err)
				continue
			}
		}

		r.Logger.Debug("Read %d rows from %s", len(rows), cfg.Path)
		files = append(files, matcher.CounterpartyFile{
			SourceFile:  filepath.Base(cfg.Path),
			Rows:        rows,
			IDColumns:   fl.IDColumns,
			Label:       cfg.Label,
			Transformer: transformer,
		})
	}
	return files, warnings
}

// writeResults writes the match result text into the ledger's result column.
func (r *Reconciler) writeResults(ctx context.Context, job *config.JobConfig, ll LedgerLayout, match *matcher.Result) (string, error) {
	header := ""
	headerRow := config.HeaderRowOf(job.Ledger.HeaderRow)
	if headerRow > 0 && (ll.NewResultColumn || ll.ResultColumn >= len(ll.Headers) || ll.Headers[ll.ResultColumn] == "") {
		header = job.Output.ResultHeader
	}

	out, err := r.Sheets.WriteResultColumn(ctx, sheet.ResultColumn{
		Path:      job.Ledger.Path,
		Sheet:     job.Ledger.Sheet,
		Column:    ll.ResultColumn,
		HeaderRow: headerRow,
		Header:    header,
		Values:    match.Values,
		OutPath:   job.Output.ResultOutputPath,
		Options:   sheet.Options{Encoding: job.Ledger.Encoding, Delimiter: job.Ledger.Delimiter},
	})
	if err != nil {
		return "", fmt.Errorf("ledger: %w", err)
	}
	return out, nil
}

// Counterparties groups the job's counterparty files by counterparty ID.
// Files without an ID are matched but never billed.
func Counterparties(job *config.JobConfig) []billing.Counterparty {
	index := make(map[string]int)
	var out []billing.Counterparty
	for _, f := range job.CounterpartyFiles {
		if f.CounterpartyID == "" {
			continue
		}
		i, ok := index[f.CounterpartyID]
		if !ok {
			i = len(out)
			index[f.CounterpartyID] = i
			out = append(out, billing.Counterparty{ID: f.CounterpartyID})
		}
		if out[i].Name == "" {
			out[i].Name = f.CounterpartyName
		}
		out[i].Groups = appendUnique(out[i].Groups, f.Label)
	}
	return out
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}

// buildPricing converts the job's pricing section.
func buildPricing(pc config.PricingConfig) (billing.Pricing, error) {
	p := billing.Pricing{
		Rates:        make(map[types.Grade]decimal.Decimal, len(pc.Rates)),
		Descriptions: make(map[types.Grade]string, len(pc.Descriptions)),
		SplitPricing: make(map[types.Grade]types.SplitPricingConfig, len(pc.SplitPricing)),
		OverageRate:  decimal.NewFromFloat(pc.OverageRate),
	}
	for name, rate := range pc.Rates {
		g, err := config.ParseGrade(name)
		if err != nil {
			return p, err
		}
		p.Rates[g] = decimal.NewFromFloat(rate)
	}
	for name, desc := range pc.Descriptions {
		g, err := config.ParseGrade(name)
		if err != nil {
			return p, err
		}
		p.Descriptions[g] = desc
	}
	for name, cfg := range pc.SplitPricing {
		g, err := config.ParseGrade(name)
		if err != nil {
			return p, err
		}
		p.SplitPricing[g] = cfg
	}
	return p, nil
}

// freshAccounts is the account history of a run without a store.
type freshAccounts struct{}

func (freshAccounts) GetAccount(context.Context, string) (types.CounterpartyAccount, error) {
	return types.CounterpartyAccount{}, store.ErrNotFound
}
