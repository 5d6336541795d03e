package reconciler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/ginjaninja78/ledger-reconciliation/internal/config"
	"github.com/ginjaninja78/ledger-reconciliation/internal/sheet"
	"github.com/ginjaninja78/ledger-reconciliation/internal/store"
	"github.com/ginjaninja78/ledger-reconciliation/internal/types"
)

func writeXLSX(t *testing.T, path string, rows [][]interface{}) {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		r := row
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &r))
	}
	require.NoError(t, f.SaveAs(path))
}

func readColumn(t *testing.T, path string, col int) []string {
	t.Helper()
	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(f.GetSheetName(0))
	require.NoError(t, err)
	var out []string
	for _, r := range rows {
		if col < len(r) {
			out = append(out, r[col])
		} else {
			out = append(out, "")
		}
	}
	return out
}

const jobYAML = `
name: weekly
ledger:
  path: ledger.xlsx
counterparty_files:
  - path: acme.xlsx
    label: Acme
    counterparty_id: acme
    counterparty_name: Acme Ltd
  - path: beta.xlsx
    label: Beta
pricing:
  rates: {10mm: 10, 20mm: 12}
`

// fixture writes the Scenario A files: ledger 1,2,3; Acme has 1,2; Beta
// has 2,3.
func fixture(t *testing.T) (string, *config.JobConfig) {
	t.Helper()
	dir := t.TempDir()

	writeXLSX(t, filepath.Join(dir, "ledger.xlsx"), [][]interface{}{
		{"Ticket No", "Material", "Net Weight", "Match"},
		{"1000000001", "10mm Aggregate", 200},
		{"1000000002", "20mm Aggregate", 300},
		{"1000000003", "20mm", 500},
	})
	writeXLSX(t, filepath.Join(dir, "acme.xlsx"), [][]interface{}{
		{"Docket", "Weight"},
		{"1000000001", 200},
		{"1000000002", 300},
		{"9999999999", 10},
		{"Total", 510},
	})
	writeXLSX(t, filepath.Join(dir, "beta.xlsx"), [][]interface{}{
		{"Ticket Number"},
		{"1000000002"},
		{"1000000003"},
	})

	jobPath := filepath.Join(dir, "weekly.yaml")
	require.NoError(t, os.WriteFile(jobPath, []byte(jobYAML), 0644))
	job, err := config.LoadJob(jobPath)
	require.NoError(t, err)
	return dir, job
}

func fixedClock() func() time.Time {
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	return func() time.Time { return now }
}

func TestRunEndToEnd(t *testing.T) {
	dir, job := fixture(t)
	ctx := context.Background()

	st, err := store.OpenJSON(filepath.Join(dir, "records.json"))
	require.NoError(t, err)
	defer st.Close()

	out := filepath.Join(dir, "out")
	rec := New(sheet.New(), st, nil, Options{OutputDir: out, FileNameFormat: "{job}_{type}", PersistAttempts: 2})
	rec.Now = fixedClock()

	result, err := rec.Run(ctx, job)
	require.NoError(t, err)

	require.Equal(t, 3, result.MatchedCount)
	require.Equal(t, 3, result.TotalCount)
	require.Equal(t, 100.0, result.MatchPercentage)

	require.Len(t, result.PerFileStats, 2)
	require.Equal(t, 3, result.PerFileStats[0].Total)
	require.Equal(t, 2, result.PerFileStats[0].Matched)
	require.Equal(t, 1, result.PerFileStats[0].Junk)
	require.Len(t, result.UnmatchedRows, 1)
	require.Equal(t, "9999999999", result.UnmatchedRows[0].Key)

	kinds := map[string]int{}
	for _, w := range result.Warnings {
		kinds[w.Kind]++
	}
	require.Equal(t, 1, kinds[types.WarnAmbiguousMatch])
	require.Equal(t, 1, kinds[types.WarnJunkRow])

	// Result column written in place under the existing header.
	require.Equal(t, job.Ledger.Path, result.ResultFile)
	require.Equal(t, []string{"Match", "Acme", "Acme, Beta", "Beta"}, readColumn(t, job.Ledger.Path, 3))

	require.Equal(t, []string{"Acme", "Acme, Beta", "Beta"}, result.GroupOrder)
	require.Equal(t, 200.0, result.GroupTotals["Acme"].Quantity10)
	require.Equal(t, 800.0, result.GlobalTotals.Quantity20)

	// Only Acme is billable, and only for rows labelled Acme alone.
	require.Len(t, result.Documents, 1)
	doc := result.Documents[0]
	require.Equal(t, "acme", doc.CounterpartyID)
	require.Equal(t, "Acme Ltd", doc.CounterpartyName)
	require.Equal(t, "2000.00", doc.Total.StringFixed(2))
	require.Equal(t, 1, doc.TripCount10)

	require.Len(t, result.AccountUpdates, 1)
	require.Equal(t, 200.0, result.AccountUpdates[0].Added10)

	require.Equal(t, 1, result.Persist.SuccessCount)
	require.Zero(t, result.Persist.FailCount)

	account, err := st.GetAccount(ctx, "acme")
	require.NoError(t, err)
	require.Equal(t, 200.0, account.Total10)
	require.Equal(t, 1, account.Version)

	docs, err := st.ListDocuments(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, docs, 1)

	require.ElementsMatch(t, []string{
		filepath.Join(out, "weekly_unmatched.xlsx"),
		filepath.Join(out, "weekly_documents.xml"),
		filepath.Join(out, "weekly_warnings.txt"),
		filepath.Join(out, "weekly_summary.txt"),
	}, result.Reports)
	for _, p := range result.Reports {
		require.FileExists(t, p)
	}

	// A second run adds to the account history.
	result, err = rec.Run(ctx, job)
	require.NoError(t, err)
	require.Equal(t, 1, result.Persist.SuccessCount)
	account, err = st.GetAccount(ctx, "acme")
	require.NoError(t, err)
	require.Equal(t, 400.0, account.Total10)
	require.Equal(t, 2, account.Version)
}

func TestRunDryRun(t *testing.T) {
	_, job := fixture(t)

	rec := New(sheet.New(), nil, nil, Options{DryRun: true})
	result, err := rec.Run(context.Background(), job)
	require.NoError(t, err)

	require.True(t, result.DryRun)
	require.Empty(t, result.ResultFile)
	require.Empty(t, result.Reports)
	require.Len(t, result.Documents, 1)
	require.Zero(t, result.Persist.SuccessCount)

	// The ledger is untouched.
	require.Equal(t, []string{"Match", "", "", ""}, readColumn(t, job.Ledger.Path, 3))
}

func TestRunRequiresStore(t *testing.T) {
	_, job := fixture(t)
	_, err := New(sheet.New(), nil, nil, Options{}).Run(context.Background(), job)
	require.Error(t, err)
}

func TestRunSkipsUnreadableCounterpartyFile(t *testing.T) {
	dir, job := fixture(t)
	require.NoError(t, os.Remove(filepath.Join(dir, "beta.xlsx")))

	rec := New(sheet.New(), nil, nil, Options{DryRun: true})
	result, err := rec.Run(context.Background(), job)
	require.NoError(t, err)

	require.Len(t, result.PerFileStats, 1)
	require.Equal(t, 2, result.MatchedCount)
	require.Equal(t, 1, result.UnmatchedCount)
	require.Equal(t, types.WarnFileSkipped, result.Warnings[0].Kind)
	require.Equal(t, "beta.xlsx", result.Warnings[0].SourceFile)
}

func TestRunAbortsOnLedgerErrors(t *testing.T) {
	dir, job := fixture(t)
	rec := New(sheet.New(), nil, nil, Options{DryRun: true})

	job.Ledger.QuantityColumn = "Tonnage Delivered"
	_, err := rec.Run(context.Background(), job)
	var ce *config.ConfigError
	require.True(t, errors.As(err, &ce), "got %v", err)
	require.Equal(t, "ledger.quantity_column", ce.Field)
	require.Equal(t, job.Path(), ce.File)

	job.Ledger.QuantityColumn = ""
	job.Ledger.Path = filepath.Join(dir, "missing.xlsx")
	_, err = rec.Run(context.Background(), job)
	var fae *sheet.FileAccessError
	require.ErrorAs(t, err, &fae)
}

func TestResolveLayoutAppendsResultColumn(t *testing.T) {
	dir := t.TempDir()
	writeXLSX(t, filepath.Join(dir, "ledger.xlsx"), [][]interface{}{
		{"Ticket No", "Net Weight"},
		{"1000000001", 5},
	})
	job := &config.JobConfig{Ledger: config.LedgerConfig{Path: filepath.Join(dir, "ledger.xlsx")}}

	layout, err := ResolveLayout(context.Background(), sheet.New(), job)
	require.NoError(t, err)
	require.Equal(t, 2, layout.Ledger.ResultColumn)
	require.True(t, layout.Ledger.NewResultColumn)
	require.Equal(t, -1, layout.Ledger.DescriptionColumn)

	job.Ledger.ResultColumn = "A"
	_, err = ResolveLayout(context.Background(), sheet.New(), job)
	var ce *config.ConfigError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, "ledger.result_column", ce.Field)
}

func TestCounterparties(t *testing.T) {
	job := &config.JobConfig{CounterpartyFiles: []config.CounterpartyFileConfig{
		{Label: "Acme North", CounterpartyID: "acme"},
		{Label: "Loose"},
		{Label: "Acme South", CounterpartyID: "acme", CounterpartyName: "Acme Ltd"},
		{Label: "Acme North", CounterpartyID: "acme"},
	}}
	cps := Counterparties(job)
	require.Len(t, cps, 1)
	require.Equal(t, "Acme Ltd", cps[0].Name)
	require.Equal(t, []string{"Acme North", "Acme South"}, cps[0].Groups)
}

const separateCounterpartiesYAML = `
name: split
ledger:
  path: ledger.xlsx
counterparty_files:
  - path: acme.xlsx
    counterparty_id: acme
    counterparty_name: Acme Ltd
  - path: beta.xlsx
    counterparty_id: beta
    counterparty_name: Beta Ltd
pricing:
  rates: {10mm: 10, 20mm: 12}
`

func TestRunCases(t *testing.T) {
	cases := []struct {
		name  string
		job   string
		setup func(t *testing.T, dir string)
		opts  Options
		check func(t *testing.T, dir string, job *config.JobConfig, st store.RecordStore, result *Result)
	}{
		{
			name: "counterparties without labels are billed only for their own rows",
			job:  separateCounterpartiesYAML,
			setup: func(t *testing.T, dir string) {
				writeXLSX(t, filepath.Join(dir, "ledger.xlsx"), [][]interface{}{
					{"Ticket No", "Material", "Net Weight"},
					{"1000000001", "10mm Aggregate", 100},
				})
				writeXLSX(t, filepath.Join(dir, "beta.xlsx"), [][]interface{}{
					{"Ticket No"},
					{"1000000777"},
				})
			},
			check: func(t *testing.T, dir string, job *config.JobConfig, st store.RecordStore, result *Result) {
				require.Len(t, result.Documents, 1)
				require.Equal(t, "acme", result.Documents[0].CounterpartyID)
				require.Equal(t, "1000.00", result.Documents[0].Total.StringFixed(2))

				require.Len(t, result.AccountUpdates, 1)
				require.Equal(t, "acme", result.AccountUpdates[0].AccountID)
				require.Equal(t, 100.0, result.AccountUpdates[0].Added10)

				_, err := st.GetAccount(context.Background(), "beta")
				require.ErrorIs(t, err, store.ErrNotFound)
			},
		},
		{
			name: "counterparty file without an identifier column is skipped",
			job:  jobYAML,
			setup: func(t *testing.T, dir string) {
				writeXLSX(t, filepath.Join(dir, "beta.xlsx"), [][]interface{}{
					{"Foo"},
					{"1000000002"},
					{"1000000003"},
				})
			},
			check: func(t *testing.T, dir string, job *config.JobConfig, st store.RecordStore, result *Result) {
				require.Len(t, result.PerFileStats, 1)
				require.Equal(t, 2, result.MatchedCount)
				require.Equal(t, 1, result.UnmatchedCount)

				var skipped []types.ValidationWarning
				for _, w := range result.Warnings {
					if w.Kind == types.WarnFileSkipped {
						skipped = append(skipped, w)
					}
				}
				require.Len(t, skipped, 1)
				require.Equal(t, "beta.xlsx", skipped[0].SourceFile)
				require.Contains(t, skipped[0].Message, "counterparty_files[1].id_columns")

				require.Equal(t, []string{"Match", "Acme", "Acme", config.DefaultNoMatchText}, readColumn(t, job.Ledger.Path, 3))
			},
		},
		{
			name: "no-write persists billing but leaves the ledger untouched",
			job:  jobYAML,
			opts: Options{NoWrite: true},
			check: func(t *testing.T, dir string, job *config.JobConfig, st store.RecordStore, result *Result) {
				require.Empty(t, result.ResultFile)
				require.Equal(t, []string{"Match", "", "", ""}, readColumn(t, job.Ledger.Path, 3))

				require.Equal(t, 1, result.Persist.SuccessCount)
				account, err := st.GetAccount(context.Background(), "acme")
				require.NoError(t, err)
				require.Equal(t, 200.0, account.Total10)
				require.Equal(t, 1, account.Version)
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir, _ := fixture(t)
			if tc.setup != nil {
				tc.setup(t, dir)
			}
			jobPath := filepath.Join(dir, "case.yaml")
			require.NoError(t, os.WriteFile(jobPath, []byte(tc.job), 0644))
			job, err := config.LoadJob(jobPath)
			require.NoError(t, err)

			st, err := store.OpenJSON(filepath.Join(dir, "records.json"))
			require.NoError(t, err)
			defer st.Close()

			rec := New(sheet.New(), st, nil, tc.opts)
			rec.Now = fixedClock()
			result, err := rec.Run(context.Background(), job)
			require.NoError(t, err)
			tc.check(t, dir, job, st, result)
		})
	}
}

func TestLoadJobRejectsLabelSharedAcrossCounterparties(t *testing.T) {
	dir, _ := fixture(t)
	jobPath := filepath.Join(dir, "shared.yaml")
	require.NoError(t, os.WriteFile(jobPath, []byte(`
ledger: {path: ledger.xlsx}
counterparty_files:
  - {path: acme.xlsx, counterparty_id: acme}
  - {path: beta.xlsx, counterparty_id: beta}
`), 0644))

	_, err := config.LoadJob(jobPath)
	var ce *config.ConfigError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, "counterparty_files[1].label", ce.Field)
}
