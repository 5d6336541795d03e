package utils

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/ginjaninja78/ledger-reconciliation/internal/matcher"
	"github.com/ginjaninja78/ledger-reconciliation/internal/types"
)

func TestGenerateOutputFileName(t *testing.T) {
	name := GenerateOutputFileName("{job}_{type}_{date}", map[string]string{"job": "weekly run", "type": "summary"}, ".txt")
	require.True(t, strings.HasPrefix(name, "weekly_run_summary_"), name)
	require.True(t, strings.HasSuffix(name, ".txt"))
	require.Len(t, name, len("weekly_run_summary_20060102.txt"))

	// An extension already present is not doubled.
	require.Equal(t, "report.XML", GenerateOutputFileName("report.XML", nil, ".xml"))
}

func TestReportsPath(t *testing.T) {
	r := Reports{OutputDir: "/out", NameFormat: "{job}-{type}", Job: "weekly"}
	require.Equal(t, filepath.Join("/out", "weekly-warnings.txt"), r.Path("warnings", ".txt"))

	r.NameFormat = ""
	require.Contains(t, r.Path("summary", ".txt"), "weekly_summary_")
}

func TestWriteWarningLog(t *testing.T) {
	dir := t.TempDir()

	path, err := WriteWarningLog(nil, filepath.Join(dir, "none.txt"))
	require.NoError(t, err)
	require.Empty(t, path)
	require.NoFileExists(t, filepath.Join(dir, "none.txt"))

	warnings := []types.ValidationWarning{
		{Kind: types.WarnDuplicate, SourceFile: "ledger.xlsx", RowNumber: 7, Message: "key 123 seen on rows 3, 7"},
		{Kind: types.WarnFileSkipped, SourceFile: "acme.xlsx", Message: "cannot open"},
	}
	path, err = WriteWarningLog(warnings, filepath.Join(dir, "logs", "warnings.txt"))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	require.Contains(t, text, "Total Warnings: 2")
	require.Contains(t, text, "Kind:     duplicate")
	require.Contains(t, text, "Row:      7")
	require.Contains(t, text, "Message:  cannot open")
	require.Equal(t, 1, strings.Count(text, "Row:"))
}

func TestWriteSummaryLog(t *testing.T) {
	start := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	summary := RunSummary{
		Job:             "weekly",
		StartTime:       start,
		EndTime:         start.Add(1500 * time.Millisecond),
		DryRun:          true,
		LedgerFile:      "ledger.xlsx",
		MatchedCount:    3,
		UnmatchedCount:  1,
		TotalCount:      4,
		MatchPercentage: 75,
		Files:           []matcher.FileStats{{SourceFile: "acme.xlsx", Label: "Acme", Total: 5, Matched: 3, Junk: 1, Percentage: 60}},
		Groups:          []GroupLine{{Label: "Acme", Totals: types.GradeTotals{Quantity10: 12.5, TripCount10: 2}}},
		Documents:       []DocumentLine{{Number: "DRAFT-1", Counterparty: "Acme", Items: 2, Total: "125.00"}},
		PersistFail:     1,
		Failures:        []string{"acme: save account: conflict"},
		WarningCounts:   map[string]int{"junk_row": 1, "duplicate": 2},
	}

	path, err := WriteSummaryLog(summary, filepath.Join(t.TempDir(), "summary.txt"))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	require.Contains(t, text, "weekly (dry run)")
	require.Contains(t, text, "Duration:       1.5s")
	require.Contains(t, text, "Result File:    -")
	require.Contains(t, text, "Match Rate:     75.00%")
	require.Contains(t, text, "acme.xlsx [Acme]: 3/5 matched (60.00%), 1 junk rows")
	require.Contains(t, text, "10mm 12.500 (2 trips)")
	require.Contains(t, text, "DRAFT-1  Acme  2 items")
	require.Contains(t, text, "- acme: save account: conflict")
	require.Less(t, strings.Index(text, "duplicate:"), strings.Index(text, "junk_row:"))
}

func TestWriteUnmatchedWorkbook(t *testing.T) {
	dir := t.TempDir()

	path, err := WriteUnmatchedWorkbook(nil, filepath.Join(dir, "empty.xlsx"))
	require.NoError(t, err)
	require.Empty(t, path)

	rows := []matcher.UnmatchedRow{
		{SourceFile: "/in/acme.xlsx", RowNumber: 4, Key: "0000012345", Cells: []types.Cell{"0000012345", nil, "20mm"}},
		{SourceFile: "/in/acme.xlsx", RowNumber: 9, Key: "0000099999", Cells: []types.Cell{"0000099999"}},
	}
	path, err = WriteUnmatchedWorkbook(rows, filepath.Join(dir, "out", "unmatched.xlsx"))
	require.NoError(t, err)

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	got, err := f.GetRows(UnmatchedSheet)
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, []string{"Source File", "Row", "Key"}, got[0])
	require.Equal(t, []string{"acme.xlsx", "4", "0000012345", "0000012345", "", "20mm"}, got[1])
	require.Equal(t, "0000099999", got[2][2])
}

func TestWriteFileCreatesDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "docs.xml")
	require.False(t, FileExists(path))
	require.NoError(t, WriteFile(path, []byte("<x/>")))
	require.True(t, FileExists(path))
}
