// =============================================================================
// Ledger Reconciliation - Report File Utility
// =============================================================================
//
// This module writes the side files of a reconciliation run into the output
// directory:
//   - the warning log (every ValidationWarning of the run)
//   - the run summary (counts, per-file stats, group totals, documents)
//   - the unmatched-rows workbook (counterparty rows with no ledger match)
//   - exported documents (XML produced by the xmlwriter)
//
// File names come from a format string with placeholders, so several runs
// can share one output directory without overwriting each other.
//
// =============================================================================

package utils

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/ginjaninja78/ledger-reconciliation/internal/matcher"
	"github.com/ginjaninja78/ledger-reconciliation/internal/types"
)

const rule = "================================================================================\n"

// =============================================================================
// FILE NAMING
// =============================================================================

// GenerateOutputFileName builds a file name from a format string.
//
// PARAMETERS:
//   - format: The format string for the file name.
//             Placeholders:
//               {uuid}      - A random UUID
//               {timestamp} - Current timestamp (YYYYMMDD_HHMMSS)
//               {date}      - Current date (YYYYMMDD)
//               {time}      - Current time (HHMMSS)
//               {job}       - Job name
//               {type}      - Report type
//   - params: A map of placeholder values.
//   - ext: The extension to ensure, including the dot.
//
// EXAMPLE:
//   format: "{job}_{type}_{timestamp}"
//   params: {"job": "weekly", "type": "summary"}
//   output: "weekly_summary_20240115_143022.txt"
func GenerateOutputFileName(format string, params map[string]string, ext string) string {
	now := time.Now()

	replacements := map[string]string{
		"{uuid}":      uuid.New().String(),
		"{timestamp}": now.Format("20060102_150405"),
		"{date}":      now.Format("20060102"),
		"{time}":      now.Format("150405"),
	}
	for key, value := range params {
		replacements["{"+key+"}"] = sanitizeFileName(value)
	}

	result := format
	for placeholder, value := range replacements {
		result = strings.ReplaceAll(result, placeholder, value)
	}

	if ext != "" && !strings.HasSuffix(strings.ToLower(result), strings.ToLower(ext)) {
		result += ext
	}
	return result
}

// sanitizeFileName replaces characters that are unsafe in file names.
func sanitizeFileName(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', ' ':
			return '_'
		}
		return r
	}, s)
}

// Reports names and writes the side files of one run.
type Reports struct {
	OutputDir  string
	NameFormat string
	Job        string
}

// Path returns the output path for a report of the given type.
func (r Reports) Path(kind, ext string) string {
	format := r.NameFormat
	if format == "" {
		format = "{job}_{type}_{timestamp}"
	}
	name := GenerateOutputFileName(format, map[string]string{"job": r.Job, "type": kind}, ext)
	return filepath.Join(r.OutputDir, name)
}

// EnsureDir creates dir if it does not exist.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}

// FileExists checks if a file exists.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// WriteFile writes data to path, creating the parent directory.
func WriteFile(path string, data []byte) error {
	if err := EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// =============================================================================
// WARNING LOG
// =============================================================================

// WriteWarningLog writes the run's warnings to path. Nothing is written
// when there are no warnings; the returned path is then empty.
func WriteWarningLog(warnings []types.ValidationWarning, path string) (string, error) {
	if len(warnings) == 0 {
		return "", nil
	}
	if err := EnsureDir(filepath.Dir(path)); err != nil {
		return "", err
	}

	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create warning log: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)

	fmt.Fprintf(writer, "Ledger Reconciliation - Warning Log\n"+
		"Generated: %s\n"+
		"Total Warnings: %d\n"+
		rule+"\n",
		time.Now().Format("2006-01-02 15:04:05"),
		len(warnings))

	for i, w := range warnings {
		fmt.Fprintf(writer, "Warning #%d\n"+
			"  Kind:     %s\n"+
			"  File:     %s\n",
			i+1, w.Kind, w.SourceFile)
		if w.RowNumber > 0 {
			fmt.Fprintf(writer, "  Row:      %d\n", w.RowNumber)
		}
		fmt.Fprintf(writer, "  Message:  %s\n\n", w.Message)
	}

	writer.WriteString(rule + "End of Warning Log\n")

	if err := writer.Flush(); err != nil {
		return "", fmt.Errorf("failed to flush warning log: %w", err)
	}
	return path, nil
}

// =============================================================================
// RUN SUMMARY
// =============================================================================

// RunSummary contains summary information about a reconciliation run.
type RunSummary struct {
	Job        string
	StartTime  time.Time
	EndTime    time.Time
	DryRun     bool
	LedgerFile string
	ResultFile string

	MatchedCount    int
	UnmatchedCount  int
	TotalCount      int
	MatchPercentage float64

	Files     []matcher.FileStats
	Groups    []GroupLine
	Documents []DocumentLine

	PersistSuccess int
	PersistFail    int
	Failures       []string

	WarningCounts map[string]int
}

// GroupLine is one group's totals in the summary.
type GroupLine struct {
	Label  string
	Totals types.GradeTotals
}

// DocumentLine is one generated document in the summary.
type DocumentLine struct {
	Number       string
	Counterparty string
	Items        int
	Excess       float64
	Total        string
}

// WriteSummaryLog writes a run summary to path.
func WriteSummaryLog(summary RunSummary, path string) (string, error) {
	if err := EnsureDir(filepath.Dir(path)); err != nil {
		return "", err
	}

	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create summary file: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)

	mode := "live"
	if summary.DryRun {
		mode = "dry run"
	}
	fmt.Fprintf(writer, "Ledger Reconciliation - Run Summary\n"+
		rule+"\n"+
		"Run Information:\n"+
		"  Job:            %s (%s)\n"+
		"  Start Time:     %s\n"+
		"  End Time:       %s\n"+
		"  Duration:       %s\n"+
		"  Ledger:         %s\n"+
		"  Result File:    %s\n\n"+
		"Matching:\n"+
		"  Ledger Rows:    %d\n"+
		"  Matched:        %d\n"+
		"  Unmatched:      %d\n"+
		"  Match Rate:     %.2f%%\n\n",
		summary.Job, mode,
		summary.StartTime.Format("2006-01-02 15:04:05"),
		summary.EndTime.Format("2006-01-02 15:04:05"),
		summary.EndTime.Sub(summary.StartTime).Round(time.Millisecond).String(),
		summary.LedgerFile,
		orDash(summary.ResultFile),
		summary.TotalCount,
		summary.MatchedCount,
		summary.UnmatchedCount,
		summary.MatchPercentage)

	if len(summary.Files) > 0 {
		writer.WriteString("Counterparty Files:\n")
		writer.WriteString("--------------------------------------------------------------------------------\n")
		for _, f := range summary.Files {
			fmt.Fprintf(writer, "  %s [%s]: %d/%d matched (%.2f%%), %d junk rows\n",
				f.SourceFile, f.Label, f.Matched, f.Total, f.Percentage, f.Junk)
		}
		writer.WriteString("\n")
	}

	if len(summary.Groups) > 0 {
		writer.WriteString("Group Totals:\n")
		writer.WriteString("--------------------------------------------------------------------------------\n")
		for _, g := range summary.Groups {
			t := g.Totals
			fmt.Fprintf(writer, "  %s: 10mm %.3f (%d trips), 20mm %.3f (%d trips), other %.3f (%d trips)\n",
				g.Label, t.Quantity10, t.TripCount10, t.Quantity20, t.TripCount20, t.Other, t.TripCountOther)
		}
		writer.WriteString("\n")
	}

	if len(summary.Documents) > 0 {
		writer.WriteString("Draft Documents:\n")
		writer.WriteString("--------------------------------------------------------------------------------\n")
		for _, d := range summary.Documents {
			fmt.Fprintf(writer, "  %s  %s  %d items  excess %.3f  total %s\n",
				d.Number, d.Counterparty, d.Items, d.Excess, d.Total)
		}
		writer.WriteString("\n")
	}

	fmt.Fprintf(writer, "Persistence:\n"+
		"  Saved:          %d\n"+
		"  Failed:         %d\n",
		summary.PersistSuccess, summary.PersistFail)
	for _, f := range summary.Failures {
		fmt.Fprintf(writer, "    - %s\n", f)
	}
	writer.WriteString("\n")

	if len(summary.WarningCounts) > 0 {
		writer.WriteString("Warnings:\n")
		kinds := make([]string, 0, len(summary.WarningCounts))
		for k := range summary.WarningCounts {
			kinds = append(kinds, k)
		}
		sort.Strings(kinds)
		for _, k := range kinds {
			fmt.Fprintf(writer, "  %-16s %d\n", k+":", summary.WarningCounts[k])
		}
		writer.WriteString("\n")
	}

	writer.WriteString(rule + "End of Summary\n")

	if err := writer.Flush(); err != nil {
		return "", fmt.Errorf("failed to flush summary file: %w", err)
	}
	return path, nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// =============================================================================
// UNMATCHED WORKBOOK
// =============================================================================

// UnmatchedSheet is the sheet name of the unmatched-rows workbook.
const UnmatchedSheet = "Unmatched"

// WriteUnmatchedWorkbook lists counterparty rows that had no ledger match.
// Nothing is written when rows is empty; the returned path is then empty.
func WriteUnmatchedWorkbook(rows []matcher.UnmatchedRow, path string) (string, error) {
	if len(rows) == 0 {
		return "", nil
	}
	if err := EnsureDir(filepath.Dir(path)); err != nil {
		return "", err
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", UnmatchedSheet); err != nil {
		return "", fmt.Errorf("failed to name sheet: %w", err)
	}

	header := []interface{}{"Source File", "Row", "Key"}
	if err := f.SetSheetRow(UnmatchedSheet, "A1", &header); err != nil {
		return "", fmt.Errorf("failed to write header: %w", err)
	}

	for i, r := range rows {
		values := make([]interface{}, 0, len(r.Cells)+3)
		values = append(values, filepath.Base(r.SourceFile), r.RowNumber, r.Key)
		for _, c := range r.Cells {
			values = append(values, c)
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return "", err
		}
		if err := f.SetSheetRow(UnmatchedSheet, cell, &values); err != nil {
			return "", fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	if err := f.SetPanes(UnmatchedSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return "", fmt.Errorf("failed to freeze header: %w", err)
	}

	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("failed to save unmatched workbook: %w", err)
	}
	return path, nil
}
