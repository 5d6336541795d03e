// =============================================================================
// Ledger Reconciliation - Validate Command
// =============================================================================
//
// This file defines the 'validate' command. It loads a job, lists the sheets
// of every file and shows which columns the job resolves to, without reading
// any data rows or writing anything.
//
// COMMAND USAGE:
//   recon validate --job <name|path>
//
// =============================================================================

package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ginjaninja78/ledger-reconciliation/internal/config"
	"github.com/ginjaninja78/ledger-reconciliation/internal/reconciler"
	"github.com/ginjaninja78/ledger-reconciliation/internal/sheet"
)

var validateJob string

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a job and show the columns it resolves to",
	Long: `The validate command loads a job file, checks its settings and reads the header
row of the ledger and every counterparty file. It prints the sheets of each file
and the identifier, result, description and quantity columns the job resolves
to, so column references can be checked before a run.`,

	RunE: func(cmd *cobra.Command, args []string) error {
		return runValidate(cmd)
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringVarP(&validateJob, "job", "j", "", "Job name or path to a job file")
	validateCmd.MarkFlagRequired("job")
}

func runValidate(cmd *cobra.Command) error {
	ctx := cmd.Context()
	w := cmd.OutOrStdout()

	job, err := loadJob(validateJob)
	if err != nil {
		return err
	}

	sheets := sheet.New()
	layout, err := reconciler.ResolveLayout(ctx, sheets, job)
	if err != nil {
		return err
	}

	fmt.Fprintln(w, titleStyle.Render("Job "+job.Name)+" "+job.Path())
	fmt.Fprintln(w)

	ll := layout.Ledger
	fmt.Fprintln(w, titleStyle.Render("Ledger"))
	printSource(ctx, w, sheets, job.Ledger.Path, ll.Sheet, ll.Headers)
	fmt.Fprintln(w, field("  Identifiers", columnNames(ll.Headers, ll.IDColumns...)))
	result := columnNames(ll.Headers, ll.ResultColumn)
	if ll.NewResultColumn {
		result += okStyle.Render(" (new)")
	}
	fmt.Fprintln(w, field("  Result", result))
	fmt.Fprintln(w, field("  Description", columnNames(ll.Headers, ll.DescriptionColumn)))
	fmt.Fprintln(w, field("  Quantity", columnNames(ll.Headers, ll.QuantityColumn)))

	skipped := 0
	for _, fl := range layout.Files {
		fmt.Fprintln(w)
		title := fl.Config.Label
		if fl.Config.CounterpartyID != "" {
			title += " -> " + fl.Config.CounterpartyID
		}
		fmt.Fprintln(w, titleStyle.Render(title))
		if fl.Err != nil {
			fmt.Fprintln(w, field("  File", fl.Config.Path))
			fmt.Fprintln(w, errStyle.Render("  ✗ "+fl.Err.Error()))
			skipped++
			continue
		}
		printSource(ctx, w, sheets, fl.Config.Path, fl.Sheet, fl.Headers)
		fmt.Fprintln(w, field("  Identifiers", columnNames(fl.Headers, fl.IDColumns...)))
		if len(fl.Config.KeyTransforms) > 0 {
			fmt.Fprintln(w, field("  Transforms", len(fl.Config.KeyTransforms)))
		}
	}

	fmt.Fprintln(w)
	if skipped > 0 {
		fmt.Fprintln(w, warnStyle.Render(fmt.Sprintf("! Job is valid; %d counterparty file(s) will be skipped", skipped)))
		return nil
	}
	fmt.Fprintln(w, okStyle.Render("✓ Job is valid"))
	return nil
}

func printSource(ctx context.Context, w io.Writer, sheets reconciler.Sheets, path, sheetName string, headers []string) {
	fmt.Fprintln(w, field("  File", path))
	if names, err := sheets.ListSheets(ctx, path); err == nil {
		if sheetName == "" && len(names) > 0 {
			sheetName = names[0] + " (first)"
		}
		fmt.Fprintln(w, field("  Sheets", strings.Join(names, ", ")))
	}
	fmt.Fprintln(w, field("  Sheet", sheetName))
	fmt.Fprintln(w, field("  Headers", strings.Join(headers, " | ")))
}

// columnNames renders 0-based columns as "C (Ticket No)".
func columnNames(headers []string, cols ...int) string {
	var parts []string
	for _, c := range cols {
		if c < 0 {
			parts = append(parts, "-")
			continue
		}
		name := config.ColumnLetter(c)
		if c < len(headers) && headers[c] != "" {
			name += " (" + headers[c] + ")"
		}
		parts = append(parts, name)
	}
	return strings.Join(parts, ", ")
}
