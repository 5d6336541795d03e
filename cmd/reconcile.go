// =============================================================================
// Ledger Reconciliation - Reconcile Command
// =============================================================================
//
// This file defines the 'reconcile' command, which runs one reconciliation
// job end to end.
//
// COMMAND USAGE:
//   recon reconcile --job <name|path> [flags]
//
// FLAGS:
//   --job      : Job name (looked up in jobs_dir) or path to a job file
//   --dry-run  : Match, aggregate and bill without writing or persisting
//   --no-write : Persist billing but leave the ledger untouched
//
// =============================================================================

package cmd

import (
	"github.com/spf13/cobra"

	"github.com/ginjaninja78/ledger-reconciliation/internal/reconciler"
	"github.com/ginjaninja78/ledger-reconciliation/internal/sheet"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	jobName string
	dryRun  bool
	noWrite bool
)

// =============================================================================
// RECONCILE COMMAND DEFINITION
// =============================================================================

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Reconcile a ledger against counterparty files and draft billing",
	Long: `The reconcile command loads a job, matches every ledger ticket against the
job's counterparty files and writes the matched labels into the ledger's result
column. Matched quantities are totalled per grade and turned into draft billing
documents, which are saved to the record store together with each account's
updated history.

A counterparty file that cannot be read is skipped with a warning. A ledger
that cannot be read, or a column that cannot be resolved, stops the run before
anything is written.`,

	RunE: func(cmd *cobra.Command, args []string) error {
		return runReconcile(cmd)
	},
}

func init() {
	rootCmd.AddCommand(reconcileCmd)

	reconcileCmd.Flags().StringVarP(&jobName, "job", "j", "", "Job name or path to a job file")
	reconcileCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Match, aggregate and bill without writing results or persisting")
	reconcileCmd.Flags().BoolVar(&noWrite, "no-write", false, "Do not write the result column into the ledger")
	reconcileCmd.MarkFlagRequired("job")
}

// =============================================================================
// MAIN PROCESSING FUNCTION
// =============================================================================

func runReconcile(cmd *cobra.Command) error {
	ctx := cmd.Context()

	job, err := loadJob(jobName)
	if err != nil {
		return err
	}

	// Dry runs still read account history so overage previews are real.
	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	rec := reconciler.New(sheet.New(), st, log, reconciler.Options{
		DryRun:          dryRun,
		NoWrite:         noWrite,
		OutputDir:       settings.OutputDir,
		FileNameFormat:  settings.FileNameFormat,
		PersistAttempts: settings.PersistAttempts,
	})

	result, err := rec.Run(ctx, job)
	if err != nil {
		return err
	}

	printResult(cmd.OutOrStdout(), result)
	return nil
}
