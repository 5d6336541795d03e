// =============================================================================
// Ledger Reconciliation - Root Command
// =============================================================================
//
// This file defines the root command for the Cobra CLI. The root command is
// the base command that all other commands are attached to.
//
// COBRA CLI STRUCTURE:
//   rootCmd (recon)
//   ├── reconcileCmd (recon reconcile)
//   ├── validateCmd  (recon validate)
//   ├── accountsCmd  (recon accounts list|show)
//   └── versionCmd   (recon version)
//
// CONFIGURATION:
//   Before any subcommand runs, the root command:
//   1. Loads a .env file if one exists
//   2. Loads settings.yaml (or --settings) through Viper, with RECON_*
//      environment overrides
//   3. Sets up logging
//
// =============================================================================

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ginjaninja78/ledger-reconciliation/internal/config"
	"github.com/ginjaninja78/ledger-reconciliation/internal/logger"
	"github.com/ginjaninja78/ledger-reconciliation/internal/store"
)

// =============================================================================
// GLOBAL VARIABLES
// =============================================================================

// settingsFile holds the path to the settings file.
// Empty means ./settings.yaml if present.
var settingsFile string

// envFile is loaded into the environment before settings are read.
var envFile string

// verbose forces debug logging.
var verbose bool

// settings and log are set up by the root command before any subcommand.
var (
	settings  *config.Settings
	log       logger.Logger
	logCloser io.Closer
)

// =============================================================================
// ROOT COMMAND DEFINITION
// =============================================================================

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "recon",
	Short: "Ledger Reconciliation - Match delivery tickets and draft ratio-capped billing",
	Long: `Ledger Reconciliation matches the tickets of a ledger spreadsheet against
per-counterparty spreadsheets, writes the match result back into the ledger,
totals matched quantities per material grade and drafts billing documents that
respect the cumulative 40% cap on 10mm material.

Key Features:
  - Automatic detection of ticket, quantity and description columns
  - .xlsx, .xls and .csv inputs (with legacy code page support)
  - Junk row filtering and duplicate/format diagnostics
  - Cumulative overage and tiered pricing against account history
  - JSON, SQLite or PostgreSQL record store

Example Usage:
  recon reconcile --job weekly            # Run jobs/weekly.yaml
  recon reconcile --job weekly --dry-run  # Match and bill without writing
  recon validate --job weekly             # Check a job and show its columns
  recon accounts list                     # Show account histories`,

	SilenceUsage: true,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setup(cmd)
	},

	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			logCloser.Close()
		}
	},

	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// =============================================================================
// EXECUTE FUNCTION
// =============================================================================

// Execute runs the root command. It is called by main.main().
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// =============================================================================
// INITIALIZATION
// =============================================================================

func init() {
	rootCmd.PersistentFlags().StringVar(
		&settingsFile,
		"settings",
		"",
		"Path to the settings file (default is ./settings.yaml if present)",
	)

	rootCmd.PersistentFlags().StringVar(
		&envFile,
		"env-file",
		".env",
		"Environment file loaded before settings",
	)

	rootCmd.PersistentFlags().String(
		"output-dir",
		"",
		"Directory for reports and exports (overrides output_dir)",
	)

	rootCmd.PersistentFlags().BoolVarP(
		&verbose,
		"verbose",
		"v",
		false,
		"Enable debug logging",
	)
}

// setup loads the environment, settings and logger.
func setup(cmd *cobra.Command) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	v := config.NewViper()
	if err := v.BindPFlag("output_dir", cmd.Flags().Lookup("output-dir")); err != nil {
		return err
	}

	s, err := config.LoadSettings(v, settingsFile)
	if err != nil {
		return err
	}
	if verbose {
		s.LogLevel = "debug"
	}
	settings = s

	if s.LogFile != "" {
		l, closer, err := logger.NewFile(s.LogFile, s.LogLevel)
		if err != nil {
			return err
		}
		log, logCloser = l, closer
	} else {
		log = logger.New(os.Stderr, s.LogLevel)
	}
	return nil
}

// openStore opens the configured record store.
func openStore(ctx context.Context) (store.RecordStore, error) {
	st, err := store.Open(ctx, settings.Store.StoreOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", settings.Store.Driver, err)
	}
	log.Debug("Opened %s store", settings.Store.Driver)
	return st, nil
}

// loadJob finds and loads a job by name or path.
func loadJob(name string) (*config.JobConfig, error) {
	if name == "" {
		return nil, errors.New("--job is required")
	}
	path, err := config.FindJob(name, settings.JobsDir)
	if err != nil {
		return nil, err
	}
	return config.LoadJob(path)
}
