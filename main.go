// =============================================================================
// Ledger Reconciliation - Main Entry Point
// =============================================================================
//
// This is the main entry point for the Ledger Reconciliation CLI. It
// delegates command execution to the cmd package.
//
// USAGE:
//   recon reconcile --job <job>   - Match, write results and draft billing
//   recon validate --job <job>    - Check a job and show resolved columns
//   recon accounts list|show      - Inspect account histories
//   recon version                 - Display the application version
//
// ARCHITECTURE:
//   - cmd/       : CLI command definitions (Cobra)
//   - internal/  : Matching, aggregation, pricing, billing and storage
//   - pkg/utils  : Report files written next to each run
//   - jobs/      : Reconciliation job files (YAML or TOML)
//
// =============================================================================

package main

import (
	"github.com/ginjaninja78/ledger-reconciliation/cmd"
)

func main() {
	cmd.Execute()
}
