// =============================================================================
// Ledger Reconciliation - Accounts Command
// =============================================================================
//
// This file defines the 'accounts' command group, which reads the record
// store.
//
// COMMAND USAGE:
//   recon accounts list        - Every account with its cumulative totals
//   recon accounts show <id>   - One account and its billing documents
//
// =============================================================================

package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ginjaninja78/ledger-reconciliation/internal/pricing"
	"github.com/ginjaninja78/ledger-reconciliation/internal/store"
)

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Inspect counterparty account histories",
}

var accountsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every account with its cumulative totals",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		w := cmd.OutOrStdout()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		accounts, err := st.ListAccounts(ctx)
		if err != nil {
			return err
		}
		if len(accounts) == 0 {
			fmt.Fprintln(w, "No accounts.")
			return nil
		}

		fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("%-16s %-24s %12s %12s %7s %8s", "ID", "Name", "10mm", "20mm", "10mm %", "Version")))
		for _, a := range accounts {
			line := fmt.Sprintf("%-16s %-24s %12.3f %12.3f %6.2f%% %8d",
				a.ID, a.Name, a.Total10, a.Total20, share10(a.Total10, a.Total20), a.Version)
			// Over the cap: later batches carry the excess.
			if pricing.Overage(a.Total10, a.Total20, 0, 0).HistoricalExcess > pricing.Tolerance {
				line = warnStyle.Render(line)
			}
			fmt.Fprintln(w, line)
		}
		return nil
	},
}

var accountsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one account and its billing documents",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		w := cmd.OutOrStdout()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		a, err := st.GetAccount(ctx, args[0])
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("no account %q", args[0])
		}
		if err != nil {
			return err
		}

		fmt.Fprintln(w, titleStyle.Render(a.ID+" "+a.Name))
		fmt.Fprintln(w, field("10mm total", fmt.Sprintf("%.3f", a.Total10)))
		fmt.Fprintln(w, field("20mm total", fmt.Sprintf("%.3f", a.Total20)))
		fmt.Fprintln(w, field("10mm share", fmt.Sprintf("%.2f%%", share10(a.Total10, a.Total20))))
		fmt.Fprintln(w, field("Version", a.Version))
		fmt.Fprintln(w, field("Updated", a.UpdatedAt.Format("2006-01-02 15:04:05")))

		docs, err := st.ListDocuments(ctx, a.ID)
		if err != nil {
			return err
		}
		fmt.Fprintln(w)
		fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("Documents (%d)", len(docs))))
		for _, d := range docs {
			fmt.Fprintf(w, "  %s  %s  %-6s %d items  excess %.3f  total %s\n",
				d.Number, d.CreatedAt.Format("2006-01-02"), d.Status, len(d.Items), d.ChargeableExcess, d.Total.StringFixed(2))
		}
		return nil
	},
}

func init() {
	accountsCmd.AddCommand(accountsListCmd, accountsShowCmd)
	rootCmd.AddCommand(accountsCmd)
}

func share10(total10, total20 float64) float64 {
	if total10+total20 <= 0 {
		return 0
	}
	return total10 / (total10 + total20) * 100
}
