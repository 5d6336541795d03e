package cmd

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/ginjaninja78/ledger-reconciliation/internal/reconciler"
	"github.com/ginjaninja78/ledger-reconciliation/internal/types"
	"github.com/ginjaninja78/ledger-reconciliation/internal/validation"
)

const (
	colorGreen    lipgloss.Color = "#a6e3a1"
	colorRed      lipgloss.Color = "#f38ba8"
	colorYellow   lipgloss.Color = "#f9e2af"
	colorBlue     lipgloss.Color = "#89b4fa"
	colorSubtext0 lipgloss.Color = "#a6adc8"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(colorBlue)
	labelStyle = lipgloss.NewStyle().Foreground(colorSubtext0).Width(18)
	okStyle    = lipgloss.NewStyle().Foreground(colorGreen)
	warnStyle  = lipgloss.NewStyle().Foreground(colorYellow)
	errStyle   = lipgloss.NewStyle().Foreground(colorRed)
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorSubtext0).
			Padding(0, 1)
)

func field(label string, value interface{}) string {
	return labelStyle.Render(label) + fmt.Sprint(value)
}

// printResult renders the run summary.
func printResult(w io.Writer, result *reconciler.Result) {
	title := "Reconciliation: " + result.Job
	if result.DryRun {
		title += " (dry run)"
	}

	lines := []string{
		titleStyle.Render(title),
		"",
		field("Ledger rows", result.TotalCount),
		field("Matched", okStyle.Render(fmt.Sprint(result.MatchedCount))),
		field("Not found", result.UnmatchedCount),
		field("Match rate", fmt.Sprintf("%.2f%%", result.MatchPercentage)),
	}
	if result.ResultFile != "" {
		lines = append(lines, field("Result file", result.ResultFile))
	}

	if len(result.PerFileStats) > 0 {
		lines = append(lines, "", titleStyle.Render("Counterparty files"))
		for _, f := range result.PerFileStats {
			lines = append(lines, fmt.Sprintf("  %s [%s] %d/%d (%.2f%%), %d junk",
				f.SourceFile, f.Label, f.Matched, f.Total, f.Percentage, f.Junk))
		}
	}

	if len(result.GroupOrder) > 0 {
		lines = append(lines, "", titleStyle.Render("Groups"))
		for _, label := range result.GroupOrder {
			lines = append(lines, "  "+formatTotals(label, result.GroupTotals[label]))
		}
		lines = append(lines, "  "+formatTotals("All", result.GlobalTotals))
	}

	if len(result.Plans) > 0 {
		lines = append(lines, "", titleStyle.Render("Draft documents"))
		for _, p := range result.Plans {
			d := p.Document
			line := fmt.Sprintf("  %s  %-20s %d items  total %s", d.Number, d.CounterpartyName, len(d.Items), d.Total.StringFixed(2))
			if d.ChargeableExcess > 0 {
				line += warnStyle.Render(fmt.Sprintf("  excess %.3f", d.ChargeableExcess))
			}
			lines = append(lines, line)
		}
	}

	persist := fmt.Sprintf("%d saved", result.Persist.SuccessCount)
	if result.Persist.FailCount > 0 {
		persist += ", " + errStyle.Render(fmt.Sprintf("%d failed", result.Persist.FailCount))
	}
	if !result.DryRun || result.Persist.FailCount > 0 {
		lines = append(lines, "", field("Persistence", persist))
		for _, f := range result.Persist.Failures {
			lines = append(lines, errStyle.Render("  ✗ "+f.Error()))
		}
	}

	if len(result.Warnings) > 0 {
		counts := validation.CountByKind(result.Warnings)
		var parts []string
		for _, kind := range []string{
			types.WarnEmptyTicket, types.WarnInvalidFormat, types.WarnDuplicate, types.WarnJunkRow,
			types.WarnAmbiguousMatch, types.WarnQuantityParse, types.WarnFileSkipped,
		} {
			if n := counts[kind]; n > 0 {
				parts = append(parts, fmt.Sprintf("%s %d", kind, n))
			}
		}
		lines = append(lines, "", field("Warnings", warnStyle.Render(strings.Join(parts, ", "))))
	}

	if len(result.Reports) > 0 {
		lines = append(lines, "", titleStyle.Render("Reports"))
		for _, p := range result.Reports {
			lines = append(lines, "  "+filepath.Base(p))
		}
	}

	fmt.Fprintln(w, boxStyle.Render(strings.Join(lines, "\n")))
}

func formatTotals(label string, t types.GradeTotals) string {
	return fmt.Sprintf("%-20s 10mm %10.3f (%d)  20mm %10.3f (%d)  other %10.3f (%d)",
		label, t.Quantity10, t.TripCount10, t.Quantity20, t.TripCount20, t.Other, t.TripCountOther)
}
