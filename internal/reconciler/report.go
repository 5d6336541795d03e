package reconciler

import (
	"github.com/ginjaninja78/ledger-reconciliation/internal/config"
	"github.com/ginjaninja78/ledger-reconciliation/internal/validation"
	"github.com/ginjaninja78/ledger-reconciliation/internal/xmlwriter"
	"github.com/ginjaninja78/ledger-reconciliation/pkg/utils"
)

// Report types used in output file names.
const (
	ReportWarnings  = "warnings"
	ReportSummary   = "summary"
	ReportUnmatched = "unmatched"
	ReportDocuments = "documents"
)

// writeReports writes the enabled side files and returns their paths.
// Report failures are logged and never fail the run.
func (r *Reconciler) writeReports(job *config.JobConfig, result *Result) []string {
	reports := utils.Reports{
		OutputDir:  r.Options.OutputDir,
		NameFormat: r.Options.FileNameFormat,
		Job:        job.Name,
	}

	var written []string
	keep := func(kind, path string, err error) {
		if err != nil {
			r.Logger.Error("Failed to write %s report: %v", kind, err)
			return
		}
		if path != "" {
			r.Logger.Debug("Wrote %s report %s", kind, path)
			written = append(written, path)
		}
	}

	if config.Enabled(job.Output.UnmatchedWorkbook) {
		path, err := utils.WriteUnmatchedWorkbook(result.UnmatchedRows, reports.Path(ReportUnmatched, ".xlsx"))
		keep(ReportUnmatched, path, err)
	}

	if config.Enabled(job.Output.ExportXML) && len(result.Documents) > 0 {
		opts := xmlwriter.DefaultGenerateOptions()
		opts.RootAttributes["job"] = job.Name
		if result.DryRun {
			opts.RootAttributes["dryRun"] = "true"
		}
		data, err := xmlwriter.GenerateWithOptions(result.Documents, opts)
		path := reports.Path(ReportDocuments, ".xml")
		if err == nil {
			err = utils.WriteFile(path, data)
		}
		if err != nil {
			path = ""
		}
		keep(ReportDocuments, path, err)
	}

	if config.Enabled(job.Output.WriteReports) {
		path, err := utils.WriteWarningLog(result.Warnings, reports.Path(ReportWarnings, ".txt"))
		keep(ReportWarnings, path, err)

		path, err = utils.WriteSummaryLog(Summary(result), reports.Path(ReportSummary, ".txt"))
		keep(ReportSummary, path, err)
	}

	return written
}

// Summary converts a Result into the run summary report.
func Summary(result *Result) utils.RunSummary {
	s := utils.RunSummary{
		Job:             result.Job,
		StartTime:       result.StartTime,
		EndTime:         result.EndTime,
		DryRun:          result.DryRun,
		LedgerFile:      result.LedgerFile,
		ResultFile:      result.ResultFile,
		MatchedCount:    result.MatchedCount,
		UnmatchedCount:  result.UnmatchedCount,
		TotalCount:      result.TotalCount,
		MatchPercentage: result.MatchPercentage,
		Files:           result.PerFileStats,
		PersistSuccess:  result.Persist.SuccessCount,
		PersistFail:     result.Persist.FailCount,
		WarningCounts:   validation.CountByKind(result.Warnings),
	}
	for _, label := range result.GroupOrder {
		s.Groups = append(s.Groups, utils.GroupLine{Label: label, Totals: result.GroupTotals[label]})
	}
	for _, d := range result.Documents {
		s.Documents = append(s.Documents, utils.DocumentLine{
			Number:       d.Number,
			Counterparty: d.CounterpartyName,
			Items:        len(d.Items),
			Excess:       d.ChargeableExcess,
			Total:        d.Total.StringFixed(2),
		})
	}
	for _, f := range result.Persist.Failures {
		s.Failures = append(s.Failures, f.Error())
	}
	return s
}
