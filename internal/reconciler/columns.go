package reconciler

import (
	"context"
	"errors"
	"fmt"

	"github.com/ginjaninja78/ledger-reconciliation/internal/columns"
	"github.com/ginjaninja78/ledger-reconciliation/internal/config"
	"github.com/ginjaninja78/ledger-reconciliation/internal/sheet"
)

// LedgerLayout is the ledger after its column references were resolved
// against its header row. Column indexes are 0-based.
type LedgerLayout struct {
	Sheet   string
	Headers []string

	IDColumns         []int
	ResultColumn      int
	DescriptionColumn int
	QuantityColumn    int

	// NewResultColumn is set when no result column exists and one is
	// appended after the last header.
	NewResultColumn bool
}

// FileLayout is one counterparty file after column resolution.
type FileLayout struct {
	Config    config.CounterpartyFileConfig
	Sheet     string
	Headers   []string
	IDColumns []int

	// Err is set when the file could not be read. The file is then
	// skipped with a warning.
	Err error
}

// Layout is the resolved shape of every file of a job.
type Layout struct {
	Ledger LedgerLayout
	Files  []FileLayout
}

// ResolveLayout reads every header row of the job and resolves its column
// references. Unresolvable ledger columns are a *config.ConfigError and an
// unreadable ledger a *sheet.FileAccessError; both abort the run before
// anything is written. Counterparty files that cannot be read, or whose
// identifier columns cannot be resolved, are reported in FileLayout.Err and
// skipped by the run.
func ResolveLayout(ctx context.Context, sheets Sheets, job *config.JobConfig) (*Layout, error) {
	ledger, err := resolveLedger(ctx, sheets, job)
	if err != nil {
		return nil, err
	}

	layout := &Layout{Ledger: *ledger}
	for i, f := range job.CounterpartyFiles {
		fl := FileLayout{Config: f, Sheet: f.Sheet}

		opts := sheet.Options{Encoding: f.Encoding, Delimiter: f.Delimiter}
		headers, err := sheets.ReadHeader(ctx, f.Path, f.Sheet, config.HeaderRowOf(f.HeaderRow), opts)
		if err != nil {
			var fae *sheet.FileAccessError
			if !errors.As(err, &fae) && !errors.Is(err, sheet.ErrSheetNotFound) {
				return nil, err
			}
			fl.Err = err
			layout.Files = append(layout.Files, fl)
			continue
		}
		fl.Headers = headers

		field := fmt.Sprintf("counterparty_files[%d].id_columns", i)
		fl.IDColumns, err = config.ResolveAll(field, f.IDColumns, headers)
		if err != nil {
			fl.Err = withFile(err, job)
		}
		layout.Files = append(layout.Files, fl)
	}
	return layout, nil
}

func resolveLedger(ctx context.Context, sheets Sheets, job *config.JobConfig) (*LedgerLayout, error) {
	lc := job.Ledger
	headerRow := config.HeaderRowOf(lc.HeaderRow)

	headers, err := sheets.ReadHeader(ctx, lc.Path, lc.Sheet, headerRow, sheet.Options{Encoding: lc.Encoding, Delimiter: lc.Delimiter})
	if err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}

	out := &LedgerLayout{Sheet: lc.Sheet, Headers: headers}

	if out.IDColumns, err = config.ResolveAll("ledger.id_columns", lc.IDColumns, headers); err != nil {
		return nil, withFile(err, job)
	}
	if out.QuantityColumn, err = lc.QuantityColumn.Resolve("ledger.quantity_column", headers, columns.RoleQuantity); err != nil {
		return nil, withFile(err, job)
	}

	// The description column is optional: grades are also looked for in
	// the rest of the row.
	out.DescriptionColumn = -1
	if !lc.DescriptionColumn.IsAuto() {
		if out.DescriptionColumn, err = lc.DescriptionColumn.Resolve("ledger.description_column", headers, columns.RoleDescription); err != nil {
			return nil, withFile(err, job)
		}
	} else if idx, ok := columns.IdentifyRole(headers, columns.RoleDescription); ok {
		out.DescriptionColumn = idx
	}

	if !lc.ResultColumn.IsAuto() {
		if out.ResultColumn, err = lc.ResultColumn.Resolve("ledger.result_column", headers, columns.RoleResult); err != nil {
			return nil, withFile(err, job)
		}
	} else if idx, ok := columns.IdentifyRole(headers, columns.RoleResult); ok {
		out.ResultColumn = idx
	} else {
		out.ResultColumn = len(headers)
		out.NewResultColumn = true
	}

	for _, id := range out.IDColumns {
		if id == out.ResultColumn {
			return nil, withFile(&config.ConfigError{
				Field:   "ledger.result_column",
				Problem: "result column is also an identifier column",
			}, job)
		}
	}
	return out, nil
}

// withFile fills in the job file on a ConfigError.
func withFile(err error, job *config.JobConfig) error {
	var ce *config.ConfigError
	if errors.As(err, &ce) && ce.File == "" {
		ce.File = job.Path()
	}
	return err
}
