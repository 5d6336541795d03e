// =============================================================================
// Ledger Reconciliation - Spreadsheet Access
// =============================================================================
//
// This module turns spreadsheet files into rows of cells and writes the
// match result column back. It is the only place that knows about file
// formats:
//   - .xlsx / .xlsm  read and written with excelize
//   - .xls           read-only via extrame/xls
//   - .csv / .txt    encoding/csv, optionally decoded from a legacy code page
//
// ROW NUMBERS:
//   Row.Index is the 0-based position of the row in its sheet, so that
//   Row.Number() (Index+1) is the row number a user sees in Excel. Row
//   ranges are 1-based and inclusive. Empty rows inside the range are kept
//   (with no cells) so that positions stay stable for write-back.
//
// CELLS:
//   Every non-empty cell is returned as a string exactly as stored; empty
//   cells are nil. Interpreting values (keys, quantities) is left to the
//   caller.
//
// =============================================================================

package sheet

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ginjaninja78/ledger-reconciliation/internal/types"
)

// ErrSheetNotFound is returned when a named sheet does not exist.
var ErrSheetNotFound = errors.New("sheet not found")

// ErrUnsupportedFormat is returned for file extensions no reader handles.
var ErrUnsupportedFormat = errors.New("unsupported spreadsheet format")

// FileAccessError reports a spreadsheet that could not be opened, read or
// written.
type FileAccessError struct {
	Path string
	Op   string
	Err  error
}

func (e *FileAccessError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FileAccessError) Unwrap() error {
	return e.Err
}

func accessError(path, op string, err error) error {
	var fae *FileAccessError
	if errors.As(err, &fae) {
		return err
	}
	return &FileAccessError{Path: path, Op: op, Err: err}
}

// =============================================================================
// FORMATS
// =============================================================================

// Format identifies a spreadsheet file type.
type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatXLS  Format = "xls"
	FormatCSV  Format = "csv"
)

// DetectFormat returns the format implied by the file extension.
func DetectFormat(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return FormatXLSX, nil
	case ".xls":
		return FormatXLS, nil
	case ".csv", ".txt":
		return FormatCSV, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// =============================================================================
// WORKBOOK
// =============================================================================

// Options controls how text files are decoded. It is ignored for
// workbook formats.
type Options struct {
	// Encoding names the CSV code page ("", "utf-8", "windows-1252",
	// "iso-8859-1", or any WHATWG label).
	Encoding string

	// Delimiter is the CSV field separator; "" means comma.
	Delimiter string
}

// ResultColumn describes a result write-back.
type ResultColumn struct {
	// Path is the source spreadsheet.
	Path  string
	Sheet string

	// Column is the 0-based column index to write.
	Column int

	// HeaderRow is the 1-based header row; when > 0 and Header is set, the
	// header cell is written too.
	HeaderRow int
	Header    string

	// Values maps 0-based row index to the value to write.
	Values map[int]string

	// OutPath is where the result workbook is saved. Empty means in place,
	// which is only possible for .xlsx sources.
	OutPath string

	// Options are used to re-read non-xlsx sources.
	Options Options
}

// Workbook is the file-backed spreadsheet capability.
type Workbook struct{}

// New returns a Workbook.
func New() *Workbook {
	return &Workbook{}
}

// ListSheets returns the sheet names of a file. CSV files have a single
// sheet named after the file.
func (w *Workbook) ListSheets(ctx context.Context, path string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	format, err := DetectFormat(path)
	if err != nil {
		return nil, accessError(path, "list sheets", err)
	}

	var names []string
	switch format {
	case FormatXLSX:
		names, err = xlsxSheets(path)
	case FormatXLS:
		names, err = xlsSheets(path)
	case FormatCSV:
		names = []string{csvSheetName(path)}
	}
	if err != nil {
		return nil, accessError(path, "list sheets", err)
	}
	return names, nil
}

// ReadRows returns the rows of sheet (first sheet when empty) whose 1-based
// row number lies in rng.
func (w *Workbook) ReadRows(ctx context.Context, path, sheet string, rng types.RowRange, opts Options) ([]types.Row, error) {
	grid, err := w.readGrid(ctx, path, sheet, opts)
	if err != nil {
		return nil, err
	}

	start := rng.Start
	if start < 1 {
		start = 1
	}
	end := len(grid)
	if rng.End > 0 && rng.End < end {
		end = rng.End
	}

	rows := make([]types.Row, 0, max(0, end-start+1))
	for n := start; n <= end; n++ {
		rows = append(rows, types.Row{Index: n - 1, Cells: toCells(grid[n-1])})
	}
	return rows, nil
}

// ReadHeader returns the text of the 1-based header row. A header row past
// the end of the sheet yields an empty slice.
func (w *Workbook) ReadHeader(ctx context.Context, path, sheet string, headerRow int, opts Options) ([]string, error) {
	if headerRow < 1 {
		return nil, nil
	}
	grid, err := w.readGrid(ctx, path, sheet, opts)
	if err != nil {
		return nil, err
	}
	if headerRow > len(grid) {
		return []string{}, nil
	}
	headers := make([]string, len(grid[headerRow-1]))
	for i, v := range grid[headerRow-1] {
		headers[i] = strings.TrimSpace(v)
	}
	return headers, nil
}

// WriteResultColumn writes rc.Values into rc.Column and returns the path of
// the saved workbook.
func (w *Workbook) WriteResultColumn(ctx context.Context, rc ResultColumn) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	format, err := DetectFormat(rc.Path)
	if err != nil {
		return "", accessError(rc.Path, "write results", err)
	}

	out := rc.OutPath
	if format != FormatXLSX && out == "" {
		out = DefaultResultPath(rc.Path)
	}

	if format == FormatXLSX {
		err = writeXLSXInPlace(rc, out)
	} else {
		var grid [][]string
		grid, err = w.readGrid(ctx, rc.Path, rc.Sheet, rc.Options)
		if err == nil {
			err = writeXLSXCopy(grid, rc, out)
		}
	}
	if err != nil {
		return "", accessError(rc.Path, "write results", err)
	}
	if out == "" {
		out = rc.Path
	}
	return out, nil
}

// DefaultResultPath is where results for a non-xlsx source are saved:
// next to the source, with a .xlsx extension.
func DefaultResultPath(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + "_reconciled.xlsx"
}

func (w *Workbook) readGrid(ctx context.Context, path, sheet string, opts Options) ([][]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	format, err := DetectFormat(path)
	if err != nil {
		return nil, accessError(path, "read", err)
	}

	var grid [][]string
	switch format {
	case FormatXLSX:
		grid, err = readXLSX(path, sheet)
	case FormatXLS:
		grid, err = readXLS(path, sheet)
	case FormatCSV:
		grid, err = readCSV(path, opts)
	}
	if err != nil {
		return nil, accessError(path, "read", err)
	}
	return grid, nil
}

func toCells(values []string) []types.Cell {
	if len(values) == 0 {
		return nil
	}
	cells := make([]types.Cell, len(values))
	for i, v := range values {
		if strings.TrimSpace(v) == "" {
			continue
		}
		cells[i] = v
	}
	return cells
}
