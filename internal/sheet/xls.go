package sheet

import (
	"fmt"

	"github.com/extrame/xls"
)

// xlsCharset is used for legacy BIFF strings that are not stored as UTF-16.
const xlsCharset = "utf-8"

func openXLS(path string) (wb *xls.WorkBook, err error) {
	// The BIFF reader panics on some truncated files.
	defer func() {
		if r := recover(); r != nil {
			wb, err = nil, fmt.Errorf("corrupt xls file: %v", r)
		}
	}()

	wb, err = xls.Open(path, xlsCharset)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	return wb, nil
}

func xlsSheets(path string) ([]string, error) {
	wb, err := openXLS(path)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, wb.NumSheets())
	for i := 0; i < wb.NumSheets(); i++ {
		if s := wb.GetSheet(i); s != nil {
			names = append(names, s.Name)
		}
	}
	return names, nil
}

func readXLS(path, sheet string) ([][]string, error) {
	wb, err := openXLS(path)
	if err != nil {
		return nil, err
	}

	var ws *xls.WorkSheet
	for i := 0; i < wb.NumSheets(); i++ {
		s := wb.GetSheet(i)
		if s == nil {
			continue
		}
		if sheet == "" || s.Name == sheet {
			ws = s
			break
		}
	}
	if ws == nil {
		if sheet == "" {
			return nil, fmt.Errorf("workbook has no sheets")
		}
		return nil, fmt.Errorf("%w: %q", ErrSheetNotFound, sheet)
	}

	grid := make([][]string, 0, int(ws.MaxRow)+1)
	for i := 0; i <= int(ws.MaxRow); i++ {
		row := ws.Row(i)
		if row == nil {
			grid = append(grid, nil)
			continue
		}
		// LastCol is one past the last used column.
		values := make([]string, 0, row.LastCol())
		for j := 0; j < row.LastCol(); j++ {
			values = append(values, row.Col(j))
		}
		grid = append(grid, values)
	}
	return trimTrailingEmpty(grid), nil
}

// trimTrailingEmpty drops empty rows at the end of a sheet so that
// open-ended ranges stop at the last row with data.
func trimTrailingEmpty(grid [][]string) [][]string {
	end := len(grid)
	for end > 0 && isEmpty(grid[end-1]) {
		end--
	}
	return grid[:end]
}

func isEmpty(values []string) bool {
	for _, v := range values {
		if v != "" {
			return false
		}
	}
	return true
}
