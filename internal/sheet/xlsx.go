package sheet

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"
)

// maxSheetNameLength is Excel's limit on sheet names.
const maxSheetNameLength = 31

func xlsxSheets(path string) ([]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()
	return f.GetSheetList(), nil
}

// resolveXLSXSheet returns the named sheet, or the first sheet when name
// is empty.
func resolveXLSXSheet(f *excelize.File, name string) (string, error) {
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return "", fmt.Errorf("workbook has no sheets")
	}
	if name == "" {
		return sheets[0], nil
	}
	for _, s := range sheets {
		if s == name {
			return s, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrSheetNotFound, name)
}

func readXLSX(path, sheet string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	name, err := resolveXLSXSheet(f, sheet)
	if err != nil {
		return nil, err
	}

	// Raw values keep ticket numbers out of number formats ("1.23E+09").
	rows, err := f.GetRows(name, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}
	return rows, nil
}

func writeXLSXInPlace(rc ResultColumn, out string) error {
	f, err := excelize.OpenFile(rc.Path)
	if err != nil {
		return fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	name, err := resolveXLSXSheet(f, rc.Sheet)
	if err != nil {
		return err
	}
	if err := setResultCells(f, name, rc); err != nil {
		return err
	}

	if out == "" {
		if err := f.Save(); err != nil {
			return fmt.Errorf("failed to save workbook: %w", err)
		}
		return nil
	}
	return saveAs(f, out)
}

func writeXLSXCopy(grid [][]string, rc ResultColumn, out string) error {
	f := excelize.NewFile()
	defer f.Close()

	name := rc.Sheet
	if name == "" {
		name = csvSheetName(rc.Path)
	}
	if len(name) > maxSheetNameLength {
		name = name[:maxSheetNameLength]
	}
	if err := f.SetSheetName("Sheet1", name); err != nil {
		name = "Sheet1"
	}

	for i, values := range grid {
		if len(values) == 0 {
			continue
		}
		row := make([]interface{}, len(values))
		for j, v := range values {
			row[j] = v
		}
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(name, cell, &row); err != nil {
			return fmt.Errorf("failed to copy row %d: %w", i+1, err)
		}
	}

	if err := setResultCells(f, name, rc); err != nil {
		return err
	}
	return saveAs(f, out)
}

func setResultCells(f *excelize.File, sheet string, rc ResultColumn) error {
	if rc.HeaderRow > 0 && rc.Header != "" {
		cell, err := excelize.CoordinatesToCellName(rc.Column+1, rc.HeaderRow)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, rc.Header); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
	}

	for index, value := range rc.Values {
		cell, err := excelize.CoordinatesToCellName(rc.Column+1, index+1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, value); err != nil {
			return fmt.Errorf("failed to write %s: %w", cell, err)
		}
	}
	return nil
}

func saveAs(f *excelize.File, out string) error {
	if dir := filepath.Dir(out); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	if err := f.SaveAs(out); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	return nil
}
