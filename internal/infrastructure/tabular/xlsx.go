package tabular

import (
	"fmt"

	"github.com/xuri/excelize/v2"
)

// ReadWorkbook reads the first sheet of a workbook. Leading blank rows are
// skipped; the first non-blank row is the header.
func ReadWorkbook(path string) (*Table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook %s: %w", path, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmptyFile
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return nil, ErrEmptyFile
	}

	for len(rows) > 0 && isBlank(rows[0]) {
		rows = rows[1:]
	}
	return newTable(rows)
}
