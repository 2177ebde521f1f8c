// Package tabular reads collected export files into header-keyed rows.
package tabular

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

var (
	// ErrEmptyFile is returned when a file has no content
	ErrEmptyFile = errors.New("file is empty")

	// ErrInvalidEncoding is returned when a CSV file is not UTF-8
	ErrInvalidEncoding = errors.New("invalid file encoding")

	// ErrMissingHeader is returned when no header row can be found
	ErrMissingHeader = errors.New("file missing header row")

	// ErrUnsupportedFormat is returned for extensions with no reader
	ErrUnsupportedFormat = errors.New("unsupported file format")
)

// Table is a file read into memory. Rows are keyed by header; cells beyond
// the header width are dropped and missing cells are empty strings.
type Table struct {
	Headers []string
	Rows    []map[string]string
}

// Len returns the number of data rows.
func (t *Table) Len() int {
	return len(t.Rows)
}

// Column returns every value of one column in row order.
func (t *Table) Column(name string) []string {
	out := make([]string, 0, len(t.Rows))
	for _, r := range t.Rows {
		out = append(out, r[name])
	}
	return out
}

// Sample returns up to n non-empty values of a column.
func (t *Table) Sample(name string, n int) []string {
	out := make([]string, 0, n)
	for _, r := range t.Rows {
		if len(out) >= n {
			break
		}
		if v := r[name]; v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Rename returns a copy with columns renamed through columnToField. Columns
// not in the map keep their header.
func (t *Table) Rename(columnToField map[string]string) *Table {
	out := &Table{
		Headers: make([]string, len(t.Headers)),
		Rows:    make([]map[string]string, len(t.Rows)),
	}
	for i, h := range t.Headers {
		if f, ok := columnToField[h]; ok {
			out.Headers[i] = f
		} else {
			out.Headers[i] = h
		}
	}
	for i, r := range t.Rows {
		row := make(map[string]string, len(r))
		for h, v := range r {
			if f, ok := columnToField[h]; ok {
				row[f] = v
			} else if _, taken := row[h]; !taken {
				row[h] = v
			}
		}
		out.Rows[i] = row
	}
	return out
}

// Without returns a table sharing t's headers minus the rows at the given
// indexes. Out-of-range indexes are ignored.
func (t *Table) Without(rows []int) *Table {
	drop := make(map[int]bool, len(rows))
	for _, i := range rows {
		drop[i] = true
	}
	out := &Table{Headers: t.Headers, Rows: make([]map[string]string, 0, len(t.Rows))}
	for i, r := range t.Rows {
		if !drop[i] {
			out.Rows = append(out.Rows, r)
		}
	}
	return out
}

// Open reads a .csv, .xlsx or .xls file.
func Open(path string) (*Table, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", path, err)
		}
		defer f.Close()

		r, err := NewCSVReader(f)
		if err != nil {
			return nil, err
		}
		return r.ReadTable()
	case ".xlsx", ".xls":
		return ReadWorkbook(path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// newTable builds a table from raw records whose first element is the header.
func newTable(records [][]string) (*Table, error) {
	if len(records) == 0 {
		return nil, ErrMissingHeader
	}
	headers := make([]string, len(records[0]))
	for i, h := range records[0] {
		headers[i] = trimSpaces(h)
	}
	if isBlank(headers) {
		return nil, ErrMissingHeader
	}

	t := &Table{Headers: headers, Rows: make([]map[string]string, 0, len(records)-1)}
	for _, rec := range records[1:] {
		if isBlank(rec) {
			continue
		}
		row := make(map[string]string, len(headers))
		for i, h := range headers {
			if i < len(rec) {
				row[h] = trimSpaces(rec[i])
			} else {
				row[h] = ""
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

func isBlank(cells []string) bool {
	for _, c := range cells {
		if trimSpaces(c) != "" {
			return false
		}
	}
	return true
}

// trimSpaces trims ASCII whitespace from both ends
func trimSpaces(s string) string {
	start := 0
	end := len(s)

	for start < end {
		r, size := utf8.DecodeRuneInString(s[start:])
		if !isWhitespace(r) {
			break
		}
		start += size
	}

	for end > start {
		r, size := utf8.DecodeLastRuneInString(s[:end])
		if !isWhitespace(r) {
			break
		}
		end -= size
	}

	return s[start:end]
}

func isWhitespace(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r', '\v', '\f':
		return true
	}
	return false
}
