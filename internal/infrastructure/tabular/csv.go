package tabular

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"unicode/utf8"
)

// CSVReader reads CSV exports. A UTF-8 BOM is stripped and the first 4KiB
// are checked for valid UTF-8 before any record is parsed.
type CSVReader struct {
	delimiter  rune
	lazyQuotes bool
	reader     *csv.Reader
	bufReader  *bufio.Reader
}

// CSVOption configures a CSVReader.
type CSVOption func(*CSVReader)

// WithDelimiter sets the field delimiter (default is comma)
func WithDelimiter(d rune) CSVOption {
	return func(r *CSVReader) {
		r.delimiter = d
	}
}

// WithLazyQuotes toggles lazy quote handling (default on)
func WithLazyQuotes(lazy bool) CSVOption {
	return func(r *CSVReader) {
		r.lazyQuotes = lazy
	}
}

// NewCSVReader wraps r.
func NewCSVReader(r io.Reader, opts ...CSVOption) (*CSVReader, error) {
	c := &CSVReader{
		delimiter:  ',',
		lazyQuotes: true,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.bufReader = bufio.NewReader(r)

	content, err := c.bufReader.Peek(3)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	// UTF-8 BOM: 0xEF, 0xBB, 0xBF
	if len(content) >= 3 && content[0] == 0xEF && content[1] == 0xBB && content[2] == 0xBF {
		_, _ = c.bufReader.Discard(3)
	}

	if err := validateUTF8(c.bufReader); err != nil {
		return nil, err
	}

	c.reader = csv.NewReader(c.bufReader)
	c.reader.Comma = c.delimiter
	c.reader.LazyQuotes = c.lazyQuotes
	c.reader.TrimLeadingSpace = true
	c.reader.FieldsPerRecord = -1
	return c, nil
}

func validateUTF8(r *bufio.Reader) error {
	const checkSize = 4096
	content, err := r.Peek(checkSize)
	if err != nil && err != io.EOF {
		return fmt.Errorf("failed to read file for encoding validation: %w", err)
	}
	if len(content) == 0 {
		return ErrEmptyFile
	}
	// a multi-byte rune may straddle the peek boundary
	if len(content) == checkSize {
		for i := 0; i < utf8.UTFMax && len(content) > 0 && !utf8.Valid(content); i++ {
			content = content[:len(content)-1]
		}
	}
	if !utf8.Valid(content) {
		return ErrInvalidEncoding
	}
	return nil
}

// ReadTable reads the header and every remaining record.
func (c *CSVReader) ReadTable() (*Table, error) {
	var records [][]string
	line := 0
	for {
		rec, err := c.reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("error reading row %d: %w", line, err)
		}
		records = append(records, rec)
	}
	return newTable(records)
}
