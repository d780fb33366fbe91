// Package ingest turns uploaded files into row streams for the metrics engine.
package ingest

import (
	"encoding/csv"
	"errors"
	"io"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/xuri/excelize/v2"
)

// ErrUnsupportedFormat is returned for file extensions other than .csv and .xlsx.
var ErrUnsupportedFormat = eris.New("unsupported file format")

// Source yields raw rows, header first, and io.EOF at the end.
type Source interface {
	Next() ([]string, error)
	Close() error
}

// Supported reports whether filename has an ingestible extension.
func Supported(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv", ".xlsx":
		return true
	}
	return false
}

// Open picks a Source by the filename's extension.
func Open(filename string, r io.Reader) (Source, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		return NewCSVSource(r), nil
	case ".xlsx":
		return NewXLSXSource(r)
	default:
		return nil, eris.Wrapf(ErrUnsupportedFormat, "%q", filename)
	}
}

// CSVSource reads comma-separated rows incrementally.
type CSVSource struct {
	r *csv.Reader
}

// NewCSVSource wraps r. Rows may have varying widths.
func NewCSVSource(r io.Reader) *CSVSource {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = false
	return &CSVSource{r: cr}
}

func (s *CSVSource) Next() ([]string, error) {
	row, err := s.r.Read()
	if errors.Is(err, io.EOF) {
		return nil, io.EOF
	}
	if err != nil {
		return nil, eris.Wrap(err, "read csv")
	}
	return row, nil
}

func (s *CSVSource) Close() error { return nil }

// XLSXSource iterates the first worksheet of a workbook.
type XLSXSource struct {
	file *excelize.File
	rows *excelize.Rows
}

// NewXLSXSource opens the workbook in r and positions on its first sheet.
func NewXLSXSource(r io.Reader) (*XLSXSource, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, eris.Wrap(err, "open xlsx")
	}
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		_ = f.Close()
		return nil, eris.New("xlsx has no sheets")
	}
	rows, err := f.Rows(sheets[0])
	if err != nil {
		_ = f.Close()
		return nil, eris.Wrapf(err, "read sheet %q", sheets[0])
	}
	return &XLSXSource{file: f, rows: rows}, nil
}

func (s *XLSXSource) Next() ([]string, error) {
	if !s.rows.Next() {
		if err := s.rows.Error(); err != nil {
			return nil, eris.Wrap(err, "iterate xlsx rows")
		}
		return nil, io.EOF
	}
	cols, err := s.rows.Columns()
	if err != nil {
		return nil, eris.Wrap(err, "read xlsx row")
	}
	return cols, nil
}

func (s *XLSXSource) Close() error {
	rowsErr := s.rows.Close()
	if err := s.file.Close(); err != nil {
		return eris.Wrap(err, "close xlsx")
	}
	return rowsErr
}
