package ingest

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// ErrUnsupportedFormat is returned for files that are neither CSV nor XLSX.
var ErrUnsupportedFormat = errors.New("ingest: unsupported file format")

// ErrEmptyFile is returned when a file has no header row.
var ErrEmptyFile = errors.New("ingest: file has no header row")

// Table is a decoded file: the header row plus data rows. HeaderLine is the
// 1-based line of the header in the source file.
type Table struct {
	Headers    []string
	Rows       [][]string
	HeaderLine int
}

// Line returns the source line number of data row i.
func (t Table) Line(i int) int {
	return t.HeaderLine + i + 1
}

// ReadTable decodes CSV or spreadsheet content, choosing the format from the
// file name and falling back to sniffing the zip signature.
func ReadTable(filename string, data []byte) (Table, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv", ".txt":
		return ReadCSV(bytes.NewReader(data))
	case ".xlsx", ".xlsm", ".xltx":
		return ReadXLSX(bytes.NewReader(data))
	case "":
		if bytes.HasPrefix(data, []byte("PK\x03\x04")) {
			return ReadXLSX(bytes.NewReader(data))
		}
		return ReadCSV(bytes.NewReader(data))
	default:
		return Table{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(filename))
	}
}

// ReadCSV decodes comma separated UTF-8 text, tolerating a byte order mark.
func ReadCSV(r io.Reader) (Table, error) {
	decoded := transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
	reader := csv.NewReader(decoded)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	records, err := reader.ReadAll()
	if err != nil {
		return Table{}, fmt.Errorf("ingest: read csv: %w", err)
	}
	return buildTable(records)
}

// ReadXLSX decodes the first worksheet of a workbook.
func ReadXLSX(r io.Reader) (Table, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return Table{}, fmt.Errorf("ingest: open workbook: %w", err)
	}
	defer func() { _ = f.Close() }()
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return Table{}, ErrEmptyFile
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return Table{}, fmt.Errorf("ingest: read sheet %s: %w", sheets[0], err)
	}
	return buildTable(rows)
}

func buildTable(records [][]string) (Table, error) {
	for i, record := range records {
		if blankRecord(record) {
			continue
		}
		return Table{Headers: record, Rows: records[i+1:], HeaderLine: i + 1}, nil
	}
	return Table{}, ErrEmptyFile
}

func blankRecord(record []string) bool {
	for _, cell := range record {
		if !IsEmpty(cell) {
			return false
		}
	}
	return true
}
