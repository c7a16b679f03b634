package ingest

import (
	"fmt"
	"time"
)

// Row is one data row addressed by logical field name.
type Row struct {
	Line   int
	values map[string]string
}

// NewRow builds a row from already extracted values.
func NewRow(line int, values map[string]string) Row {
	cleaned := make(map[string]string, len(values))
	for k, v := range values {
		if v = CleanValue(v); v != "" {
			cleaned[k] = v
		}
	}
	return Row{Line: line, values: cleaned}
}

// Get returns the cleaned value of field or "".
func (r Row) Get(field string) string {
	return r.values[field]
}

// ID returns the value of field with spreadsheet float artefacts removed.
func (r Row) ID(field string) string {
	return CleanIdentifier(r.values[field])
}

// Date parses field with ParseDate. A missing value yields the zero time.
func (r Row) Date(field string) (time.Time, error) {
	v := r.values[field]
	if v == "" {
		return time.Time{}, nil
	}
	t, err := ParseDate(v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: %w", field, err)
	}
	return t, nil
}

// Extract matches the table headers against fields and returns every
// non-blank row. Cells holding empty markers are dropped from the row.
func Extract(table Table, fields []FieldSpec) ([]Row, error) {
	headers, err := MatchHeaders(table.Headers, fields)
	if err != nil {
		return nil, err
	}
	rows := make([]Row, 0, len(table.Rows))
	for i, record := range table.Rows {
		if blankRecord(record) {
			continue
		}
		values := make(map[string]string, len(headers))
		for field, idx := range headers {
			if idx < len(record) {
				values[field] = record[idx]
			}
		}
		row := NewRow(table.Line(i), values)
		if len(row.values) == 0 {
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}
