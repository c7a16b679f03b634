// Package ingest turns uploaded CSV and spreadsheet files into normalised
// rows keyed by logical field names.
package ingest

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// ErrMissingColumns is returned when a required field has no matching header.
var ErrMissingColumns = errors.New("ingest: required columns missing")

var lower = cases.Lower(language.Und)

// NormalizeHeader lowercases a header, turns punctuation and underscores into
// spaces, collapses whitespace and drops a leading byte order mark.
func NormalizeHeader(header string) string {
	header = strings.TrimPrefix(header, "\ufeff")
	header = norm.NFKC.String(header)
	header = lower.String(header)
	header = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return ' '
	}, header)
	return strings.Join(strings.Fields(header), " ")
}

// FieldSpec declares a logical field and the headers accepted for it.
type FieldSpec struct {
	Name     string
	Aliases  []string
	Required bool
}

// HeaderMap resolves logical field names to column indexes.
type HeaderMap map[string]int

// Has reports whether field was matched to a column.
func (m HeaderMap) Has(field string) bool {
	_, ok := m[field]
	return ok
}

// MissingColumnsError lists required fields that were not found.
type MissingColumnsError struct {
	Fields  []string
	Headers []string
}

func (e *MissingColumnsError) Error() string {
	return fmt.Sprintf("%s: %s (found headers: %s)", ErrMissingColumns.Error(), strings.Join(e.Fields, ", "), strings.Join(e.Headers, ", "))
}

func (e *MissingColumnsError) Unwrap() error { return ErrMissingColumns }

// MatchHeaders matches file headers against the field specs. Matching runs in
// passes of decreasing strictness: exact normalised match, match ignoring
// spaces, then token containment. A column is claimed by at most one field.
func MatchHeaders(headers []string, fields []FieldSpec) (HeaderMap, error) {
	normalized := make([]string, len(headers))
	for i, h := range headers {
		normalized[i] = NormalizeHeader(h)
	}
	matched := HeaderMap{}
	claimed := make(map[int]bool, len(headers))

	passes := []func(header, alias string) bool{
		func(header, alias string) bool { return header == alias },
		func(header, alias string) bool {
			return strings.ReplaceAll(header, " ", "") == strings.ReplaceAll(alias, " ", "")
		},
		containsTokens,
	}
	for _, pass := range passes {
		for _, field := range fields {
			if matched.Has(field.Name) {
				continue
			}
			for _, alias := range candidates(field) {
				idx := -1
				for i, header := range normalized {
					if claimed[i] || header == "" {
						continue
					}
					if pass(header, alias) {
						idx = i
						break
					}
				}
				if idx >= 0 {
					matched[field.Name] = idx
					claimed[idx] = true
					break
				}
			}
		}
	}

	var missing []string
	for _, field := range fields {
		if field.Required && !matched.Has(field.Name) {
			missing = append(missing, field.Name)
		}
	}
	if len(missing) > 0 {
		return matched, &MissingColumnsError{Fields: missing, Headers: headers}
	}
	return matched, nil
}

func candidates(field FieldSpec) []string {
	out := make([]string, 0, len(field.Aliases)+1)
	out = append(out, NormalizeHeader(field.Name))
	for _, alias := range field.Aliases {
		if n := NormalizeHeader(alias); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// containsTokens reports whether every token of alias appears, in order, in header.
func containsTokens(header, alias string) bool {
	hTokens := strings.Fields(header)
	aTokens := strings.Fields(alias)
	if len(aTokens) == 0 {
		return false
	}
	pos := 0
	for _, tok := range hTokens {
		if pos < len(aTokens) && tok == aTokens[pos] {
			pos++
		}
	}
	return pos == len(aTokens)
}
