package ingest

import (
	"regexp"
	"strings"
)

var floatArtefact = regexp.MustCompile(`^-?\d+\.0+$`)

var emptyMarkers = map[string]struct{}{
	"":          {},
	"nan":       {},
	"none":      {},
	"null":      {},
	"nat":       {},
	"#n/a":      {},
	"n/a":       {},
	"undefined": {},
}

// IsEmpty reports whether a cell holds no usable value.
func IsEmpty(value string) bool {
	_, ok := emptyMarkers[strings.ToLower(strings.TrimSpace(value))]
	return ok
}

// CleanValue trims a cell and maps empty markers to "".
func CleanValue(value string) string {
	if IsEmpty(value) {
		return ""
	}
	return strings.TrimSpace(value)
}

// CleanIdentifier additionally strips the ".0" suffix spreadsheets add to
// numeric identifiers such as frame or key numbers.
func CleanIdentifier(value string) string {
	value = CleanValue(value)
	if floatArtefact.MatchString(value) {
		value = value[:strings.IndexByte(value, '.')]
	}
	return value
}
