package ingest

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidDate is returned when no parsing tier accepts the value.
var ErrInvalidDate = errors.New("ingest: unrecognised date")

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"2006/01/02",
	"02-Jan-2006",
	"2-Jan-2006",
	"02-Jan-06",
	"02 Jan 2006",
	"2 Jan 2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"02 January 2006",
}

var (
	slashedDate = regexp.MustCompile(`^(\d{1,2})[/\-.](\d{1,2})[/\-.](\d{2}|\d{4})(?:[ T].*)?$`)
	isoAnywhere = regexp.MustCompile(`(\d{4})-(\d{1,2})-(\d{1,2})`)
)

// excelEpoch is day zero of the 1900 date system as stored by spreadsheets.
var excelEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

// ParseDate parses dates found in uploaded files. Known layouts and
// spreadsheet serial numbers are tried first. Slash separated dates are then
// read as DD/MM unless the first part cannot be a month, in which case they
// are MM/DD; ambiguous values stay DD/MM. Finally any YYYY-MM-DD substring is
// accepted.
func ParseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if IsEmpty(value) {
		return time.Time{}, fmt.Errorf("%w: empty value", ErrInvalidDate)
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return dateOnly(t), nil
		}
	}
	if t, ok := parseSerial(value); ok {
		return t, nil
	}

	if m := slashedDate.FindStringSubmatch(value); m != nil {
		first, _ := strconv.Atoi(m[1])
		second, _ := strconv.Atoi(m[2])
		year, _ := strconv.Atoi(m[3])
		if len(m[3]) == 2 {
			year += 2000
		}
		day, month := first, second
		if first <= 12 && second > 12 {
			day, month = second, first
		}
		if t, ok := buildDate(year, month, day); ok {
			return t, nil
		}
	}

	if m := isoAnywhere.FindStringSubmatch(value); m != nil {
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		day, _ := strconv.Atoi(m[3])
		if t, ok := buildDate(year, month, day); ok {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, value)
}

func parseSerial(value string) (time.Time, bool) {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil || f < 10000 || f > 2958465 {
		return time.Time{}, false
	}
	days := math.Floor(f)
	return excelEpoch.AddDate(0, 0, int(days)), true
}

func buildDate(year, month, day int) (time.Time, bool) {
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day || int(t.Month()) != month {
		return time.Time{}, false
	}
	return t, true
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
