package ingest

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

var batteryFields = []FieldSpec{
	{Name: "battery_serial_no", Aliases: []string{"Battery Serial No", "Battery No", "Serial No"}, Required: true},
	{Name: "frame_no", Aliases: []string{"Frame No", "Chassis No", "Frame Number"}},
	{Name: "charging_date", Aliases: []string{"Charging Date", "Charged On"}},
}

func TestNormalizeHeader(t *testing.T) {
	cases := map[string]string{
		"\ufeffFrame_No.":        "frame no",
		"  Battery   Serial-No ": "battery serial no",
		"CHARGING__DATE":         "charging date",
		"Key #":                  "key",
	}
	for in, want := range cases {
		require.Equal(t, want, NormalizeHeader(in), in)
	}
}

func TestMatchHeadersPrefersExactThenFuzzy(t *testing.T) {
	headers := []string{"Sr.", "BATTERY_SERIAL_NO", "Frame No (Chassis)", "Charged On"}
	m, err := MatchHeaders(headers, batteryFields)
	require.NoError(t, err)
	require.Equal(t, 1, m["battery_serial_no"])
	require.Equal(t, 2, m["frame_no"])
	require.Equal(t, 3, m["charging_date"])
}

func TestMatchHeadersMissingRequired(t *testing.T) {
	_, err := MatchHeaders([]string{"Frame No", "Charging Date"}, batteryFields)
	require.ErrorIs(t, err, ErrMissingColumns)
	var missing *MissingColumnsError
	require.True(t, errors.As(err, &missing))
	require.Equal(t, []string{"battery_serial_no"}, missing.Fields)
}

func TestParseDateTiers(t *testing.T) {
	want := time.Date(2025, 5, 13, 0, 0, 0, 0, time.UTC)
	for _, in := range []string{
		"2025-05-13",
		"2025-05-13 08:30:00",
		"13-May-2025",
		"13/05/2025",
		"05/13/2025",
		"13.05.2025",
		"45790",
		"charged 2025-05-13 at dock",
	} {
		got, err := ParseDate(in)
		require.NoError(t, err, in)
		require.True(t, want.Equal(got), "%s parsed as %s", in, got)
	}
}

func TestParseDateAmbiguousDefaultsToDayFirst(t *testing.T) {
	got, err := ParseDate("02/03/2025")
	require.NoError(t, err)
	require.Equal(t, time.March, got.Month())
	require.Equal(t, 2, got.Day())

	got, err = ParseDate("02/03/25")
	require.NoError(t, err)
	require.Equal(t, 2025, got.Year())
}

func TestParseDateRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "nan", "31/31/2025", "soon"} {
		_, err := ParseDate(in)
		require.ErrorIs(t, err, ErrInvalidDate, in)
	}
}

func TestCleanIdentifier(t *testing.T) {
	require.Equal(t, "123456", CleanIdentifier("123456.0"))
	require.Equal(t, "MD2A11CZ", CleanIdentifier(" MD2A11CZ "))
	require.Equal(t, "", CleanIdentifier("NaN"))
	require.Equal(t, "12.5", CleanIdentifier("12.5"))
}

func TestReadCSVWithBOMAndExtract(t *testing.T) {
	data := []byte("\ufeffBattery Serial No,Frame No,Charging Date\n" +
		"BAT-1,FR-1,13/05/2025\n" +
		",,\n" +
		"BAT-2,nan,\n" +
		"98765.0,FR-3,2025-05-01\n")
	table, err := ReadTable("batteries.csv", data)
	require.NoError(t, err)
	require.Equal(t, "Battery Serial No", table.Headers[0])

	rows, err := Extract(table, batteryFields)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, 2, rows[0].Line)
	require.Equal(t, "FR-1", rows[0].Get("frame_no"))
	require.Equal(t, "", rows[1].Get("frame_no"))
	require.Equal(t, 4, rows[1].Line)
	require.Equal(t, "98765", rows[2].ID("battery_serial_no"))

	date, err := rows[0].Date("charging_date")
	require.NoError(t, err)
	require.Equal(t, time.Date(2025, 5, 13, 0, 0, 0, 0, time.UTC), date)
}

func TestReadXLSXFirstSheet(t *testing.T) {
	f := excelize.NewFile()
	require.NoError(t, f.SetCellValue("Sheet1", "A1", "Frame No"))
	require.NoError(t, f.SetCellValue("Sheet1", "B1", "Battery No"))
	require.NoError(t, f.SetCellValue("Sheet1", "A2", "FR-9"))
	require.NoError(t, f.SetCellValue("Sheet1", "B2", "BAT-9"))
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))

	table, err := ReadTable("upload", buf.Bytes())
	require.NoError(t, err)
	require.Equal(t, 1, table.HeaderLine)

	rows, err := Extract(table, batteryFields)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, 2, rows[0].Line)
	require.Equal(t, "BAT-9", rows[0].Get("battery_serial_no"))
}

func TestReadTableUnsupported(t *testing.T) {
	_, err := ReadTable("notes.pdf", []byte("%PDF"))
	require.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestApplyCountsOutcomes(t *testing.T) {
	rows := []Row{NewRow(2, map[string]string{"a": "1"}), NewRow(3, map[string]string{"a": "2"}), NewRow(4, map[string]string{"a": "3"})}
	res := Apply(rows, func(r Row) (bool, error) {
		switch r.Get("a") {
		case "2":
			return true, nil
		case "3":
			return false, errors.New("bad row")
		}
		return false, nil
	})
	require.Equal(t, Result{Total: 3, Success: 1, Failed: 1, Skipped: 1, Errors: []RowError{{Line: 4, Message: "bad row"}}}, res)
}
