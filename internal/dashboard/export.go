package dashboard

import (
	"encoding/csv"
	"fmt"
	"html/template"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Section is one tabular block of a dashboard export.
type Section struct {
	Title  string
	Header []string
	Rows   [][]string
}

// Sections flattens a dashboard into exportable tables.
func Sections(data Data) []Section {
	var out []Section
	if l := data.Logistics; l != nil {
		out = append(out, statusSection("Plans by status", l.PlansByStatus))
		out = append(out, Section{
			Title:  "Quantities",
			Header: []string{"Metric", "Quantity"},
			Rows: [][]string{
				{"Target", itoa(l.Quantities.Target)},
				{"Dispatched", itoa(l.Quantities.Dispatched)},
				{"Received", itoa(l.Quantities.Received)},
				{"Billed", itoa(l.Quantities.Billed)},
			},
		})
		transit := Section{Title: "In transit", Header: []string{"Load Dispatch", "Load Reference No", "Dispatch Date", "Quantity"}}
		for _, d := range l.InTransit {
			date := ""
			if d.DispatchDate != nil {
				date = d.DispatchDate.Format("2006-01-02")
			}
			transit.Rows = append(transit.Rows, []string{d.Name, d.LoadReferenceNo, date, itoa(d.Quantity)})
		}
		out = append(out, transit)
	}
	if b := data.Battery; b != nil {
		out = append(out, statusSection("Batteries by status", b.ByStatus))
		aging := Section{Title: "Battery aging", Header: []string{"Days", "Batteries"}}
		for _, bucket := range b.Aging {
			aging.Rows = append(aging.Rows, []string{bucket.Label, itoa(bucket.Count)})
		}
		out = append(out, aging)
		out = append(out, Section{
			Title:  "Battery alerts",
			Header: []string{"Metric", "Count"},
			Rows: [][]string{
				{fmt.Sprintf("Expiring within %d days", b.ExpiringDays), itoa(b.ExpiringSoon)},
				{"Discarded", itoa(b.Discarded)},
			},
		})
	}
	if d := data.Damage; d != nil {
		receipts := Section{Title: "Damage by load receipt", Header: []string{"Load Receipt", "Load Dispatch", "OK", "Not OK"}}
		for _, r := range d.Receipts {
			receipts.Rows = append(receipts.Rows, []string{r.LoadReceipt, r.LoadDispatch, itoa(r.OK), itoa(r.NotOK)})
		}
		receipts.Rows = append(receipts.Rows, []string{"Total", "", itoa(d.TotalOK), itoa(d.TotalNotOK)})
		out = append(out, receipts)
		types := Section{Title: "Top damage types", Header: []string{"Damage Type", "Frames", "Estimated Cost"}}
		for _, t := range d.TopDamageTypes {
			types.Rows = append(types.Rows, []string{t.DamageType, itoa(t.Count), t.EstimatedCost.StringFixed(2)})
		}
		out = append(out, types)
	}
	return out
}

func statusSection(title string, counts []StatusCount) Section {
	s := Section{Title: title, Header: []string{"Status", "Count"}}
	for _, c := range counts {
		s.Rows = append(s.Rows, []string{c.Status, itoa(c.Count)})
	}
	return s
}

func itoa(n int) string {
	return strconv.Itoa(n)
}

// WriteCSV emits every section as a titled CSV block separated by a blank line.
func WriteCSV(w io.Writer, data Data) error {
	writer := csv.NewWriter(w)
	for i, section := range Sections(data) {
		if i > 0 {
			if err := writer.Write([]string{}); err != nil {
				return err
			}
		}
		if err := writer.Write([]string{section.Title}); err != nil {
			return err
		}
		if err := writer.Write(section.Header); err != nil {
			return err
		}
		if err := writer.WriteAll(section.Rows); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteXLSX emits one worksheet per section.
func WriteXLSX(w io.Writer, data Data) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	const defaultSheet = "Sheet1"
	for i, section := range Sections(data) {
		name := sheetName(section.Title)
		if i == 0 {
			if err := f.SetSheetName(defaultSheet, name); err != nil {
				return err
			}
		} else if _, err := f.NewSheet(name); err != nil {
			return err
		}
		if err := f.SetSheetRow(name, "A1", &section.Header); err != nil {
			return err
		}
		for r, row := range section.Rows {
			cell, err := excelize.CoordinatesToCellName(1, r+2)
			if err != nil {
				return err
			}
			values := make([]any, len(row))
			for c, v := range row {
				if n, err := strconv.Atoi(v); err == nil {
					values[c] = n
				} else {
					values[c] = v
				}
			}
			if err := f.SetSheetRow(name, cell, &values); err != nil {
				return err
			}
		}
	}
	return f.Write(w)
}

// sheetName trims titles to the 31 characters a worksheet name may hold.
func sheetName(title string) string {
	if len(title) > 31 {
		return title[:31]
	}
	return title
}

var htmlTemplate = template.Must(template.New("dashboard").Parse(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>{{.Title}}</title>
<style>body{font-family:sans-serif;font-size:11px}table{border-collapse:collapse;margin-bottom:16px}th,td{border:1px solid #999;padding:3px 6px;text-align:left}th{background:#eee}</style>
</head><body>
<h1>{{.Title}}</h1>
<p>Generated {{.Generated}}</p>
{{range .Sections}}<h2>{{.Title}}</h2>
<table><thead><tr>{{range .Header}}<th>{{.}}</th>{{end}}</tr></thead>
<tbody>{{range .Rows}}<tr>{{range .}}<td>{{.}}</td>{{end}}</tr>{{end}}</tbody></table>
{{end}}</body></html>`))

// WriteHTML renders every section as an HTML table, the input for PDF export.
func WriteHTML(w io.Writer, data Data) error {
	return htmlTemplate.Execute(w, struct {
		Title     string
		Generated string
		Sections  []Section
	}{
		Title:     fmt.Sprintf("%s dashboard", strings.ToUpper(string(data.Dashboard[:1]))+string(data.Dashboard[1:])),
		Generated: data.GeneratedAt.Format("2006-01-02 15:04 MST"),
		Sections:  Sections(data),
	})
}
