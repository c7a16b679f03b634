package ingest

// RowError describes why a single row was rejected.
type RowError struct {
	Line    int    `json:"line"`
	Message string `json:"message"`
}

// Result summarises a batch: rows seen, applied, rejected and why.
type Result struct {
	Total   int        `json:"total"`
	Success int        `json:"success"`
	Failed  int        `json:"failed"`
	Skipped int        `json:"skipped"`
	Errors  []RowError `json:"errors,omitempty"`
}

// Succeed counts an applied row.
func (r *Result) Succeed() {
	r.Total++
	r.Success++
}

// Skip counts a row that needed no change, such as an existing record.
func (r *Result) Skip() {
	r.Total++
	r.Skipped++
}

// Fail counts a rejected row.
func (r *Result) Fail(line int, err error) {
	r.Total++
	r.Failed++
	r.Errors = append(r.Errors, RowError{Line: line, Message: err.Error()})
}

// Apply runs fn for every row, recording the outcome. fn returns skipped=true
// for rows that were valid but changed nothing.
func Apply(rows []Row, fn func(Row) (skipped bool, err error)) Result {
	var res Result
	for _, row := range rows {
		skipped, err := fn(row)
		switch {
		case err != nil:
			res.Fail(row.Line, err)
		case skipped:
			res.Skip()
		default:
			res.Succeed()
		}
	}
	return res
}
