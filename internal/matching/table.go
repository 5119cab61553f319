package matching

import (
	"github.com/spigell/biz-matcher/internal/ai"
	"github.com/spigell/biz-matcher/internal/catalog"
	"github.com/spigell/biz-matcher/internal/export"
	"github.com/spigell/biz-matcher/internal/retrieval"
)

// Verdict column names, as they appear in exports.
const (
	ColumnMatch  = "Yes/No"
	ColumnReason = "Reason"
	ColumnError  = "Error"
)

// Row is one retrieved record with its evaluation outcome, if any.
type Row struct {
	Ref     retrieval.RowRef
	Record  *catalog.Record
	Verdict *ai.Verdict
	Err     error
}

// Evaluated reports whether the row went through evaluation, successfully or not.
func (r *Row) Evaluated() bool { return r.Verdict != nil || r.Err != nil }

// ResultTable holds retrieved rows in rank order together with the columns selected for display.
type ResultTable struct {
	Category catalog.Category
	Columns  []string
	Rows     []Row
	// Analyzed is set on tables produced by RunAnalysis.
	Analyzed bool
}

// Len is the number of rows.
func (t *ResultTable) Len() int { return len(t.Rows) }

// Failed counts rows whose evaluation returned an error.
func (t *ResultTable) Failed() int {
	n := 0
	for i := range t.Rows {
		if t.Rows[i].Err != nil {
			n++
		}
	}
	return n
}

// Matches counts rows whose verdict reads as a match.
func (t *ResultTable) Matches() int {
	n := 0
	for i := range t.Rows {
		if t.Rows[i].Verdict.IsMatch() {
			n++
		}
	}
	return n
}

// Header is the selected columns, followed by the verdict columns on analysed tables
// and an error column when some row failed.
func (t *ResultTable) Header() []string {
	header := append([]string(nil), t.Columns...)
	if t.Analyzed {
		header = append(header, ColumnMatch, ColumnReason)
		if t.Failed() > 0 {
			header = append(header, ColumnError)
		}
	}
	return header
}

// Cells renders every row under Header. Unevaluated or failed rows have empty verdict cells.
func (t *ResultTable) Cells() [][]string {
	withError := t.Analyzed && t.Failed() > 0
	out := make([][]string, 0, len(t.Rows))
	for i := range t.Rows {
		row := &t.Rows[i]
		cells := make([]string, 0, len(t.Columns)+3)
		for _, c := range t.Columns {
			v, _ := row.Record.Value(c)
			cells = append(cells, v)
		}
		if t.Analyzed {
			var match, reason string
			if row.Verdict != nil {
				match, reason = row.Verdict.Match, row.Verdict.Reason
			}
			cells = append(cells, match, reason)
			if withError {
				var msg string
				if row.Err != nil {
					msg = row.Err.Error()
				}
				cells = append(cells, msg)
			}
		}
		out = append(out, cells)
	}
	return out
}

// Export converts the table for the export package.
func (t *ResultTable) Export() export.Table {
	return export.Table{Header: t.Header(), Rows: t.Cells()}
}

// clone copies the table with evaluation outcomes cleared. Records are shared; they are read-only.
func (t *ResultTable) clone() *ResultTable {
	out := &ResultTable{
		Category: t.Category,
		Columns:  append([]string(nil), t.Columns...),
		Rows:     make([]Row, len(t.Rows)),
	}
	for i, r := range t.Rows {
		out.Rows[i] = Row{Ref: r.Ref, Record: r.Record}
	}
	return out
}
