package catalog

import (
	"strings"
	"unicode/utf8"
)

// Record is one dataset row. Columns and Values are parallel slices.
type Record struct {
	Row     int
	Columns []string
	Values  []string
}

// Value returns the cell of the named column.
func (r *Record) Value(column string) (string, bool) {
	for i, c := range r.Columns {
		if c == column {
			return r.Values[i], true
		}
	}
	return "", false
}

// Text renders the record as one "column value" line per column with the values aligned.
func (r *Record) Text() string {
	width := 0
	for _, c := range r.Columns {
		if n := utf8.RuneCountInString(c); n > width {
			width = n
		}
	}

	var b strings.Builder
	for i, c := range r.Columns {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(c)
		b.WriteString(strings.Repeat(" ", width-utf8.RuneCountInString(c)+4))
		b.WriteString(r.Values[i])
	}
	return b.String()
}
