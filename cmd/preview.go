package cmd

import (
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/spigell/biz-matcher/internal/matching"
	"github.com/spigell/biz-matcher/internal/utils"
)

const previewCellLimit = 60

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	matchStyle  = cellStyle.Copy().Foreground(lipgloss.Color("10"))
)

// renderPreview draws the table with long cells shortened. The first column is the retrieval rank.
func renderPreview(t *matching.ResultTable, cellLimit int) string {
	if cellLimit <= 0 || cellLimit > previewCellLimit {
		cellLimit = previewCellLimit
	}

	header := append([]string{"#"}, t.Header()...)
	matchCol := -1
	for i, h := range header {
		if h == matching.ColumnMatch {
			matchCol = i
		}
	}

	cells := t.Cells()
	rows := make([][]string, 0, len(cells))
	for i, row := range cells {
		line := make([]string, 0, len(row)+1)
		line = append(line, strconv.Itoa(t.Rows[i].Ref.Rank))
		for _, c := range row {
			line = append(line, utils.TruncateForLog(c, cellLimit))
		}
		rows = append(rows, line)
	}

	tbl := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(borderStyle).
		Headers(header...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == 0:
				return headerStyle
			case col == matchCol && row-1 < len(t.Rows) && t.Rows[row-1].Verdict.IsMatch():
				return matchStyle
			default:
				return cellStyle
			}
		})

	return tbl.String()
}

func printPreview(w io.Writer, t *matching.ResultTable, cellLimit int) {
	if t == nil || t.Len() == 0 {
		fmt.Fprintln(w, noResultsMessage)
		return
	}
	fmt.Fprintln(w, renderPreview(t, cellLimit))
}

// printProgress prints every assessed candidate as soon as its verdict arrives.
func printProgress(w io.Writer, columns []string) matching.ProgressFunc {
	return func(done, total int, row matching.Row) {
		fmt.Fprintf(w, "[%d/%d] Company %d:\n", done, total, row.Ref.Row)
		for _, c := range columns {
			v, _ := row.Record.Value(c)
			fmt.Fprintf(w, "%s: %s\n", c, v)
		}
		switch {
		case row.Err != nil:
			fmt.Fprintf(w, "%s: %v\n", matching.ColumnError, row.Err)
		case row.Verdict != nil:
			fmt.Fprintf(w, "%s: %s\n", matching.ColumnMatch, row.Verdict.Match)
			fmt.Fprintf(w, "%s: %s\n", matching.ColumnReason, row.Verdict.Reason)
		}
		fmt.Fprintln(w, "---")
	}
}
