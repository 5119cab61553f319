// Package export writes result tables to spreadsheet and dump files.
package export

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
	"gopkg.in/yaml.v3"
)

// SheetName is the worksheet the table is written to.
const SheetName = "result"

// Table is a rectangular set of text cells under a header.
type Table struct {
	Header []string   `json:"header" yaml:"header"`
	Rows   [][]string `json:"rows" yaml:"rows"`
}

// Validate checks that every row has one cell per header column.
func (t Table) Validate() error {
	if len(t.Header) == 0 {
		return errors.New("table has no columns")
	}
	for i, row := range t.Rows {
		if len(row) != len(t.Header) {
			return fmt.Errorf("row %d has %d cells, header has %d", i, len(row), len(t.Header))
		}
	}
	return nil
}

// WriteXLSX writes the table to path as a workbook with one header row.
// Columns whose non-empty cells are all numbers are written as numbers.
func WriteXLSX(path string, t Table) error {
	f, err := Workbook(t)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}

// Workbook builds the in-memory workbook for t.
func Workbook(t Table) (*excelize.File, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	if err := f.SetSheetName(f.GetSheetName(0), SheetName); err != nil {
		f.Close()
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	numeric := numericColumns(t)

	for r, row := range append([][]string{t.Header}, t.Rows...) {
		cells := make([]any, len(row))
		for c, v := range row {
			cells[c] = v
			if r > 0 && numeric[c] && v != "" {
				n, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
				cells[c] = n
			}
		}

		cell, err := excelize.CoordinatesToCellName(1, r+1)
		if err != nil {
			f.Close()
			return nil, err
		}
		if err := f.SetSheetRow(SheetName, cell, &cells); err != nil {
			f.Close()
			return nil, fmt.Errorf("write row %d: %w", r, err)
		}
	}

	return f, nil
}

func numericColumns(t Table) []bool {
	numeric := make([]bool, len(t.Header))
	for c := range t.Header {
		seen := false
		numeric[c] = true
		for _, row := range t.Rows {
			v := strings.TrimSpace(row[c])
			if v == "" {
				continue
			}
			seen = true
			n, err := strconv.ParseFloat(v, 64)
			if err != nil || math.IsInf(n, 0) || math.IsNaN(n) {
				numeric[c] = false
				break
			}
		}
		numeric[c] = numeric[c] && seen
	}
	return numeric
}

// Format of a dump file.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat accepts "json", "yaml" or "yml".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json", "":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unsupported dump format %q", s)
	}
}

// DumpToTmpFile writes the table as a list of column-keyed objects to a new temporary file
// and returns its name.
func DumpToTmpFile(t Table, format Format) (string, error) {
	if err := t.Validate(); err != nil {
		return "", err
	}

	file, err := os.CreateTemp("", "matching_*."+string(format))
	if err != nil {
		return "", err
	}
	defer file.Close()

	switch format {
	case FormatJSON:
		enc := json.NewEncoder(file)
		enc.SetIndent("", "  ")
		err = enc.Encode(t.maps())
	case FormatYAML:
		enc := yaml.NewEncoder(file)
		enc.SetIndent(2)
		err = enc.Encode(t.nodes())
		if err == nil {
			err = enc.Close()
		}
	default:
		err = fmt.Errorf("unsupported dump format %q", format)
	}
	if err != nil {
		return "", err
	}
	return file.Name(), nil
}

func (t Table) maps() []map[string]string {
	out := make([]map[string]string, 0, len(t.Rows))
	for _, row := range t.Rows {
		m := make(map[string]string, len(t.Header))
		for c, h := range t.Header {
			m[h] = row[c]
		}
		out = append(out, m)
	}
	return out
}

// nodes keeps the header order, which a map would lose.
func (t Table) nodes() []*yaml.Node {
	out := make([]*yaml.Node, 0, len(t.Rows))
	for _, row := range t.Rows {
		node := &yaml.Node{Kind: yaml.MappingNode}
		for c, h := range t.Header {
			node.Content = append(node.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: h},
				&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: row[c]},
			)
		}
		out = append(out, node)
	}
	return out
}
