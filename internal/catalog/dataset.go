package catalog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
)

// Dataset is a tabular dataset loaded fully into memory. Row i of the dataset is row i of the vector index.
// It is read-only after loading and safe for concurrent use.
type Dataset struct {
	columns []string
	rows    [][]string
}

// LoadCSV reads a CSV file with a header row.
func LoadCSV(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	ds, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	return ds, nil
}

// ReadCSV parses CSV data with a header row. Short rows are padded with empty cells.
func ReadCSV(r io.Reader) (*Dataset, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("empty dataset")
	}
	if err != nil {
		return nil, err
	}

	columns := make([]string, len(header))
	seen := make(map[string]struct{}, len(header))
	for i, h := range header {
		columns[i] = cleanCell(h)
		if _, dup := seen[columns[i]]; dup {
			return nil, fmt.Errorf("duplicate column %q", columns[i])
		}
		seen[columns[i]] = struct{}{}
	}

	var rows [][]string
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(row) > len(columns) {
			line, _ := reader.FieldPos(0)
			return nil, fmt.Errorf("line %d: %d fields, header has %d", line, len(row), len(columns))
		}
		for len(row) < len(columns) {
			row = append(row, "")
		}
		rows = append(rows, row)
	}

	return &Dataset{columns: columns, rows: rows}, nil
}

// Columns returns the header in file order.
func (d *Dataset) Columns() []string {
	return slices.Clone(d.columns)
}

func (d *Dataset) Len() int { return len(d.rows) }

// HasColumn reports whether the header contains column.
func (d *Dataset) HasColumn(column string) bool {
	return slices.Contains(d.columns, column)
}

// Record returns the row with the given index.
func (d *Dataset) Record(row int) (*Record, bool) {
	if row < 0 || row >= len(d.rows) {
		return nil, false
	}
	return &Record{
		Row:     row,
		Columns: slices.Clone(d.columns),
		Values:  slices.Clone(d.rows[row]),
	}, true
}

// DefaultSelection keeps the defaults present in the dataset, or every column when none are.
func (d *Dataset) DefaultSelection(defaults []string) []string {
	var out []string
	for _, c := range defaults {
		if d.HasColumn(c) {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return d.Columns()
	}
	return out
}

// ValidateColumns fails on the first column not in the header.
func (d *Dataset) ValidateColumns(columns []string) error {
	for _, c := range columns {
		if !d.HasColumn(c) {
			return fmt.Errorf("unknown column %q", c)
		}
	}
	return nil
}
