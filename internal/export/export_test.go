package export

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"gopkg.in/yaml.v3"
)

func sample() Table {
	return Table{
		Header: []string{"name_EN", "employees", "Yes/No", "Reason"},
		Rows: [][]string{
			{"Acme", "12", "Yes", "Builds printers"},
			{"Globex", "", "No", "Unrelated"},
			{"Initech", "3.5", "Yes", "Software"},
		},
	}
}

func TestWriteXLSXRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "result.xlsx")
	table := sample()

	require.NoError(t, WriteXLSX(path, table))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{SheetName}, f.GetSheetList())

	rows, err := f.GetRows(SheetName)
	require.NoError(t, err)
	require.Len(t, rows, len(table.Rows)+1)
	assert.Equal(t, table.Header, rows[0])
	for i, row := range table.Rows {
		assert.Equal(t, row, rows[i+1])
	}
}

func TestWriteXLSXKeepsNumbersNumeric(t *testing.T) {
	path := filepath.Join(t.TempDir(), "result.xlsx")
	require.NoError(t, WriteXLSX(path, sample()))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	textTypes := []excelize.CellType{excelize.CellTypeSharedString, excelize.CellTypeInlineString}

	typ, err := f.GetCellType(SheetName, "B2")
	require.NoError(t, err)
	assert.NotContains(t, textTypes, typ)

	typ, err = f.GetCellType(SheetName, "A2")
	require.NoError(t, err)
	assert.Contains(t, textTypes, typ)
}

func TestNumericColumns(t *testing.T) {
	table := Table{
		Header: []string{"a", "b", "c", "d"},
		Rows: [][]string{
			{"1", "x", "", "NaN"},
			{"2.5", "3", "", "1"},
		},
	}
	assert.Equal(t, []bool{true, false, false, false}, numericColumns(table))
}

func TestValidate(t *testing.T) {
	require.Error(t, Table{}.Validate())
	require.Error(t, Table{Header: []string{"a"}, Rows: [][]string{{"1", "2"}}}.Validate())
	require.Error(t, WriteXLSX(filepath.Join(t.TempDir(), "x.xlsx"), Table{}))
}

func TestDumpToTmpFileJSON(t *testing.T) {
	name, err := DumpToTmpFile(sample(), FormatJSON)
	require.NoError(t, err)
	t.Cleanup(func() { os.Remove(name) })

	assert.Equal(t, ".json", filepath.Ext(name))

	data, err := os.ReadFile(name)
	require.NoError(t, err)

	var got []map[string]string
	require.NoError(t, json.Unmarshal(data, &got))
	require.Len(t, got, 3)
	assert.Equal(t, "Acme", got[0]["name_EN"])
	assert.Equal(t, "Unrelated", got[1]["Reason"])
}

func TestDumpToTmpFileYAMLKeepsColumnOrder(t *testing.T) {
	name, err := DumpToTmpFile(sample(), FormatYAML)
	require.NoError(t, err)
	t.Cleanup(func() { os.Remove(name) })

	data, err := os.ReadFile(name)
	require.NoError(t, err)

	var docs []yaml.Node
	require.NoError(t, yaml.Unmarshal(data, &docs))
	require.Len(t, docs, 3)
	assert.Equal(t, "name_EN", docs[0].Content[0].Value)
	assert.Equal(t, "employees", docs[0].Content[2].Value)
	assert.Equal(t, "12", docs[0].Content[3].Value)
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("YML")
	require.NoError(t, err)
	assert.Equal(t, FormatYAML, f)

	f, err = ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)

	_, err = ParseFormat("csv")
	require.Error(t, err)
}
