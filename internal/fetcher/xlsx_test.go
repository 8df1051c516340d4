package fetcher

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

func createTestXLSX(t *testing.T, sheets map[string][][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	for name, rows := range sheets {
		sheet, err := f.AddSheet(name)
		require.NoError(t, err)
		for _, rowData := range rows {
			row := sheet.AddRow()
			for _, cellData := range rowData {
				cell := row.AddCell()
				cell.SetString(cellData)
			}
		}
	}
	path := filepath.Join(t.TempDir(), "manifest.xlsx")
	err := f.Save(path)
	require.NoError(t, err)
	return path
}

func TestReadXLSX_Basic(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{
		"Sheet1": {
			{"Cntr#", "ETA (UTC)", "Carrier"},
			{"MSKU1234567", "2024-01-10", "Maersk"},
			{"TCLU7654321", "2024-01-12", "CMA CGM"},
		},
	})

	m, err := ReadXLSX(path, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Cntr#", "ETA (UTC)", "Carrier"}, m.Headers)
	require.Len(t, m.Rows, 2)
	assert.Equal(t, []string{"MSKU1234567", "2024-01-10", "Maersk"}, m.Rows[0])
}

func TestReadXLSX_LeadingBlankRows(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{
		"Sheet1": {
			{"", ""},
			{"Cntr#", "ETA"},
			{"MSKU1234567", "2024-01-10"},
		},
	})

	m, err := ReadXLSX(path, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Cntr#", "ETA"}, m.Headers)
	assert.Len(t, m.Rows, 1)
}

func TestReadXLSX_SheetByName(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{
		"Summary":    {{"ignore"}},
		"Containers": {{"Cntr#"}, {"MSKU1234567"}},
	})

	m, err := ReadXLSX(path, Options{SheetName: "Containers"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Cntr#"}, m.Headers)
}

func TestReadXLSX_SheetNotFound(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{"Sheet1": {{"Cntr#"}}})

	_, err := ReadXLSX(path, Options{SheetName: "Nope"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}
