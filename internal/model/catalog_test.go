package model

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	c := DefaultCatalog()
	require.NotEmpty(t, c.Fields)

	assert.Equal(t, FieldContainerNumber, c.NaturalKey())
	assert.True(t, c.Has(FieldLastFreeDay))
	assert.False(t, c.Has("nonsense"))

	lfd := c.ByName(FieldLastFreeDay)
	require.NotNil(t, lfd)
	assert.Equal(t, FieldTypeDate, lfd.Type)
}

func TestLoadCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	doc := `fields:
  - name: containerNumber
    type: string
    natural_key: true
  - name: eta
    type: date
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	c, err := LoadCatalog(path)
	require.NoError(t, err)
	assert.Len(t, c.Fields, 2)
	assert.Equal(t, "containerNumber", c.NaturalKey())
	assert.Equal(t, FieldTypeDate, c.ByName("eta").Type)
}

func TestLoadCatalog_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte("fields: []\n"), 0o644))

	_, err := LoadCatalog(path)
	assert.Error(t, err)
}
