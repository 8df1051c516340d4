//go:build !integration

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborline/manifest-cli/internal/model"
)

func writeTempMapping(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mapping.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadOperatorMapping(t *testing.T) {
	path := writeTempMapping(t, `
mappings:
  containerNumber: "Cntr#"
  eta: "ETA (UTC)"
`)

	p, err := loadOperatorMapping(path)
	require.NoError(t, err)
	assert.Equal(t, 1.0, p.OverallConfidence)
	require.Len(t, p.FieldMappings, 2)

	fm := p.FieldMappings[model.FieldContainerNumber]
	assert.Equal(t, "Cntr#", fm.SourceHeader)
	assert.Equal(t, 1.0, fm.Confidence)
	assert.Equal(t, model.MappingSourceOperator, fm.Source)
	assert.NotNil(t, p.UnmappedSourceFields)
}

func TestLoadOperatorMapping_Empty(t *testing.T) {
	path := writeTempMapping(t, "mappings: {}\n")

	_, err := loadOperatorMapping(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no mappings")
}

func TestLoadOperatorMapping_MissingFile(t *testing.T) {
	_, err := loadOperatorMapping(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoadOperatorMapping_BadYAML(t *testing.T) {
	path := writeTempMapping(t, "mappings: [not a map\n")

	_, err := loadOperatorMapping(path)
	require.Error(t, err)
}
