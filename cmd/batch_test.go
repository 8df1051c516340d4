//go:build !integration

package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborline/manifest-cli/internal/fetcher"
	"github.com/harborline/manifest-cli/internal/model"
	"github.com/harborline/manifest-cli/internal/store"
)

func writeTempCSV(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestProcessSources_ConcurrentIngest(t *testing.T) {
	env := newTestEnv(t)
	seedEnvDictionary(t, env)
	ctx := context.Background()

	a := writeTempCSV(t, "week01.csv", "Cntr#,ETA (UTC)\nMSKU1234567,2024-01-10\n")
	b := writeTempCSV(t, "week02.csv", "Cntr#,ETA (UTC)\nTCLU7654321,2024-01-12\n")

	err := processSources(ctx, []string{a, b}, 2, fetcher.Options{}, env.Store, env.Orchestrator)
	require.NoError(t, err)

	batches, err := env.Store.ListBatches(ctx, store.BatchFilter{})
	require.NoError(t, err)
	require.Len(t, batches, 2)
	for _, batch := range batches {
		assert.Equal(t, model.StageComplete, batch.Stage)
	}
}

func TestProcessSources_BadSourceDoesNotBlockOthers(t *testing.T) {
	env := newTestEnv(t)
	seedEnvDictionary(t, env)
	ctx := context.Background()

	good := writeTempCSV(t, "week01.csv", "Cntr#,ETA (UTC)\nMSKU1234567,2024-01-10\n")
	missing := filepath.Join(t.TempDir(), "absent.csv")

	err := processSources(ctx, []string{missing, good}, 2, fetcher.Options{}, env.Store, env.Orchestrator)
	require.NoError(t, err)

	batches, err := env.Store.ListBatches(ctx, store.BatchFilter{})
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, model.StageComplete, batches[0].Stage)
}
