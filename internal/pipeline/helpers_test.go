package pipeline

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/harborline/manifest-cli/internal/config"
	"github.com/harborline/manifest-cli/internal/fetcher"
	"github.com/harborline/manifest-cli/internal/infer"
	"github.com/harborline/manifest-cli/internal/model"
	"github.com/harborline/manifest-cli/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := store.NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

// stubInferrer returns canned results and counts calls.
type stubInferrer struct {
	result *infer.Result
	err    error
	calls  int
	last   infer.Request
}

func (s *stubInferrer) InferHeaders(ctx context.Context, req infer.Request) (*infer.Result, error) {
	s.calls++
	s.last = req
	if s.err != nil {
		return nil, s.err
	}
	if s.result == nil {
		return &infer.Result{}, nil
	}
	return s.result, nil
}

func defaultMappingConfig() config.MappingConfig {
	return config.MappingConfig{
		DictionaryAcceptThreshold: 0.90,
		AcceptThreshold:           0.80,
		ApprovalThreshold:         0.85,
		DegradedPenalty:           0.75,
		SampleRows:                5,
	}
}

func defaultLearnerConfig() config.LearnerConfig {
	return config.LearnerConfig{MinFrequency: 2, MaxSamples: 5}
}

func seedDictionary(t *testing.T, st store.Store, header, field string, conf float64) {
	t.Helper()
	applied, _, err := st.UpsertEntry(context.Background(), model.DictionaryEntry{
		SourceHeader:   model.NormalizeHeader(header),
		CanonicalField: field,
		Confidence:     conf,
	})
	require.NoError(t, err)
	require.True(t, applied)
}

func captureManifest(t *testing.T, st store.Store, m *fetcher.Manifest) (*model.ImportBatch, []model.RawRow) {
	t.Helper()
	ctx := context.Background()
	batch, err := st.CreateBatch(ctx, m.SourceName, m.Headers)
	require.NoError(t, err)
	_, err = Capture(ctx, st, batch.ID, m)
	require.NoError(t, err)
	rows, err := st.ListRawRows(ctx, batch.ID)
	require.NoError(t, err)
	batch, err = st.GetBatch(ctx, batch.ID)
	require.NoError(t, err)
	return batch, rows
}

func sampleManifest() *fetcher.Manifest {
	return &fetcher.Manifest{
		SourceName: "acme_week03.xlsx",
		Headers:    []string{"Cntr#", "ETA (UTC)"},
		Rows: [][]string{
			{"MSKU1234567", "2024-01-10"},
			{"TCLU7654321", "2024-01-12"},
		},
	}
}
