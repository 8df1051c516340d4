package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborline/manifest-cli/internal/fetcher"
	"github.com/harborline/manifest-cli/internal/model"
)

func TestCapture_ResolvesCellsOnce(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	m := &fetcher.Manifest{
		SourceName: "manifest.csv",
		Headers:    []string{"Cntr#", "ETA", "Gross Wt", "Note"},
		Rows: [][]string{
			{"MSKU1234567", "2024-01-10", "18,500", "fragile"},
			{"TCLU7654321", "45301", "", ""},
		},
	}

	batch, err := st.CreateBatch(ctx, m.SourceName, m.Headers)
	require.NoError(t, err)

	ids, err := Capture(ctx, st, batch.ID, m)
	require.NoError(t, err)
	require.Len(t, ids, 2)

	rows, err := st.ListRawRows(ctx, batch.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, model.KindString, rows[0].Value("Cntr#").Kind)
	assert.Equal(t, model.KindDate, rows[0].Value("ETA").Kind)
	assert.Equal(t, model.KindNumber, rows[0].Value("Gross Wt").Kind)
	assert.Equal(t, 18500.0, rows[0].Value("Gross Wt").Num)

	// Spreadsheet serials stay numeric at capture time.
	assert.Equal(t, model.KindNumber, rows[1].Value("ETA").Kind)
	assert.True(t, rows[1].Value("Gross Wt").IsEmpty())

	got, err := st.GetBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.RowCount)
}

func TestCapture_ShortRowsPadWithNulls(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	m := &fetcher.Manifest{
		SourceName: "ragged.csv",
		Headers:    []string{"Cntr#", "ETA", "Carrier"},
		Rows:       [][]string{{"MSKU1234567"}},
	}

	batch, err := st.CreateBatch(ctx, m.SourceName, m.Headers)
	require.NoError(t, err)
	_, err = Capture(ctx, st, batch.ID, m)
	require.NoError(t, err)

	rows, err := st.ListRawRows(ctx, batch.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Value("ETA").IsEmpty())
	assert.True(t, rows[0].Value("Carrier").IsEmpty())
}
