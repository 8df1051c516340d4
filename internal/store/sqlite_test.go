package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborline/manifest-cli/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func testBatch(t *testing.T, st *SQLiteStore) *model.ImportBatch {
	t.Helper()
	b, err := st.CreateBatch(context.Background(), "acme_manifest.xlsx", []string{"Cntr#", "ETA (UTC)"})
	require.NoError(t, err)
	return b
}

// --- Batches ---

func TestSQLite_CreateAndGetBatch(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	b := testBatch(t, st)
	got, err := st.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StageArchivist, got.Stage)
	assert.Equal(t, []string{"Cntr#", "ETA (UTC)"}, got.Headers)
	assert.Nil(t, got.Proposal)
}

func TestSQLite_GetBatch_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.GetBatch(context.Background(), "nope")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_AdvanceBatch_CAS(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	b := testBatch(t, st)

	require.NoError(t, st.AdvanceBatch(ctx, b.ID, model.StageArchivist, model.StageTranslator))

	// The same transition again loses the compare-and-swap.
	err := st.AdvanceBatch(ctx, b.ID, model.StageArchivist, model.StageTranslator)
	assert.ErrorIs(t, err, ErrStageConflict)
}

func TestSQLite_AdvanceBatch_IllegalTransition(t *testing.T) {
	st := newTestSQLiteStore(t)
	b := testBatch(t, st)

	err := st.AdvanceBatch(context.Background(), b.ID, model.StageArchivist, model.StageImport)
	assert.ErrorIs(t, err, ErrStageConflict)
}

func TestSQLite_SetBatchProposal_RoundTrip(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	b := testBatch(t, st)

	p := &model.MappingProposal{
		BatchID: b.ID,
		FieldMappings: map[string]model.FieldMapping{
			model.FieldContainerNumber: {SourceHeader: "Cntr#", Confidence: 0.95, Source: model.MappingSourceDictionary},
		},
		UnmappedSourceFields: map[string]float64{"Remarks": 0.4},
		OverallConfidence:    0.95,
	}
	require.NoError(t, st.SetBatchProposal(ctx, b.ID, p))

	got, err := st.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Proposal)
	assert.Equal(t, "Cntr#", got.Proposal.FieldMappings[model.FieldContainerNumber].SourceHeader)
	assert.Equal(t, 0.4, got.Proposal.UnmappedSourceFields["Remarks"])
}

// --- Raw rows ---

func TestSQLite_AppendAndGetRawRows(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	b := testBatch(t, st)

	rows := []model.RawRow{
		{RowIndex: 0, Headers: b.Headers, Data: map[string]model.RawValue{
			"Cntr#":     model.StringValue("MSKU1234567"),
			"ETA (UTC)": model.ResolveCell("2024-01-10"),
		}},
		{RowIndex: 1, Headers: b.Headers, Data: map[string]model.RawValue{
			"Cntr#": model.StringValue("TCLU7654321"),
		}},
	}
	ids, err := st.AppendRawRows(ctx, b.ID, rows)
	require.NoError(t, err)
	require.Len(t, ids, 2)

	got, err := st.GetRawRow(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, b.ID, got.BatchID)
	assert.Equal(t, "MSKU1234567", got.Value("Cntr#").Str)
	assert.Equal(t, model.KindDate, got.Value("ETA (UTC)").Kind)

	all, err := st.ListRawRows(ctx, b.ID)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSQLite_GetRawRow_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.GetRawRow(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

// --- Dictionary ---

func TestSQLite_Dictionary_LookupMissing(t *testing.T) {
	st := newTestSQLiteStore(t)

	e, err := st.LookupEntry(context.Background(), "cntr#")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Nil(t, e)
}

func TestSQLite_Dictionary_UpsertAndUsage(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	applied, surviving, err := st.UpsertEntry(ctx, model.DictionaryEntry{
		SourceHeader: "cntr#", CanonicalField: model.FieldContainerNumber, Confidence: 0.95,
	})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, 0, surviving.TimesUsed)

	require.NoError(t, st.RecordUsage(ctx, "cntr#"))
	e, err := st.LookupEntry(ctx, "cntr#")
	require.NoError(t, err)
	assert.Equal(t, 1, e.TimesUsed)
}

func TestSQLite_Dictionary_ConflictLowerConfidenceRejected(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	applied, _, err := st.UpsertEntry(ctx, model.DictionaryEntry{
		SourceHeader: "fwd col", CanonicalField: "forwarder", Confidence: 0.8,
	})
	require.NoError(t, err)
	require.True(t, applied)

	// Competing field at lower confidence loses.
	applied, surviving, err := st.UpsertEntry(ctx, model.DictionaryEntry{
		SourceHeader: "fwd col", CanonicalField: "freightForwarder", Confidence: 0.75,
	})
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, "forwarder", surviving.CanonicalField)
	assert.Equal(t, 0.8, surviving.Confidence)
}

func TestSQLite_Dictionary_EqualConfidenceDifferentFieldRejected(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, _, err := st.UpsertEntry(ctx, model.DictionaryEntry{
		SourceHeader: "fwd col", CanonicalField: "forwarder", Confidence: 0.8,
	})
	require.NoError(t, err)

	// Same confidence, different field: no strict exceedance, rejected.
	applied, surviving, err := st.UpsertEntry(ctx, model.DictionaryEntry{
		SourceHeader: "fwd col", CanonicalField: "freightForwarder", Confidence: 0.8,
	})
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, "forwarder", surviving.CanonicalField)
}

func TestSQLite_Dictionary_SameFieldRefreshKeepsUsage(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, _, err := st.UpsertEntry(ctx, model.DictionaryEntry{
		SourceHeader: "cntr#", CanonicalField: model.FieldContainerNumber, Confidence: 0.9,
	})
	require.NoError(t, err)
	require.NoError(t, st.RecordUsage(ctx, "cntr#"))

	// Re-learning the same pair at equal confidence refreshes without
	// regressing confidence or usage.
	applied, surviving, err := st.UpsertEntry(ctx, model.DictionaryEntry{
		SourceHeader: "cntr#", CanonicalField: model.FieldContainerNumber, Confidence: 0.9,
	})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, 0.9, surviving.Confidence)
	assert.Equal(t, 1, surviving.TimesUsed)
}

func TestSQLite_Dictionary_HigherConfidenceWins(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, _, err := st.UpsertEntry(ctx, model.DictionaryEntry{
		SourceHeader: "fwd col", CanonicalField: "freightForwarder", Confidence: 0.75,
	})
	require.NoError(t, err)

	applied, surviving, err := st.UpsertEntry(ctx, model.DictionaryEntry{
		SourceHeader: "fwd col", CanonicalField: "forwarder", Confidence: 0.8,
	})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, "forwarder", surviving.CanonicalField)
	assert.Equal(t, 0.8, surviving.Confidence)
}

// --- Shipments ---

func TestSQLite_UpsertShipment_Idempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	b := testBatch(t, st)

	sh := &model.Shipment{
		ContainerNumber: "MSKU1234567",
		Fields: map[string]model.RawValue{
			model.FieldETA: model.ResolveCell("2024-01-10"),
		},
		Lineage: model.Lineage{RawRowID: "row-1", UnmappedFields: map[string]model.RawValue{}, MappingConfidence: 0.95},
		BatchID: b.ID,
	}
	require.NoError(t, st.UpsertShipment(ctx, sh))
	require.NoError(t, st.UpsertShipment(ctx, sh))

	list, err := st.ListShipmentsByBatch(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "row-1", list[0].Lineage.RawRowID)
}

func TestSQLite_UpdateShipmentFields(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	b := testBatch(t, st)

	sh := &model.Shipment{
		ContainerNumber: "MSKU1234567",
		Fields:          map[string]model.RawValue{model.FieldCarrier: model.StringValue("Maersk")},
		Lineage:         model.Lineage{RawRowID: "row-1"},
		BatchID:         b.ID,
	}
	require.NoError(t, st.UpsertShipment(ctx, sh))

	require.NoError(t, st.UpdateShipmentFields(ctx, "MSKU1234567", map[string]model.RawValue{
		model.FieldETA: model.ResolveCell("2024-01-10"),
	}))

	got, err := st.GetShipment(ctx, "MSKU1234567")
	require.NoError(t, err)
	assert.Equal(t, "Maersk", got.Field(model.FieldCarrier).Str)
	assert.Equal(t, model.KindDate, got.Field(model.FieldETA).Kind)
}

func TestSQLite_UpdateShipmentFields_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)

	err := st.UpdateShipmentFields(context.Background(), "GHOST0000000", map[string]model.RawValue{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_UpsertEvent_Idempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	ev := model.ShipmentEvent{
		ContainerNumber: "MSKU1234567",
		Stage:           model.EventArrivalETA,
		OccursAt:        time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
		SourceField:     model.FieldETA,
	}
	require.NoError(t, st.UpsertEvent(ctx, ev))
	require.NoError(t, st.UpsertEvent(ctx, ev))

	events, err := st.ListEvents(ctx, "MSKU1234567")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.EventArrivalETA, events[0].Stage)
}

// --- Stage logs & failures ---

func TestSQLite_StageLogs(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	b := testBatch(t, st)

	require.NoError(t, st.AppendStageLog(ctx, model.StageLog{
		BatchID: b.ID, Stage: model.StageTranslator, Status: model.StageStatusComplete,
		Attempt: 1, OutputSummary: "2 fields mapped", StartedAt: time.Now().UTC(),
	}))
	require.NoError(t, st.AppendStageLog(ctx, model.StageLog{
		BatchID: b.ID, Stage: model.StageTranslator, Status: model.StageStatusComplete,
		Attempt: 2, OutputSummary: "rerun", StartedAt: time.Now().UTC().Add(time.Second),
	}))

	logs, err := st.ListStageLogs(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, 2, logs[1].Attempt)
}

func TestSQLite_RowFailures(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	b := testBatch(t, st)

	require.NoError(t, st.RecordRowFailure(ctx, model.RowFailure{
		BatchID: b.ID, RawRowID: "row-3", RowIndex: 3,
		Reason: "missing container number", Class: "permanent",
	}))

	failures, err := st.ListRowFailures(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, "missing container number", failures[0].Reason)
	assert.Equal(t, "permanent", failures[0].Class)
}

func TestSQLite_Improvements(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	b := testBatch(t, st)

	require.NoError(t, st.RecordImprovements(ctx, []model.ImprovementRecord{
		{BatchID: b.ID, UnmappedHeader: "lfd", CandidateField: model.FieldLastFreeDay,
			Confidence: 0.88, SampleValues: []string{"2024-01-10"}, Frequency: 12, Action: model.ActionDictionaryAdd},
		{BatchID: b.ID, UnmappedHeader: "remarks", Action: model.ActionDictionarySkip, Frequency: 12},
	}))

	recs, err := st.ListImprovements(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, model.ActionDictionaryAdd, recs[0].Action)
	assert.Equal(t, []string{"2024-01-10"}, recs[0].SampleValues)
}
