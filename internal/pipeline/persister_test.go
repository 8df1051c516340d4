package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborline/manifest-cli/internal/fetcher"
	"github.com/harborline/manifest-cli/internal/model"
)

func approvedProposal(batchID string) *model.MappingProposal {
	return &model.MappingProposal{
		BatchID: batchID,
		FieldMappings: map[string]model.FieldMapping{
			model.FieldContainerNumber: {SourceHeader: "Cntr#", Confidence: 0.95, Source: model.MappingSourceDictionary},
			model.FieldETA:             {SourceHeader: "ETA (UTC)", Confidence: 0.88, Source: model.MappingSourceInference},
		},
		UnmappedSourceFields: map[string]float64{},
		OverallConfidence:    0.915,
	}
}

func TestPersister_UpsertsWithLineage(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	batch, rows := captureManifest(t, st, sampleManifest())
	p := NewPersister(st, model.DefaultCatalog())

	stats, err := p.Persist(ctx, batch, approvedProposal(batch.ID), rows)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Persisted)
	assert.Zero(t, stats.Failed)

	s, err := st.GetShipment(ctx, "MSKU1234567")
	require.NoError(t, err)
	assert.Equal(t, batch.ID, s.BatchID)
	assert.Equal(t, rows[0].ID, s.Lineage.RawRowID)
	assert.InDelta(t, 0.915, s.Lineage.MappingConfidence, 1e-9)
	assert.Equal(t, model.KindDate, s.Field(model.FieldETA).Kind)
}

func TestPersister_ZeroLoss(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	m := &fetcher.Manifest{
		SourceName: "extra.csv",
		Headers:    []string{"Cntr#", "ETA (UTC)", "Internal Ref", "Remarks"},
		Rows: [][]string{
			{"MSKU1234567", "2024-01-10", "X-99", "keep dry"},
		},
	}
	batch, rows := captureManifest(t, st, m)
	p := NewPersister(st, model.DefaultCatalog())

	_, err := p.Persist(ctx, batch, approvedProposal(batch.ID), rows)
	require.NoError(t, err)

	s, err := st.GetShipment(ctx, "MSKU1234567")
	require.NoError(t, err)

	// Every raw header's value lands in a typed field or the unmapped bag,
	// never in neither.
	for _, header := range rows[0].Headers {
		raw := rows[0].Value(header)
		if raw.IsEmpty() {
			continue
		}
		_, inUnmapped := s.Lineage.UnmappedFields[header]
		inTyped := false
		for field, fm := range approvedProposal(batch.ID).FieldMappings {
			if fm.SourceHeader == header && !s.Field(field).IsEmpty() {
				inTyped = true
			}
		}
		assert.True(t, inTyped || inUnmapped, "header %q lost", header)
	}

	assert.Equal(t, model.StringValue("X-99"), s.Lineage.UnmappedFields["Internal Ref"])
	assert.Equal(t, model.StringValue("keep dry"), s.Lineage.UnmappedFields["Remarks"])
}

func TestPersister_Idempotent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	batch, rows := captureManifest(t, st, sampleManifest())
	p := NewPersister(st, model.DefaultCatalog())
	proposal := approvedProposal(batch.ID)

	_, err := p.Persist(ctx, batch, proposal, rows)
	require.NoError(t, err)
	first, err := st.GetShipment(ctx, "MSKU1234567")
	require.NoError(t, err)

	_, err = p.Persist(ctx, batch, proposal, rows)
	require.NoError(t, err)
	second, err := st.GetShipment(ctx, "MSKU1234567")
	require.NoError(t, err)

	assert.Equal(t, first.Fields, second.Fields)
	assert.Equal(t, first.Lineage, second.Lineage)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)

	shipments, err := st.ListShipmentsByBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.Len(t, shipments, 2)

	events, err := st.ListEvents(ctx, "MSKU1234567")
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestPersister_SerialDateCoercion(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	m := &fetcher.Manifest{
		SourceName: "serial.xlsx",
		Headers:    []string{"Cntr#", "ETA (UTC)"},
		Rows:       [][]string{{"MSKU1234567", "45301"}},
	}
	batch, rows := captureManifest(t, st, m)
	p := NewPersister(st, model.DefaultCatalog())

	_, err := p.Persist(ctx, batch, approvedProposal(batch.ID), rows)
	require.NoError(t, err)

	s, err := st.GetShipment(ctx, "MSKU1234567")
	require.NoError(t, err)
	eta := s.Field(model.FieldETA)
	require.Equal(t, model.KindDate, eta.Kind)
	assert.Equal(t, time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC), eta.Time)
}

func TestPersister_MissingNaturalKeyIsolated(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	m := &fetcher.Manifest{
		SourceName: "gap.csv",
		Headers:    []string{"Cntr#", "ETA (UTC)"},
		Rows: [][]string{
			{"MSKU1234567", "2024-01-10"},
			{"", "2024-01-12"},
			{"TCLU7654321", "2024-01-14"},
		},
	}
	batch, rows := captureManifest(t, st, m)
	p := NewPersister(st, model.DefaultCatalog())

	stats, err := p.Persist(ctx, batch, approvedProposal(batch.ID), rows)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Persisted)
	assert.Equal(t, 1, stats.Failed)

	failures, err := st.ListRowFailures(ctx, batch.ID)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, 1, failures[0].RowIndex)
	assert.Contains(t, failures[0].Reason, "containerNumber")
	// A missing natural key never clears on rerun.
	assert.Equal(t, "permanent", failures[0].Class)
}

func TestPersister_DerivesMilestoneEvents(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	m := &fetcher.Manifest{
		SourceName: "events.csv",
		Headers:    []string{"Cntr#", "ETD", "ETA (UTC)", "Status"},
		Rows:       [][]string{{"MSKU1234567", "2024-01-02", "2024-01-10", "departed"}},
	}
	batch, rows := captureManifest(t, st, m)

	proposal := approvedProposal(batch.ID)
	proposal.FieldMappings[model.FieldETD] = model.FieldMapping{SourceHeader: "ETD", Confidence: 0.9, Source: model.MappingSourceDictionary}
	proposal.FieldMappings[model.FieldStatus] = model.FieldMapping{SourceHeader: "Status", Confidence: 0.9, Source: model.MappingSourceDictionary}

	p := NewPersister(st, model.DefaultCatalog())
	stats, err := p.Persist(ctx, batch, proposal, rows)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Events)

	events, err := st.ListEvents(ctx, "MSKU1234567")
	require.NoError(t, err)
	require.Len(t, events, 2)

	stages := map[model.EventStage]model.ShipmentEvent{}
	for _, ev := range events {
		stages[ev.Stage] = ev
	}
	assert.Contains(t, stages, model.EventDeparted)
	assert.Contains(t, stages, model.EventArrivalETA)
	assert.Equal(t, model.FieldETD, stages[model.EventDeparted].SourceField)
}
