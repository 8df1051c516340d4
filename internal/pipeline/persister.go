package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/harborline/manifest-cli/internal/model"
	"github.com/harborline/manifest-cli/internal/resilience"
	"github.com/harborline/manifest-cli/internal/store"
)

// Persister applies an approved mapping proposal to a batch's raw rows,
// upserting canonical shipments with full lineage. Row failures are
// isolated; they never abort the batch.
type Persister struct {
	store   store.Store
	catalog *model.FieldCatalog
}

// NewPersister creates a Persister against the given store and catalog.
func NewPersister(st store.Store, catalog *model.FieldCatalog) *Persister {
	return &Persister{store: st, catalog: catalog}
}

// PersistStats summarizes one persistence run.
type PersistStats struct {
	Persisted int
	Failed    int
	Events    int
}

// Persist upserts one shipment per raw row under the approved proposal.
// Every raw cell ends up either in a typed field or verbatim in the
// lineage's unmapped bag; nothing is dropped. Re-running with the same
// inputs converges to the same end state.
func (p *Persister) Persist(ctx context.Context, batch *model.ImportBatch, proposal *model.MappingProposal, rows []model.RawRow) (PersistStats, error) {
	log := zap.L().With(zap.String("batch_id", batch.ID))
	var stats PersistStats

	mappedHeaders := proposal.MappedHeaders()

	for i := range rows {
		row := &rows[i]

		shipment, events, err := p.buildShipment(batch.ID, proposal, row, mappedHeaders)
		if err != nil {
			stats.Failed++
			p.recordFailure(ctx, batch.ID, row, err)
			continue
		}

		if err := p.store.UpsertShipment(ctx, shipment); err != nil {
			stats.Failed++
			p.recordFailure(ctx, batch.ID, row, err)
			continue
		}
		stats.Persisted++

		for _, ev := range events {
			if err := p.store.UpsertEvent(ctx, ev); err != nil {
				log.Warn("failed to upsert shipment event",
					zap.String("container", ev.ContainerNumber),
					zap.String("stage", string(ev.Stage)),
					zap.Error(err),
				)
				continue
			}
			stats.Events++
		}
	}

	log.Info("persisted batch",
		zap.Int("persisted", stats.Persisted),
		zap.Int("failed", stats.Failed),
		zap.Int("events", stats.Events),
	)
	return stats, nil
}

// buildShipment maps one raw row into a canonical shipment plus its derived
// milestone events.
func (p *Persister) buildShipment(batchID string, proposal *model.MappingProposal, row *model.RawRow, mappedHeaders map[string]bool) (*model.Shipment, []model.ShipmentEvent, error) {
	fields := make(map[string]model.RawValue)
	for _, cf := range p.catalog.Fields {
		header := proposal.HeaderFor(cf.Name)
		if header == "" {
			continue
		}
		raw := row.Value(header)
		if raw.IsEmpty() {
			continue
		}
		fields[cf.Name] = Coerce(raw, cf.Type)
	}

	keyField := p.catalog.NaturalKey()
	key := fields[keyField]
	if key.IsEmpty() || key.Kind != model.KindString {
		return nil, nil, eris.Errorf("pipeline: row %d has no usable %s", row.RowIndex, keyField)
	}
	container := strings.TrimSpace(key.Str)

	// Zero-loss: leftover headers with content are preserved verbatim.
	unmapped := make(map[string]model.RawValue)
	for _, header := range row.Headers {
		if mappedHeaders[model.NormalizeHeader(header)] {
			continue
		}
		if v := row.Value(header); !v.IsEmpty() {
			unmapped[header] = v
		}
	}

	shipment := &model.Shipment{
		ContainerNumber: container,
		Fields:          fields,
		BatchID:         batchID,
		Lineage: model.Lineage{
			RawRowID:          row.ID,
			UnmappedFields:    unmapped,
			MappingConfidence: proposal.OverallConfidence,
		},
	}

	return shipment, deriveEvents(container, fields), nil
}

// deriveEvents turns populated milestone date fields into timeline events.
// A recognizable status text adds its stage as well, dated by the matching
// date field when one is populated.
func deriveEvents(container string, fields map[string]model.RawValue) []model.ShipmentEvent {
	var events []model.ShipmentEvent
	seen := make(map[model.EventStage]bool)

	for field, v := range fields {
		stage, ok := model.MilestoneFor(field)
		if !ok || v.Kind != model.KindDate {
			continue
		}
		events = append(events, model.ShipmentEvent{
			ContainerNumber: container,
			Stage:           stage,
			OccursAt:        v.Time,
			SourceField:     field,
		})
		seen[stage] = true
	}

	if status, ok := fields[model.FieldStatus]; ok {
		if stage, recognized := statusStage(status.String()); recognized && !seen[stage] {
			events = append(events, model.ShipmentEvent{
				ContainerNumber: container,
				Stage:           stage,
				OccursAt:        time.Time{},
				SourceField:     model.FieldStatus,
			})
		}
	}

	return events
}

// statusStage recognizes lifecycle stages in freeform status text.
func statusStage(status string) (model.EventStage, bool) {
	s := strings.ToLower(status)
	switch {
	case strings.Contains(s, "empty return"), strings.Contains(s, "returned"):
		return model.EventEmptyReturned, true
	case strings.Contains(s, "gate out"), strings.Contains(s, "gated out"), strings.Contains(s, "picked up"):
		return model.EventGateOut, true
	case strings.Contains(s, "discharge"), strings.Contains(s, "unloaded"):
		return model.EventDischarged, true
	case strings.Contains(s, "depart"), strings.Contains(s, "sailed"), strings.Contains(s, "on water"):
		return model.EventDeparted, true
	default:
		return "", false
	}
}

func (p *Persister) recordFailure(ctx context.Context, batchID string, row *model.RawRow, cause error) {
	zap.L().Warn("row persistence failed",
		zap.String("batch_id", batchID),
		zap.Int("row_index", row.RowIndex),
		zap.Error(cause),
	)
	failure := model.RowFailure{
		BatchID:  batchID,
		RawRowID: row.ID,
		RowIndex: row.RowIndex,
		Reason:   cause.Error(),
		Class:    resilience.ClassifyError(cause),
		FailedAt: time.Now().UTC(),
	}
	if err := p.store.RecordRowFailure(ctx, failure); err != nil {
		zap.L().Error("failed to record row failure",
			zap.String("batch_id", batchID),
			zap.Int("row_index", row.RowIndex),
			zap.Error(err),
		)
	}
}
