package pipeline

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/harborline/manifest-cli/internal/config"
	"github.com/harborline/manifest-cli/internal/model"
	"github.com/harborline/manifest-cli/internal/store"
)

// Auditor recomputes a field-by-field comparison between persisted shipments
// and the raw rows that produced them. Findings are findings, never errors;
// every audit run produces a fresh result that supersedes prior ones.
type Auditor struct {
	store   store.Store
	catalog *model.FieldCatalog
	cfg     config.AuditConfig
}

// NewAuditor creates an Auditor.
func NewAuditor(st store.Store, catalog *model.FieldCatalog, cfg config.AuditConfig) *Auditor {
	return &Auditor{store: st, catalog: catalog, cfg: cfg}
}

// Audit compares every shipment of the batch against its originating raw
// row under the mapping actually used.
func (a *Auditor) Audit(ctx context.Context, batch *model.ImportBatch, proposal *model.MappingProposal) (*model.AuditResult, error) {
	shipments, err := a.store.ListShipmentsByBatch(ctx, batch.ID)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: list shipments for audit")
	}

	result := &model.AuditResult{BatchID: batch.ID}
	mappedHeaders := proposal.MappedHeaders()

	for i := range shipments {
		s := &shipments[i]
		row, err := a.store.GetRawRow(ctx, s.Lineage.RawRowID)
		if err != nil {
			return nil, eris.Wrapf(err, "pipeline: raw row %s for audit", s.Lineage.RawRowID)
		}
		a.auditShipment(result, s, row, proposal, mappedHeaders)
	}

	verified, wrong, lost := result.Counts()
	checked := verified + wrong + lost
	if checked == 0 {
		result.CaptureRate = 1.0
	} else {
		result.CaptureRate = float64(verified) / float64(checked)
	}
	result.Recommendation = recommend(result, a.cfg.PassCaptureRate)

	zap.L().Info("audit complete",
		zap.String("batch_id", batch.ID),
		zap.Int("verified", verified),
		zap.Int("wrong", wrong),
		zap.Int("lost", lost),
		zap.Int("unmapped", len(result.Unmapped)),
		zap.Float64("capture_rate", result.CaptureRate),
		zap.String("recommendation", string(result.Recommendation)),
	)
	return result, nil
}

// auditShipment classifies every field the mapping claims to have populated,
// plus unmapped headers with content.
func (a *Auditor) auditShipment(result *model.AuditResult, s *model.Shipment, row *model.RawRow, proposal *model.MappingProposal, mappedHeaders map[string]bool) {
	for field, fm := range proposal.FieldMappings {
		cf := a.catalog.ByName(field)
		if cf == nil {
			continue
		}
		raw := row.Value(fm.SourceHeader)
		if raw.IsEmpty() {
			continue
		}
		expected := Coerce(raw, cf.Type)
		persisted := s.Field(field)

		finding := model.AuditFinding{
			ContainerNumber: s.ContainerNumber,
			RawRowID:        row.ID,
			Field:           field,
			SourceHeader:    fm.SourceHeader,
			RawValue:        raw,
			PersistedValue:  persisted,
		}

		switch {
		case persisted.IsEmpty():
			// The mapping existed and the raw cell has content, but nothing
			// reached storage.
			finding.Class = model.FindingLost
			result.Discrepancies = append(result.Discrepancies, finding)
		case persisted.Equal(expected):
			finding.Class = model.FindingVerified
			result.Verified = append(result.Verified, finding)
		default:
			finding.Class = model.FindingWrong
			correction := expected
			finding.ProposedCorrection = &correction
			result.Discrepancies = append(result.Discrepancies, finding)
		}
	}

	for _, header := range row.Headers {
		if mappedHeaders[model.NormalizeHeader(header)] {
			continue
		}
		raw := row.Value(header)
		if raw.IsEmpty() {
			continue
		}
		result.Unmapped = append(result.Unmapped, model.AuditFinding{
			ContainerNumber: s.ContainerNumber,
			RawRowID:        row.ID,
			SourceHeader:    header,
			Class:           model.FindingUnmapped,
			RawValue:        raw,
			PersistedValue:  model.NullValue(),
		})
	}
}

// recommend applies the verdict policy: PASS needs the capture rate floor
// and zero LOST findings; AUTO_CORRECT requires every discrepancy to carry
// a mechanical correction; anything else needs a human.
func recommend(result *model.AuditResult, passRate float64) model.Recommendation {
	_, wrong, lost := result.Counts()

	if lost == 0 && result.CaptureRate >= passRate {
		return model.RecommendPass
	}
	if lost == 0 && wrong > 0 {
		for _, f := range result.Discrepancies {
			if f.ProposedCorrection == nil {
				return model.RecommendManualReview
			}
		}
		return model.RecommendAutoCorrect
	}
	return model.RecommendManualReview
}

// Apply writes the proposed corrections of an AUTO_CORRECT result back to
// storage. Applying twice is harmless: the second pass writes identical
// values.
func (a *Auditor) Apply(ctx context.Context, result *model.AuditResult) (int, error) {
	applied := 0
	byContainer := make(map[string]map[string]model.RawValue)
	for _, f := range result.Discrepancies {
		if f.Class != model.FindingWrong || f.ProposedCorrection == nil {
			continue
		}
		if byContainer[f.ContainerNumber] == nil {
			byContainer[f.ContainerNumber] = make(map[string]model.RawValue)
		}
		byContainer[f.ContainerNumber][f.Field] = *f.ProposedCorrection
		applied++
	}

	for container, fields := range byContainer {
		if err := a.store.UpdateShipmentFields(ctx, container, fields); err != nil {
			return applied, eris.Wrapf(err, "pipeline: apply corrections to %s", container)
		}
	}

	if applied > 0 {
		zap.L().Info("applied audit corrections",
			zap.String("batch_id", result.BatchID),
			zap.Int("corrections", applied),
		)
	}
	return applied, nil
}
