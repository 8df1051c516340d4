package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborline/manifest-cli/internal/config"
	"github.com/harborline/manifest-cli/internal/fetcher"
	"github.com/harborline/manifest-cli/internal/model"
	"github.com/harborline/manifest-cli/internal/store"
)

func defaultAuditConfig() config.AuditConfig {
	return config.AuditConfig{PassCaptureRate: 0.95}
}

// persistSample runs the persister over sampleManifest and returns the batch,
// rows, and the proposal used.
func persistSample(t *testing.T, st store.Store) (*model.ImportBatch, []model.RawRow, *model.MappingProposal) {
	t.Helper()
	batch, rows := captureManifest(t, st, sampleManifest())
	proposal := approvedProposal(batch.ID)
	p := NewPersister(st, model.DefaultCatalog())
	_, err := p.Persist(context.Background(), batch, proposal, rows)
	require.NoError(t, err)
	return batch, rows, proposal
}

func TestAuditor_AllVerifiedPasses(t *testing.T) {
	st := newTestStore(t)
	batch, _, proposal := persistSample(t, st)

	a := NewAuditor(st, model.DefaultCatalog(), defaultAuditConfig())
	result, err := a.Audit(context.Background(), batch, proposal)
	require.NoError(t, err)

	verified, wrong, lost := result.Counts()
	assert.Equal(t, 4, verified)
	assert.Zero(t, wrong)
	assert.Zero(t, lost)
	assert.Equal(t, 1.0, result.CaptureRate)
	assert.Equal(t, model.RecommendPass, result.Recommendation)
}

func TestAuditor_NulledFieldIsLost(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	m := sampleManifest()
	m.Headers = append(m.Headers, "LFD")
	m.Rows[0] = append(m.Rows[0], "2024-01-20")
	m.Rows[1] = append(m.Rows[1], "2024-01-22")

	batch, rows := captureManifest(t, st, m)
	proposal := approvedProposal(batch.ID)
	proposal.FieldMappings[model.FieldLastFreeDay] = model.FieldMapping{
		SourceHeader: "LFD", Confidence: 0.92, Source: model.MappingSourceDictionary,
	}
	p := NewPersister(st, model.DefaultCatalog())
	_, err := p.Persist(ctx, batch, proposal, rows)
	require.NoError(t, err)

	// Something outside the pipeline blanks the deadline after import.
	err = st.UpdateShipmentFields(ctx, "MSKU1234567", map[string]model.RawValue{
		model.FieldLastFreeDay: model.NullValue(),
	})
	require.NoError(t, err)

	a := NewAuditor(st, model.DefaultCatalog(), defaultAuditConfig())
	result, err := a.Audit(ctx, batch, proposal)
	require.NoError(t, err)

	_, wrong, lost := result.Counts()
	assert.Zero(t, wrong)
	assert.Equal(t, 1, lost)
	assert.Equal(t, model.RecommendManualReview, result.Recommendation)

	var lostFinding *model.AuditFinding
	for i := range result.Discrepancies {
		if result.Discrepancies[i].Class == model.FindingLost {
			lostFinding = &result.Discrepancies[i]
		}
	}
	require.NotNil(t, lostFinding)
	assert.Equal(t, "MSKU1234567", lostFinding.ContainerNumber)
	assert.Equal(t, model.FieldLastFreeDay, lostFinding.Field)
	assert.Nil(t, lostFinding.ProposedCorrection)
}

func TestAuditor_AutoCorrectConverges(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	batch, _, proposal := persistSample(t, st)

	// Corrupt a persisted date so the audit sees WRONG with a mechanical fix.
	err := st.UpdateShipmentFields(ctx, "TCLU7654321", map[string]model.RawValue{
		model.FieldETA: model.DateValue(time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)),
	})
	require.NoError(t, err)

	a := NewAuditor(st, model.DefaultCatalog(), defaultAuditConfig())
	result, err := a.Audit(ctx, batch, proposal)
	require.NoError(t, err)

	_, wrong, lost := result.Counts()
	assert.Equal(t, 1, wrong)
	assert.Zero(t, lost)
	assert.Equal(t, model.RecommendAutoCorrect, result.Recommendation)

	applied, err := a.Apply(ctx, result)
	require.NoError(t, err)
	assert.Equal(t, 1, applied)

	// The re-audit after corrections must converge to a clean pass.
	again, err := a.Audit(ctx, batch, proposal)
	require.NoError(t, err)
	assert.Equal(t, 1.0, again.CaptureRate)
	assert.Equal(t, model.RecommendPass, again.Recommendation)

	s, err := st.GetShipment(ctx, "TCLU7654321")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 12, 0, 0, 0, 0, time.UTC), s.Field(model.FieldETA).Time)
}

func TestAuditor_UnmappedHeadersAreInformational(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	m := &fetcher.Manifest{
		SourceName: "notes.csv",
		Headers:    []string{"Cntr#", "ETA (UTC)", "Remarks"},
		Rows: [][]string{
			{"MSKU1234567", "2024-01-10", "hold at CFS"},
		},
	}
	batch, rows := captureManifest(t, st, m)
	proposal := approvedProposal(batch.ID)
	p := NewPersister(st, model.DefaultCatalog())
	_, err := p.Persist(ctx, batch, proposal, rows)
	require.NoError(t, err)

	a := NewAuditor(st, model.DefaultCatalog(), defaultAuditConfig())
	result, err := a.Audit(ctx, batch, proposal)
	require.NoError(t, err)

	require.Len(t, result.Unmapped, 1)
	assert.Equal(t, "Remarks", result.Unmapped[0].SourceHeader)
	assert.Equal(t, model.FindingUnmapped, result.Unmapped[0].Class)
	// Unmapped findings never block a pass.
	assert.Equal(t, model.RecommendPass, result.Recommendation)
}

func TestAuditor_EmptyBatchPasses(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	batch, err := st.CreateBatch(ctx, "empty.csv", []string{"Cntr#"})
	require.NoError(t, err)

	a := NewAuditor(st, model.DefaultCatalog(), defaultAuditConfig())
	result, err := a.Audit(ctx, batch, approvedProposal(batch.ID))
	require.NoError(t, err)
	assert.Equal(t, 1.0, result.CaptureRate)
	assert.Equal(t, model.RecommendPass, result.Recommendation)
}
