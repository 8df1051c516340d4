package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/harborline/manifest-cli/internal/fetcher"
	"github.com/harborline/manifest-cli/internal/model"
	"github.com/harborline/manifest-cli/internal/store"
)

// Orchestrator drives an import batch through the pipeline state machine.
// Each stage commits its effects and its stage log before the batch row
// advances, so a crash resumes from the last completed stage.
type Orchestrator struct {
	store     store.Store
	mapper    *Mapper
	persister *Persister
	auditor   *Auditor
	learner   *Learner

	// approvalThreshold parks proposals below it at the confirmation gate.
	approvalThreshold float64
}

// NewOrchestrator wires the pipeline stages together.
func NewOrchestrator(st store.Store, mapper *Mapper, persister *Persister, auditor *Auditor, learner *Learner, approvalThreshold float64) *Orchestrator {
	return &Orchestrator{
		store:             st,
		mapper:            mapper,
		persister:         persister,
		auditor:           auditor,
		learner:           learner,
		approvalThreshold: approvalThreshold,
	}
}

// stageOrder is the automatic progression, gates and terminals excluded.
var stageOrder = []model.Stage{
	model.StageArchivist,
	model.StageTranslator,
	model.StageImport,
	model.StageAuditor,
	model.StageImprovement,
}

// Start creates a batch and runs raw capture. Capture failure is fatal: the
// batch moves to FAILED with zero rows and never reaches mapping.
func (o *Orchestrator) Start(ctx context.Context, m *fetcher.Manifest) (*model.ImportBatch, error) {
	batch, err := o.store.CreateBatch(ctx, m.SourceName, m.Headers)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create batch")
	}

	err = o.runStage(ctx, batch, model.StageArchivist,
		fmt.Sprintf("source=%s rows=%d", m.SourceName, len(m.Rows)),
		func() (string, error) {
			ids, captureErr := Capture(ctx, o.store, batch.ID, m)
			if captureErr != nil {
				return "", captureErr
			}
			return fmt.Sprintf("captured=%d", len(ids)), nil
		})
	if err != nil {
		return batch, err
	}

	if err := o.store.AdvanceBatch(ctx, batch.ID, model.StageArchivist, model.StageTranslator); err != nil {
		return batch, eris.Wrap(err, "pipeline: advance to translator")
	}
	return o.store.GetBatch(ctx, batch.ID)
}

// Run advances the batch through stages until it completes, fails, stops, or
// parks at the confirmation gate.
func (o *Orchestrator) Run(ctx context.Context, batchID string) error {
	for {
		batch, err := o.store.GetBatch(ctx, batchID)
		if err != nil {
			return eris.Wrap(err, "pipeline: load batch")
		}
		if batch.Stage.Terminal() || batch.NeedsConfirmation() {
			return nil
		}
		if err := o.step(ctx, batch); err != nil {
			return err
		}
	}
}

// step executes the batch's current stage, including its outcome transition.
func (o *Orchestrator) step(ctx context.Context, batch *model.ImportBatch) error {
	switch batch.Stage {
	case model.StageArchivist:
		// Capture runs in Start; a batch resumed here just moves on if rows
		// already exist.
		rows, err := o.store.ListRawRows(ctx, batch.ID)
		if err != nil {
			return eris.Wrap(err, "pipeline: list raw rows")
		}
		if len(rows) == 0 {
			return o.failBatch(ctx, batch, eris.New("pipeline: batch has no captured rows"))
		}
		return o.advance(ctx, batch, model.StageTranslator)
	case model.StageTranslator:
		return o.runTranslator(ctx, batch)
	case model.StageImport:
		return o.runImport(ctx, batch)
	case model.StageAuditor:
		return o.runAuditor(ctx, batch)
	case model.StageImprovement:
		return o.runImprovement(ctx, batch)
	default:
		return eris.Errorf("pipeline: cannot step batch in stage %q", batch.Stage)
	}
}

func (o *Orchestrator) runTranslator(ctx context.Context, batch *model.ImportBatch) error {
	rows, err := o.store.ListRawRows(ctx, batch.ID)
	if err != nil {
		return eris.Wrap(err, "pipeline: list raw rows")
	}

	var proposal *model.MappingProposal
	err = o.runStage(ctx, batch, model.StageTranslator,
		fmt.Sprintf("headers=%d rows=%d", len(batch.Headers), len(rows)),
		func() (string, error) {
			p, proposeErr := o.mapper.Propose(ctx, batch, rows)
			if proposeErr != nil {
				return "", proposeErr
			}
			proposal = p
			if saveErr := o.store.SetBatchProposal(ctx, batch.ID, p); saveErr != nil {
				return "", saveErr
			}
			return fmt.Sprintf("mapped=%d unmapped=%d confidence=%.3f degraded=%t",
				len(p.FieldMappings), len(p.UnmappedSourceFields), p.OverallConfidence, p.Degraded), nil
		})
	if err != nil {
		return err
	}

	if proposal.OverallConfidence < o.approvalThreshold {
		zap.L().Info("proposal below approval threshold, awaiting confirmation",
			zap.String("batch_id", batch.ID),
			zap.Float64("overall_confidence", proposal.OverallConfidence),
			zap.Float64("approval_threshold", o.approvalThreshold),
		)
		return o.advance(ctx, batch, model.StageTranslatorReview)
	}
	return o.advance(ctx, batch, model.StageImport)
}

func (o *Orchestrator) runImport(ctx context.Context, batch *model.ImportBatch) error {
	if batch.Proposal == nil {
		return o.failBatch(ctx, batch, eris.New("pipeline: no mapping proposal to apply"))
	}
	rows, err := o.store.ListRawRows(ctx, batch.ID)
	if err != nil {
		return eris.Wrap(err, "pipeline: list raw rows")
	}

	err = o.runStage(ctx, batch, model.StageImport,
		fmt.Sprintf("rows=%d mapped=%d", len(rows), len(batch.Proposal.FieldMappings)),
		func() (string, error) {
			stats, persistErr := o.persister.Persist(ctx, batch, batch.Proposal, rows)
			if persistErr != nil {
				return "", persistErr
			}
			return fmt.Sprintf("persisted=%d failed=%d events=%d",
				stats.Persisted, stats.Failed, stats.Events), nil
		})
	if err != nil {
		return err
	}
	return o.advance(ctx, batch, model.StageAuditor)
}

func (o *Orchestrator) runAuditor(ctx context.Context, batch *model.ImportBatch) error {
	if batch.Proposal == nil {
		return o.failBatch(ctx, batch, eris.New("pipeline: no mapping proposal to audit against"))
	}

	var result *model.AuditResult
	err := o.runStage(ctx, batch, model.StageAuditor, "", func() (string, error) {
		r, auditErr := o.auditor.Audit(ctx, batch, batch.Proposal)
		if auditErr != nil {
			return "", auditErr
		}

		if r.Recommendation == model.RecommendAutoCorrect {
			applied, applyErr := o.auditor.Apply(ctx, r)
			if applyErr != nil {
				return "", applyErr
			}
			// Corrections are expected to converge; re-audit to prove it.
			r, auditErr = o.auditor.Audit(ctx, batch, batch.Proposal)
			if auditErr != nil {
				return "", auditErr
			}
			zap.L().Info("auto-corrections applied and re-audited",
				zap.String("batch_id", batch.ID),
				zap.Int("corrections", applied),
				zap.Float64("capture_rate", r.CaptureRate),
			)
		}

		result = r
		verified, wrong, lost := r.Counts()
		return fmt.Sprintf("verified=%d wrong=%d lost=%d unmapped=%d capture_rate=%.3f recommendation=%s",
			verified, wrong, lost, len(r.Unmapped), r.CaptureRate, r.Recommendation), nil
	})
	if err != nil {
		return err
	}

	if result.Recommendation == model.RecommendManualReview {
		// Park rather than complete. No mechanical correction exists, so an
		// operator must look before the batch may proceed.
		if err := o.store.SetBatchError(ctx, batch.ID, "audit requires manual review"); err != nil {
			return eris.Wrap(err, "pipeline: set batch error")
		}
		return o.advance(ctx, batch, model.StageStopped)
	}
	return o.advance(ctx, batch, model.StageImprovement)
}

func (o *Orchestrator) runImprovement(ctx context.Context, batch *model.ImportBatch) error {
	if batch.Proposal == nil {
		return o.failBatch(ctx, batch, eris.New("pipeline: no mapping proposal to learn from"))
	}

	if o.learner.inferrer == nil {
		// Nothing to learn without inference. Log the skip so the batch's
		// stage history stays complete.
		attempt, err := o.nextAttempt(ctx, batch.ID, model.StageImprovement)
		if err != nil {
			return err
		}
		if err := o.appendLog(ctx, batch.ID, model.StageImprovement, model.StageStatusSkipped, attempt,
			fmt.Sprintf("unmapped_headers=%d", len(batch.Proposal.UnmappedSourceFields)),
			"inference disabled", "", time.Now().UTC()); err != nil {
			zap.L().Warn("failed to append stage log", zap.String("batch_id", batch.ID), zap.Error(err))
		}
		return o.advance(ctx, batch, model.StageComplete)
	}

	rows, err := o.store.ListRawRows(ctx, batch.ID)
	if err != nil {
		return eris.Wrap(err, "pipeline: list raw rows")
	}

	err = o.runStage(ctx, batch, model.StageImprovement,
		fmt.Sprintf("unmapped_headers=%d", len(batch.Proposal.UnmappedSourceFields)),
		func() (string, error) {
			stats, learnErr := o.learner.Learn(ctx, batch, batch.Proposal, rows)
			if learnErr != nil {
				return "", learnErr
			}
			return fmt.Sprintf("added=%d skipped=%d", stats.Added, stats.Skipped), nil
		})
	if err != nil {
		return err
	}
	return o.advance(ctx, batch, model.StageComplete)
}

// Confirm approves a batch parked at the confirmation gate, optionally with
// an operator-edited mapping, and moves it to IMPORT. The caller resumes the
// pipeline with Run.
func (o *Orchestrator) Confirm(ctx context.Context, batchID string, edited *model.MappingProposal) error {
	batch, err := o.store.GetBatch(ctx, batchID)
	if err != nil {
		return eris.Wrap(err, "pipeline: load batch")
	}
	if !batch.NeedsConfirmation() {
		return eris.Errorf("pipeline: batch %s is in stage %q, not awaiting confirmation", batchID, batch.Stage)
	}

	if edited != nil {
		if err := o.validateEdited(batch, edited); err != nil {
			return err
		}
		edited.BatchID = batch.ID
		if err := o.store.SetBatchProposal(ctx, batch.ID, edited); err != nil {
			return eris.Wrap(err, "pipeline: save edited proposal")
		}
	}

	// The gate passage itself is an attempt worth a log row.
	attempt, err := o.nextAttempt(ctx, batch.ID, model.StageTranslatorReview)
	if err != nil {
		return err
	}
	if err := o.appendLog(ctx, batch.ID, model.StageTranslatorReview, model.StageStatusComplete, attempt,
		"", "confirmed by operator", "", time.Now().UTC()); err != nil {
		return err
	}

	if err := o.store.AdvanceBatch(ctx, batch.ID, model.StageTranslatorReview, model.StageImport); err != nil {
		return eris.Wrap(err, "pipeline: advance past confirmation gate")
	}
	zap.L().Info("mapping confirmed", zap.String("batch_id", batchID), zap.Bool("edited", edited != nil))
	return nil
}

// validateEdited rejects operator mappings that reference unknown canonical
// fields or headers the batch never had.
func (o *Orchestrator) validateEdited(batch *model.ImportBatch, p *model.MappingProposal) error {
	headers := make(map[string]bool, len(batch.Headers))
	for _, h := range batch.Headers {
		headers[h] = true
	}
	for field, fm := range p.FieldMappings {
		if !o.mapper.catalog.Has(field) {
			return eris.Errorf("pipeline: edited mapping targets unknown field %q", field)
		}
		if !headers[fm.SourceHeader] {
			return eris.Errorf("pipeline: edited mapping for %q references unknown header %q", field, fm.SourceHeader)
		}
	}
	if p.UnmappedSourceFields == nil {
		p.UnmappedSourceFields = make(map[string]float64)
	}
	return nil
}

// Proceed resumes a stopped batch at its next incomplete stage, then runs
// the pipeline forward.
func (o *Orchestrator) Proceed(ctx context.Context, batchID string) error {
	batch, err := o.store.GetBatch(ctx, batchID)
	if err != nil {
		return eris.Wrap(err, "pipeline: load batch")
	}

	switch {
	case batch.Stage == model.StageStopped:
		resume, err := o.resumeStage(ctx, batch)
		if err != nil {
			return err
		}
		if err := o.store.AdvanceBatch(ctx, batchID, model.StageStopped, resume); err != nil {
			return eris.Wrap(err, "pipeline: resume stopped batch")
		}
	case batch.NeedsConfirmation():
		return eris.Errorf("pipeline: batch %s awaits confirmation, use confirm", batchID)
	case batch.Stage.Terminal():
		return eris.Errorf("pipeline: batch %s is %s", batchID, batch.Stage)
	}

	return o.Run(ctx, batchID)
}

// resumeStage picks the first pipeline stage without a completed log entry.
// A batch stopped at the confirmation gate resumes at the gate, not past it.
func (o *Orchestrator) resumeStage(ctx context.Context, batch *model.ImportBatch) (model.Stage, error) {
	logs, err := o.store.ListStageLogs(ctx, batch.ID)
	if err != nil {
		return "", eris.Wrap(err, "pipeline: list stage logs")
	}
	completed := make(map[model.Stage]bool)
	for _, entry := range logs {
		if entry.Status == model.StageStatusComplete || entry.Status == model.StageStatusSkipped {
			completed[entry.Stage] = true
		}
	}

	for _, stage := range stageOrder {
		if completed[stage] {
			continue
		}
		if stage == model.StageImport &&
			batch.Proposal != nil &&
			batch.Proposal.OverallConfidence < o.approvalThreshold &&
			!completed[model.StageTranslatorReview] {
			return model.StageTranslatorReview, nil
		}
		return stage, nil
	}
	return model.StageImprovement, nil
}

// Rerun re-executes a single stage against the same batch inputs. Raw
// capture is never redone: rerunning ARCHIVIST is rejected once rows exist.
func (o *Orchestrator) Rerun(ctx context.Context, batchID string, stage model.Stage) error {
	batch, err := o.store.GetBatch(ctx, batchID)
	if err != nil {
		return eris.Wrap(err, "pipeline: load batch")
	}

	if stage == model.StageArchivist {
		rows, err := o.store.ListRawRows(ctx, batchID)
		if err != nil {
			return eris.Wrap(err, "pipeline: list raw rows")
		}
		if len(rows) > 0 {
			return eris.New("pipeline: raw capture is never redone")
		}
	}

	// Stopped batches rerun any stage; completed batches reopen for the
	// stages the transition table allows (re-audit, re-learn).
	if batch.Stage == model.StageStopped || batch.Stage == model.StageComplete {
		if err := o.store.AdvanceBatch(ctx, batchID, batch.Stage, stage); err != nil {
			return eris.Wrapf(err, "pipeline: move %s batch to %s", batch.Stage, stage)
		}
		batch, err = o.store.GetBatch(ctx, batchID)
		if err != nil {
			return eris.Wrap(err, "pipeline: load batch")
		}
	}

	if batch.Stage != stage {
		return eris.Errorf("pipeline: batch %s is in stage %q, cannot rerun %q", batchID, batch.Stage, stage)
	}

	return o.step(ctx, batch)
}

// Stop halts automatic progression without rolling anything back. Partial
// progress is retained and resumable.
func (o *Orchestrator) Stop(ctx context.Context, batchID string) error {
	batch, err := o.store.GetBatch(ctx, batchID)
	if err != nil {
		return eris.Wrap(err, "pipeline: load batch")
	}
	if batch.Stage.Terminal() {
		return eris.Errorf("pipeline: batch %s is already %s", batchID, batch.Stage)
	}
	if err := o.store.AdvanceBatch(ctx, batchID, batch.Stage, model.StageStopped); err != nil {
		return eris.Wrap(err, "pipeline: stop batch")
	}
	zap.L().Info("batch stopped", zap.String("batch_id", batchID), zap.String("was_stage", string(batch.Stage)))
	return nil
}

// runStage executes fn with stage logging: one log row per attempt, failure
// recorded on the log and the batch, and stage failure moving the batch to
// FAILED.
func (o *Orchestrator) runStage(ctx context.Context, batch *model.ImportBatch, stage model.Stage, inputSummary string, fn func() (string, error)) error {
	attempt, err := o.nextAttempt(ctx, batch.ID, stage)
	if err != nil {
		return err
	}

	log := zap.L().With(
		zap.String("batch_id", batch.ID),
		zap.String("stage", string(stage)),
		zap.Int("attempt", attempt),
	)
	log.Info("stage starting")

	started := time.Now().UTC()
	outputSummary, stageErr := fn()
	duration := time.Since(started)

	status := model.StageStatusComplete
	errMsg := ""
	if stageErr != nil {
		status = model.StageStatusFailed
		errMsg = stageErr.Error()
	}

	if logErr := o.appendLog(ctx, batch.ID, stage, status, attempt, inputSummary, outputSummary, errMsg, started); logErr != nil {
		log.Warn("failed to append stage log", zap.Error(logErr))
	}

	if stageErr != nil {
		log.Error("stage failed", zap.Duration("duration", duration), zap.Error(stageErr))
		return o.failBatch(ctx, batch, stageErr)
	}

	log.Info("stage complete",
		zap.Duration("duration", duration),
		zap.String("output", outputSummary),
	)
	return nil
}

func (o *Orchestrator) nextAttempt(ctx context.Context, batchID string, stage model.Stage) (int, error) {
	logs, err := o.store.ListStageLogs(ctx, batchID)
	if err != nil {
		return 0, eris.Wrap(err, "pipeline: list stage logs")
	}
	attempt := 1
	for _, entry := range logs {
		if entry.Stage == stage {
			attempt++
		}
	}
	return attempt, nil
}

func (o *Orchestrator) appendLog(ctx context.Context, batchID string, stage model.Stage, status model.StageStatus, attempt int, in, out, errMsg string, started time.Time) error {
	entry := model.StageLog{
		ID:            uuid.NewString(),
		BatchID:       batchID,
		Stage:         stage,
		Status:        status,
		Attempt:       attempt,
		InputSummary:  in,
		OutputSummary: out,
		Error:         errMsg,
		StartedAt:     started,
		DurationMS:    time.Since(started).Milliseconds(),
	}
	if err := o.store.AppendStageLog(ctx, entry); err != nil {
		return eris.Wrap(err, "pipeline: append stage log")
	}
	return nil
}

// failBatch records the error and moves the batch to FAILED.
func (o *Orchestrator) failBatch(ctx context.Context, batch *model.ImportBatch, cause error) error {
	if err := o.store.SetBatchError(ctx, batch.ID, cause.Error()); err != nil {
		zap.L().Error("failed to record batch error", zap.String("batch_id", batch.ID), zap.Error(err))
	}
	if err := o.store.AdvanceBatch(ctx, batch.ID, batch.Stage, model.StageFailed); err != nil {
		zap.L().Error("failed to mark batch failed", zap.String("batch_id", batch.ID), zap.Error(err))
	}
	return cause
}

// advance moves the batch to the next stage with a CAS on its current one.
func (o *Orchestrator) advance(ctx context.Context, batch *model.ImportBatch, to model.Stage) error {
	if err := o.store.AdvanceBatch(ctx, batch.ID, batch.Stage, to); err != nil {
		return eris.Wrapf(err, "pipeline: advance %s to %s", batch.ID, to)
	}
	return nil
}
