package model

import "time"

// Stage identifies a step of the ingestion pipeline state machine.
type Stage string

const (
	StageArchivist        Stage = "archivist"
	StageTranslator       Stage = "translator"
	StageTranslatorReview Stage = "translator_review"
	StageImport           Stage = "import"
	StageAuditor          Stage = "auditor"
	StageImprovement      Stage = "improvement"
	StageComplete         Stage = "complete"
	StageStopped          Stage = "stopped"
	StageFailed           Stage = "failed"
)

// stageTransitions is the allowed transition table. Review is only entered
// from the translator (low confidence) and only left through an explicit
// confirmation. Failed is reachable from every non-terminal stage; stopped
// batches resume at the stage they were stopped in.
var stageTransitions = map[Stage][]Stage{
	StageArchivist:        {StageTranslator, StageStopped, StageFailed},
	StageTranslator:       {StageTranslatorReview, StageImport, StageStopped, StageFailed},
	StageTranslatorReview: {StageImport, StageStopped, StageFailed},
	StageImport:           {StageAuditor, StageStopped, StageFailed},
	StageAuditor:          {StageImprovement, StageStopped, StageFailed},
	StageImprovement:      {StageComplete, StageStopped, StageFailed},
	StageStopped:          {StageArchivist, StageTranslator, StageTranslatorReview, StageImport, StageAuditor, StageImprovement, StageFailed},
	// Completed batches support operator-driven re-audit and re-learning;
	// the mapping stages stay sealed once a batch has finished.
	StageComplete: {StageAuditor, StageImprovement},
}

// CanTransition reports whether moving from one stage to another is legal.
func CanTransition(from, to Stage) bool {
	for _, next := range stageTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether a stage ends automatic progression. Stopped is
// terminal for the scheduler but resumable by an operator.
func (s Stage) Terminal() bool {
	return s == StageComplete || s == StageFailed || s == StageStopped
}

// ImportBatch tracks one manifest import through the pipeline.
type ImportBatch struct {
	ID         string           `json:"id"`
	SourceName string           `json:"source_name"`
	Stage      Stage            `json:"stage"`
	Headers    []string         `json:"headers"`
	RowCount   int              `json:"row_count"`
	Proposal   *MappingProposal `json:"proposal,omitempty"`
	LastError  string           `json:"last_error,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// NeedsConfirmation reports whether the batch is parked at the mapping gate.
func (b *ImportBatch) NeedsConfirmation() bool {
	return b.Stage == StageTranslatorReview
}

// StageStatus is the outcome of one stage attempt.
type StageStatus string

const (
	StageStatusComplete StageStatus = "complete"
	StageStatusFailed   StageStatus = "failed"
	// Skipped marks a stage that had nothing to do, e.g. improvement with
	// inference disabled. Skipped counts as done for resume purposes.
	StageStatusSkipped StageStatus = "skipped"
)

// StageLog is the structured record of one stage attempt, including reruns.
// One row is written per attempt for operator traceability.
type StageLog struct {
	ID            string      `json:"id"`
	BatchID       string      `json:"batch_id"`
	Stage         Stage       `json:"stage"`
	Status        StageStatus `json:"status"`
	Attempt       int         `json:"attempt"`
	InputSummary  string      `json:"input_summary,omitempty"`
	OutputSummary string      `json:"output_summary,omitempty"`
	Error         string      `json:"error,omitempty"`
	StartedAt     time.Time   `json:"started_at"`
	DurationMS    int64       `json:"duration_ms"`
}

// RowFailure records a single row the persister could not apply. Row
// failures are isolated: they never abort the batch.
type RowFailure struct {
	BatchID  string `json:"batch_id"`
	RawRowID string `json:"raw_row_id"`
	RowIndex int    `json:"row_index"`
	Reason   string `json:"reason"`
	// Class is "transient" or "permanent" so operators know which reruns
	// might clear.
	Class    string    `json:"class"`
	FailedAt time.Time `json:"failed_at"`
}
