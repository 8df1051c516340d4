package model

import "time"

// ImprovementAction records whether a learner candidate reached the
// dictionary or lost the conflict policy.
type ImprovementAction string

const (
	ActionDictionaryAdd  ImprovementAction = "DICTIONARY_ADD"
	ActionDictionarySkip ImprovementAction = "DICTIONARY_SKIP"
)

// ImprovementRecord is one learner outcome for an unmapped header. Learned
// entries apply to future batches only; the current batch is never
// retroactively re-mapped.
type ImprovementRecord struct {
	BatchID        string            `json:"batch_id"`
	UnmappedHeader string            `json:"unmapped_header"`
	CandidateField string            `json:"candidate_field,omitempty"`
	Confidence     float64           `json:"confidence"`
	SampleValues   []string          `json:"sample_values,omitempty"`
	Frequency      int               `json:"frequency"`
	Action         ImprovementAction `json:"action"`
	CreatedAt      time.Time         `json:"created_at"`
}
