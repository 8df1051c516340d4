package model

// FindingClass classifies a per-field audit comparison.
type FindingClass string

const (
	// FindingVerified: the persisted value equals the coerced raw value.
	FindingVerified FindingClass = "VERIFIED"
	// FindingWrong: the persisted value differs from the expected coercion.
	FindingWrong FindingClass = "WRONG"
	// FindingLost: a mapping was accepted and the raw cell is non-empty, but
	// nothing reached storage.
	FindingLost FindingClass = "LOST"
	// FindingUnmapped: a non-empty raw header had no accepted mapping.
	// Informational, never counted as a failure.
	FindingUnmapped FindingClass = "UNMAPPED"
)

// AuditFinding is one field-level comparison between a shipment and its
// originating raw row.
type AuditFinding struct {
	ContainerNumber    string       `json:"container_number"`
	RawRowID           string       `json:"raw_row_id"`
	Field              string       `json:"field"`
	SourceHeader       string       `json:"source_header,omitempty"`
	Class              FindingClass `json:"class"`
	RawValue           RawValue     `json:"raw_value"`
	PersistedValue     RawValue     `json:"persisted_value"`
	ProposedCorrection *RawValue    `json:"proposed_correction,omitempty"`
}

// Recommendation is the auditor's verdict for a batch.
type Recommendation string

const (
	RecommendPass         Recommendation = "PASS"
	RecommendAutoCorrect  Recommendation = "AUTO_CORRECT"
	RecommendManualReview Recommendation = "MANUAL_REVIEW"
)

// AuditResult aggregates one audit run over a batch. Results are produced
// fresh per run; a re-audit supersedes, never merges.
type AuditResult struct {
	BatchID        string         `json:"batch_id"`
	Verified       []AuditFinding `json:"verified"`
	Discrepancies  []AuditFinding `json:"discrepancies"`
	Unmapped       []AuditFinding `json:"unmapped"`
	CaptureRate    float64        `json:"capture_rate"`
	Recommendation Recommendation `json:"recommendation"`
}

// Counts returns verified/wrong/lost tallies.
func (r *AuditResult) Counts() (verified, wrong, lost int) {
	verified = len(r.Verified)
	for _, f := range r.Discrepancies {
		switch f.Class {
		case FindingWrong:
			wrong++
		case FindingLost:
			lost++
		}
	}
	return verified, wrong, lost
}
