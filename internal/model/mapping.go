package model

// MappingSource records which path produced a field mapping.
type MappingSource string

const (
	MappingSourceDictionary MappingSource = "dictionary"
	MappingSourceInference  MappingSource = "inference"
	MappingSourceOperator   MappingSource = "operator"
)

// FieldMapping binds one canonical field to a source header with a score.
type FieldMapping struct {
	SourceHeader string        `json:"source_header"`
	Confidence   float64       `json:"confidence"`
	Source       MappingSource `json:"source"`
	Reasoning    string        `json:"reasoning,omitempty"`
}

// MappingProposal is the translator's scored output for one batch. It is a
// pure proposal: nothing is persisted until it is approved. The orchestrator
// snapshots it onto the batch row so the confirmation gate and stage reruns
// survive a process restart.
type MappingProposal struct {
	BatchID        string `json:"batch_id"`
	ForwarderGuess string `json:"forwarder_guess,omitempty"`

	// FieldMappings holds accepted mappings keyed by canonical field.
	FieldMappings map[string]FieldMapping `json:"field_mappings"`

	// UnmappedSourceFields holds headers with no accepted mapping, keyed to
	// the best rejected confidence (0 when nothing was proposed at all).
	UnmappedSourceFields map[string]float64 `json:"unmapped_source_fields"`

	// MissingSchemaFields lists catalog fields no source header resolved to.
	MissingSchemaFields []string `json:"missing_schema_fields"`

	// OverallConfidence is the row-weighted mean of accepted confidences.
	OverallConfidence float64 `json:"overall_confidence"`

	// Degraded marks a dictionary-only proposal produced while the inference
	// capability was unavailable.
	Degraded bool `json:"degraded,omitempty"`
}

// HeaderFor returns the source header mapped to the given canonical field,
// or "" when the field is unmapped.
func (p *MappingProposal) HeaderFor(field string) string {
	if m, ok := p.FieldMappings[field]; ok {
		return m.SourceHeader
	}
	return ""
}

// MappedHeaders returns the set of source headers consumed by accepted
// mappings, keyed by normalized header.
func (p *MappingProposal) MappedHeaders() map[string]bool {
	out := make(map[string]bool, len(p.FieldMappings))
	for _, m := range p.FieldMappings {
		out[NormalizeHeader(m.SourceHeader)] = true
	}
	return out
}
