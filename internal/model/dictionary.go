package model

import "time"

// DictionaryEntry is a learned synonym: normalized source header text mapped
// to a canonical field. At most one active entry exists per normalized
// header; competing writes resolve by the store's confidence conflict policy.
type DictionaryEntry struct {
	SourceHeader   string    `json:"source_header"`
	CanonicalField string    `json:"canonical_field"`
	Confidence     float64   `json:"confidence"`
	TimesUsed      int       `json:"times_used"`
	CreatedAt      time.Time `json:"created_at"`
	LastUsedAt     time.Time `json:"last_used_at"`
}
