package model

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
)

// RawRow is one ingested manifest record. Rows are the permanent ground
// truth for auditing: written once at capture, never mutated.
type RawRow struct {
	ID         string              `json:"id"`
	BatchID    string              `json:"batch_id"`
	RowIndex   int                 `json:"row_index"`
	Headers    []string            `json:"headers"`
	Data       map[string]RawValue `json:"data"`
	CapturedAt time.Time           `json:"captured_at"`
}

// Value returns the cell under the given source header, or the null value.
func (r *RawRow) Value(header string) RawValue {
	if v, ok := r.Data[header]; ok {
		return v
	}
	return NullValue()
}

var headerFolder = cases.Fold()

// NormalizeHeader canonicalizes a source header for dictionary keying:
// Unicode case folding, trimmed, inner whitespace collapsed to single
// spaces. "  Cntr#  " and "CNTR#" key the same entry.
func NormalizeHeader(header string) string {
	folded := headerFolder.String(strings.TrimSpace(header))
	return strings.Join(strings.Fields(folded), " ")
}
