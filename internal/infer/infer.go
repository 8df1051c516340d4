// Package infer proposes canonical field mappings for manifest headers the
// dictionary cannot resolve.
package infer

import (
	"context"

	"github.com/harborline/manifest-cli/internal/model"
)

// Request carries the headers needing mapping plus context for the model.
type Request struct {
	// Headers are the unresolved source headers, verbatim from the manifest.
	Headers []string
	// Samples holds up to a handful of raw cell values per header.
	Samples map[string][]string
	// Catalog is the canonical schema the candidates must come from.
	Catalog *model.FieldCatalog
}

// Candidate is a proposed mapping for one source header. CanonicalField is
// empty when the model found no plausible target.
type Candidate struct {
	SourceHeader   string
	CanonicalField string
	Confidence     float64
	Reasoning      string
}

// Result is the outcome of one inference call covering all requested headers.
type Result struct {
	Candidates     []Candidate
	ForwarderGuess string
}

// Inferrer proposes header mappings. Implementations must return candidates
// only for headers present in the request and fields present in the catalog.
type Inferrer interface {
	InferHeaders(ctx context.Context, req Request) (*Result, error)
}
