package pipeline

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/harborline/manifest-cli/internal/config"
	"github.com/harborline/manifest-cli/internal/infer"
	"github.com/harborline/manifest-cli/internal/model"
	"github.com/harborline/manifest-cli/internal/store"
)

// Mapper resolves a batch's headers to canonical fields: dictionary first,
// then one batched inference call for whatever the dictionary could not
// settle. The output is a pure proposal; nothing is persisted here beyond
// dictionary usage counters.
type Mapper struct {
	store    store.Store
	inferrer infer.Inferrer
	catalog  *model.FieldCatalog
	cfg      config.MappingConfig
}

// NewMapper creates a Mapper. A nil inferrer permanently disables the
// inference path; every proposal is then dictionary-only and degraded.
func NewMapper(st store.Store, inf infer.Inferrer, catalog *model.FieldCatalog, cfg config.MappingConfig) *Mapper {
	return &Mapper{
		store:    st,
		inferrer: inf,
		catalog:  catalog,
		cfg:      cfg,
	}
}

// candidate is one scored header→field proposal before acceptance filtering.
type candidate struct {
	header     string
	field      string
	confidence float64
	source     model.MappingSource
	reasoning  string
}

// Propose builds a scored mapping proposal for the batch from its headers
// and captured rows. Inference unavailability is a degraded path, never an
// error: the proposal falls back to dictionary hits with a penalized overall
// confidence.
func (m *Mapper) Propose(ctx context.Context, batch *model.ImportBatch, rows []model.RawRow) (*model.MappingProposal, error) {
	log := zap.L().With(zap.String("batch_id", batch.ID))

	var candidates []candidate
	var unresolved []string

	// Dictionary pass. High-confidence hits skip inference entirely.
	for _, header := range batch.Headers {
		normalized := model.NormalizeHeader(header)
		if normalized == "" {
			continue
		}
		entry, err := m.store.LookupEntry(ctx, normalized)
		if err != nil {
			if eris.Is(err, store.ErrNotFound) {
				unresolved = append(unresolved, header)
				continue
			}
			return nil, eris.Wrap(err, "pipeline: dictionary lookup")
		}
		if entry.Confidence < m.cfg.DictionaryAcceptThreshold {
			// Keep the weak hit as a candidate but let inference compete.
			candidates = append(candidates, candidate{
				header:     header,
				field:      entry.CanonicalField,
				confidence: entry.Confidence,
				source:     model.MappingSourceDictionary,
			})
			unresolved = append(unresolved, header)
			continue
		}
		candidates = append(candidates, candidate{
			header:     header,
			field:      entry.CanonicalField,
			confidence: entry.Confidence,
			source:     model.MappingSourceDictionary,
		})
	}

	// Inference pass for everything the dictionary left open.
	degraded := false
	forwarderGuess := ""
	if len(unresolved) > 0 {
		if m.inferrer == nil {
			degraded = true
		} else {
			result, err := m.inferrer.InferHeaders(ctx, infer.Request{
				Headers: unresolved,
				Samples: sampleValues(unresolved, rows, m.cfg.SampleRows),
				Catalog: m.catalog,
			})
			if err != nil {
				log.Warn("inference unavailable, proposing dictionary-only mapping", zap.Error(err))
				degraded = true
			} else {
				forwarderGuess = result.ForwarderGuess
				for _, c := range result.Candidates {
					candidates = append(candidates, candidate{
						header:     c.SourceHeader,
						field:      c.CanonicalField,
						confidence: c.Confidence,
						reasoning:  c.Reasoning,
						source:     model.MappingSourceInference,
					})
				}
			}
		}
	}

	proposal := m.assemble(batch, candidates, rows)

	// Usage counters track acceptance, not lookups: a dictionary hit that
	// loses to a stronger candidate was not used.
	for _, fm := range proposal.FieldMappings {
		if fm.Source != model.MappingSourceDictionary {
			continue
		}
		if err := m.store.RecordUsage(ctx, model.NormalizeHeader(fm.SourceHeader)); err != nil {
			log.Warn("failed to record dictionary usage", zap.String("header", fm.SourceHeader), zap.Error(err))
		}
	}

	proposal.Degraded = degraded
	if degraded {
		proposal.OverallConfidence *= m.cfg.DegradedPenalty
	}
	if proposal.ForwarderGuess == "" {
		proposal.ForwarderGuess = forwarderGuess
	}

	log.Info("mapping proposal built",
		zap.Int("mapped", len(proposal.FieldMappings)),
		zap.Int("unmapped", len(proposal.UnmappedSourceFields)),
		zap.Float64("overall_confidence", proposal.OverallConfidence),
		zap.Bool("degraded", proposal.Degraded),
	)
	return proposal, nil
}

// assemble applies the acceptance threshold and resolves field collisions:
// when two headers claim the same canonical field the higher confidence
// wins, dictionary beating inference on ties.
func (m *Mapper) assemble(batch *model.ImportBatch, candidates []candidate, rows []model.RawRow) *model.MappingProposal {
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].confidence != candidates[j].confidence {
			return candidates[i].confidence > candidates[j].confidence
		}
		return candidates[i].source == model.MappingSourceDictionary &&
			candidates[j].source != model.MappingSourceDictionary
	})

	proposal := &model.MappingProposal{
		BatchID:              batch.ID,
		FieldMappings:        make(map[string]model.FieldMapping),
		UnmappedSourceFields: make(map[string]float64),
	}

	bestRejected := make(map[string]float64)
	claimed := make(map[string]bool) // headers consumed by an accepted mapping

	for _, c := range candidates {
		accepted := c.field != "" &&
			c.confidence >= m.cfg.AcceptThreshold &&
			!claimed[c.header]
		if accepted {
			if _, taken := proposal.FieldMappings[c.field]; taken {
				accepted = false
			}
		}
		if !accepted {
			if c.confidence > bestRejected[c.header] {
				bestRejected[c.header] = c.confidence
			}
			continue
		}
		proposal.FieldMappings[c.field] = model.FieldMapping{
			SourceHeader: c.header,
			Confidence:   c.confidence,
			Source:       c.source,
			Reasoning:    c.reasoning,
		}
		claimed[c.header] = true
	}

	for _, header := range batch.Headers {
		if model.NormalizeHeader(header) == "" || claimed[header] {
			continue
		}
		proposal.UnmappedSourceFields[header] = bestRejected[header]
	}

	for _, name := range m.catalog.Names() {
		if _, ok := proposal.FieldMappings[name]; !ok {
			proposal.MissingSchemaFields = append(proposal.MissingSchemaFields, name)
		}
	}

	proposal.OverallConfidence = overallConfidence(proposal.FieldMappings, rows)

	if proposal.ForwarderGuess == "" {
		if header := proposal.HeaderFor(model.FieldForwarder); header != "" {
			proposal.ForwarderGuess = dominantValue(header, rows)
		}
	}

	return proposal
}

// overallConfidence is the row-weighted mean of accepted confidences: each
// mapping weighs in proportion to how many rows actually populate its
// column. With no rows it degrades to a plain mean.
func overallConfidence(mappings map[string]model.FieldMapping, rows []model.RawRow) float64 {
	if len(mappings) == 0 {
		return 0
	}

	var weighted, totalWeight float64
	for _, fm := range mappings {
		weight := float64(populatedCount(fm.SourceHeader, rows))
		if len(rows) == 0 {
			weight = 1
		}
		weighted += fm.Confidence * weight
		totalWeight += weight
	}
	if totalWeight == 0 {
		// Columns exist but no row fills them; fall back to a plain mean.
		for _, fm := range mappings {
			weighted += fm.Confidence
		}
		return weighted / float64(len(mappings))
	}
	return weighted / totalWeight
}

func populatedCount(header string, rows []model.RawRow) int {
	n := 0
	for i := range rows {
		if !rows[i].Value(header).IsEmpty() {
			n++
		}
	}
	return n
}

// sampleValues collects up to maxSamples non-empty cell values per header,
// rendered as text for the inference prompt.
func sampleValues(headers []string, rows []model.RawRow, maxSamples int) map[string][]string {
	if maxSamples <= 0 {
		maxSamples = 5
	}
	out := make(map[string][]string, len(headers))
	for _, header := range headers {
		for i := range rows {
			if len(out[header]) >= maxSamples {
				break
			}
			if v := rows[i].Value(header); !v.IsEmpty() {
				out[header] = append(out[header], v.String())
			}
		}
	}
	return out
}

// dominantValue returns the most frequent non-empty value in a column.
func dominantValue(header string, rows []model.RawRow) string {
	counts := make(map[string]int)
	best, bestCount := "", 0
	for i := range rows {
		v := rows[i].Value(header)
		if v.IsEmpty() {
			continue
		}
		s := v.String()
		counts[s]++
		if counts[s] > bestCount {
			best, bestCount = s, counts[s]
		}
	}
	return best
}
