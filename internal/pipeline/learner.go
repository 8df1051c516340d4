package pipeline

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/harborline/manifest-cli/internal/config"
	"github.com/harborline/manifest-cli/internal/infer"
	"github.com/harborline/manifest-cli/internal/model"
	"github.com/harborline/manifest-cli/internal/store"
)

// Learner proposes dictionary entries for headers a batch left unmapped.
// Learned synonyms apply to future batches only; the current batch is never
// retroactively re-mapped.
type Learner struct {
	store    store.Store
	inferrer infer.Inferrer
	catalog  *model.FieldCatalog
	cfg      config.LearnerConfig
	// acceptThreshold filters inference candidates the same way the mapper
	// does; a synonym too weak to map with is too weak to learn.
	acceptThreshold float64
}

// NewLearner creates a Learner.
func NewLearner(st store.Store, inf infer.Inferrer, catalog *model.FieldCatalog, cfg config.LearnerConfig, acceptThreshold float64) *Learner {
	return &Learner{
		store:           st,
		inferrer:        inf,
		catalog:         catalog,
		cfg:             cfg,
		acceptThreshold: acceptThreshold,
	}
}

// LearnStats summarizes one learner run.
type LearnStats struct {
	Added   int
	Skipped int
}

// unmappedAggregate accumulates evidence for one normalized header.
type unmappedAggregate struct {
	header    string // first-seen verbatim spelling
	frequency int
	samples   []string
}

// Learn aggregates the batch's unmapped headers, asks inference for
// candidate fields in one batched call, and pushes survivors through the
// dictionary's conflict policy. Every candidate is recorded either as
// DICTIONARY_ADD or DICTIONARY_SKIP.
func (l *Learner) Learn(ctx context.Context, batch *model.ImportBatch, proposal *model.MappingProposal, rows []model.RawRow) (LearnStats, error) {
	log := zap.L().With(zap.String("batch_id", batch.ID))
	var stats LearnStats

	aggregates := l.aggregate(proposal, rows)
	if len(aggregates) == 0 {
		log.Info("learner: nothing unmapped, nothing to learn")
		return stats, nil
	}

	headers := make([]string, 0, len(aggregates))
	samples := make(map[string][]string, len(aggregates))
	byHeader := make(map[string]*unmappedAggregate, len(aggregates))
	for _, agg := range aggregates {
		headers = append(headers, agg.header)
		samples[agg.header] = agg.samples
		byHeader[agg.header] = agg
	}

	if l.inferrer == nil {
		log.Info("learner: inference disabled, skipping synonym learning")
		return stats, nil
	}

	result, err := l.inferrer.InferHeaders(ctx, infer.Request{
		Headers: headers,
		Samples: samples,
		Catalog: l.catalog,
	})
	if err != nil {
		// Degraded, not fatal: the batch completes without new synonyms.
		log.Warn("learner: inference unavailable, skipping synonym learning", zap.Error(err))
		return stats, nil
	}

	now := time.Now().UTC()
	var records []model.ImprovementRecord
	for _, c := range result.Candidates {
		agg := byHeader[c.SourceHeader]
		if agg == nil {
			continue
		}

		rec := model.ImprovementRecord{
			BatchID:        batch.ID,
			UnmappedHeader: c.SourceHeader,
			CandidateField: c.CanonicalField,
			Confidence:     c.Confidence,
			SampleValues:   agg.samples,
			Frequency:      agg.frequency,
			Action:         model.ActionDictionarySkip,
			CreatedAt:      now,
		}

		if c.CanonicalField != "" && c.Confidence >= l.acceptThreshold {
			applied, survivor, err := l.store.UpsertEntry(ctx, model.DictionaryEntry{
				SourceHeader:   model.NormalizeHeader(c.SourceHeader),
				CanonicalField: c.CanonicalField,
				Confidence:     c.Confidence,
			})
			if err != nil {
				return stats, eris.Wrap(err, "pipeline: learner dictionary upsert")
			}
			if applied {
				rec.Action = model.ActionDictionaryAdd
			} else if survivor != nil {
				log.Info("learner: dictionary conflict, incumbent survives",
					zap.String("header", rec.UnmappedHeader),
					zap.String("candidate_field", c.CanonicalField),
					zap.Float64("candidate_confidence", c.Confidence),
					zap.String("surviving_field", survivor.CanonicalField),
					zap.Float64("surviving_confidence", survivor.Confidence),
				)
			}
		}

		if rec.Action == model.ActionDictionaryAdd {
			stats.Added++
		} else {
			stats.Skipped++
		}
		records = append(records, rec)
	}

	if len(records) > 0 {
		if err := l.store.RecordImprovements(ctx, records); err != nil {
			return stats, eris.Wrap(err, "pipeline: record improvements")
		}
	}

	log.Info("learner complete",
		zap.Int("candidates", len(records)),
		zap.Int("added", stats.Added),
		zap.Int("skipped", stats.Skipped),
	)
	return stats, nil
}

// aggregate groups unmapped headers by normalized spelling with frequency
// and sample values, dropping anything under the minimum frequency floor.
func (l *Learner) aggregate(proposal *model.MappingProposal, rows []model.RawRow) []*unmappedAggregate {
	byNormalized := make(map[string]*unmappedAggregate)

	for header := range proposal.UnmappedSourceFields {
		normalized := model.NormalizeHeader(header)
		if normalized == "" {
			continue
		}
		agg := byNormalized[normalized]
		if agg == nil {
			agg = &unmappedAggregate{header: header}
			byNormalized[normalized] = agg
		}
		for i := range rows {
			v := rows[i].Value(header)
			if v.IsEmpty() {
				continue
			}
			agg.frequency++
			if len(agg.samples) < l.cfg.MaxSamples {
				agg.samples = append(agg.samples, v.String())
			}
		}
	}

	var out []*unmappedAggregate
	for _, agg := range byNormalized {
		if agg.frequency >= l.cfg.MinFrequency {
			out = append(out, agg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].header < out[j].header })
	return out
}
