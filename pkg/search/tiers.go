package search

import (
	"context"
	"errors"

	"github.com/memvault/memvault-go/pkg/index"
	"github.com/memvault/memvault-go/pkg/store"
)

// errTierUnavailable marks a tier whose backing subsystem is disabled or
// missing, as opposed to one that ran and found nothing.
var errTierUnavailable = errors.New("search tier unavailable")

// candidate is a pre-ranking hit produced by a tier.
type candidate struct {
	rec       *store.Record
	vectorSim float64
	textRel   float64
	source    string
}

// queryState carries one query's derived inputs across tiers.
type queryState struct {
	query  string
	terms  []string
	opts   *Options
	nowMS  int64
	filter *store.Filter
}

// tier is one search strategy. Tiers are attempted in order; a returned
// error marks the tier's subsystem unavailable and is absorbed by the
// engine, never surfaced to the caller.
type tier interface {
	name() string
	attempt(ctx context.Context, q *queryState) ([]*candidate, error)
}

// vectorTier embeds the query and asks the ANN index for nearest neighbors.
type vectorTier struct {
	e *Engine
}

func (t *vectorTier) name() string { return "vector" }

func (t *vectorTier) attempt(ctx context.Context, q *queryState) ([]*candidate, error) {
	if t.e.embedder == nil || t.e.index == nil {
		return nil, errTierUnavailable
	}
	if t.e.index.Len() == 0 {
		return nil, nil
	}

	vec, err := t.e.embedder.Embed(ctx, q.query)
	if err != nil {
		return nil, err
	}

	// Oversample to compensate for metadata post-filtering and the
	// similarity threshold.
	k := q.opts.Limit * t.e.cfg.Oversample
	neighbors, err := t.e.index.KNN(vec, k, indexFilter(q.filter), q.opts.Ef)
	if err != nil {
		return nil, err
	}

	out := make([]*candidate, 0, len(neighbors))
	for _, nb := range neighbors {
		similarity := 1.0 - nb.Distance
		if similarity < q.opts.SimilarityThreshold {
			continue
		}

		rec, err := t.e.getRecord(ctx, nb.ID)
		if err != nil {
			// An index node without a store row is bounded divergence;
			// the reconciler or the next rebuild repairs it.
			continue
		}
		if rec.Expired(q.nowMS) || !store.MatchMetadata(rec, q.filter) {
			continue
		}

		out = append(out, &candidate{
			rec:       rec,
			vectorSim: similarity,
			source:    t.name(),
		})
	}
	return out, nil
}

// textTier retrieves lexical candidates from the store and scores them with
// the term-frequency relevance measure.
type textTier struct {
	e *Engine
}

func (t *textTier) name() string { return "text" }

func (t *textTier) attempt(ctx context.Context, q *queryState) ([]*candidate, error) {
	if len(q.terms) == 0 {
		return nil, nil
	}

	var recs []*store.Record
	err := t.e.withRetry(ctx, func() error {
		var err error
		recs, err = t.e.store.SearchText(ctx, &store.TextSearchOptions{
			Filter: *q.filter,
			Terms:  q.terms,
			Now:    q.nowMS,
			Limit:  q.opts.Limit * t.e.cfg.Oversample,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	out := make([]*candidate, 0, len(recs))
	for _, rec := range recs {
		if rec.Expired(q.nowMS) || !store.MatchMetadata(rec, q.filter) {
			continue
		}
		rel := textRelevance(rec.Content, q.terms)
		if rel == 0 {
			continue
		}
		out = append(out, &candidate{
			rec:     rec,
			textRel: rel,
			source:  t.name(),
		})
	}
	return out, nil
}

// scanTier lists non-expired entries newest first, honoring the soft
// deadline. No semantic ranking; last resort when both the vector and text
// subsystems are unavailable.
type scanTier struct {
	e *Engine
}

func (t *scanTier) name() string { return "scan" }

func (t *scanTier) attempt(ctx context.Context, q *queryState) ([]*candidate, error) {
	var deadlineMS int64
	if q.opts.MaxSearchTime > 0 {
		deadlineMS = t.e.now().Add(q.opts.MaxSearchTime).UnixMilli()
	}

	out := make([]*candidate, 0, q.opts.Limit)
	offset := 0
	for {
		if ctx.Err() != nil {
			return out, nil
		}
		if deadlineMS > 0 && t.e.now().UnixMilli() >= deadlineMS {
			// Soft deadline: partial results beat blocking.
			return out, nil
		}

		var recs []*store.Record
		err := t.e.withRetry(ctx, func() error {
			var err error
			recs, err = t.e.store.List(ctx, &store.ListOptions{
				Filter: *q.filter,
				Now:    q.nowMS,
				Limit:  t.e.cfg.ScanBatchSize,
				Offset: offset,
			})
			return err
		})
		if err != nil {
			return out, nil
		}

		for _, rec := range recs {
			if rec.Expired(q.nowMS) || !store.MatchMetadata(rec, q.filter) {
				continue
			}
			out = append(out, &candidate{rec: rec, source: t.name()})
			if len(out) == q.opts.Limit {
				return out, nil
			}
		}

		if len(recs) < t.e.cfg.ScanBatchSize {
			return out, nil
		}
		offset += t.e.cfg.ScanBatchSize
	}
}

// indexFilter translates a store filter into the index's metadata predicate.
func indexFilter(f *store.Filter) *index.Filter {
	return &index.Filter{
		Namespace:     f.Namespace,
		Category:      string(f.Category),
		MemoryType:    string(f.MemoryType),
		MinImportance: f.MinImportance,
	}
}
