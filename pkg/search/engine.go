// Package search answers retrieval queries with the best-available hybrid
// ranking, degrading gracefully when subsystems are down.
//
// Retrieval runs as an ordered list of strategy tiers: vector search over
// the ANN index, lexical search over the store, and a recency scan as a last
// resort. The first tier with hits wins, unless hybrid mode merges vector
// and text candidates by id. Tier failures are absorbed: a query always
// yields a ranked list, possibly empty, and never an error for
// retrieval-quality reasons.
package search

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/memvault/memvault-go/pkg/embedder"
	"github.com/memvault/memvault-go/pkg/index"
	"github.com/memvault/memvault-go/pkg/store"
)

// VectorIndex is the slice of the ANN index the search engine needs.
type VectorIndex interface {
	KNN(query []float64, k int, filter *index.Filter, ef int) ([]index.Neighbor, error)
	Len() int
}

// Config contains engine-level retrieval settings.
type Config struct {
	// Oversample multiplies the requested limit when asking the index for
	// candidates, compensating for post-filtering. Defaults to 4.
	Oversample int `yaml:"oversample" json:"oversample"`

	// ScanBatchSize is the page size of the scan tier. Defaults to 256.
	ScanBatchSize int `yaml:"scan_batch_size" json:"scan_batch_size"`

	// RetryAttempts bounds retries of transient store failures before a
	// tier is declared unavailable. Defaults to 2.
	RetryAttempts int `yaml:"retry_attempts" json:"retry_attempts"`

	// RetryBackoff is the pause between attempts. Defaults to 50ms.
	RetryBackoff time.Duration `yaml:"retry_backoff" json:"retry_backoff"`
}

func (c Config) withDefaults() Config {
	if c.Oversample <= 0 {
		c.Oversample = 4
	}
	if c.ScanBatchSize <= 0 {
		c.ScanBatchSize = 256
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 2
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 50 * time.Millisecond
	}
	return c
}

// Engine orchestrates the search tiers and the hybrid scoring.
type Engine struct {
	store    store.Store
	index    VectorIndex
	embedder embedder.Provider
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time

	vector tier
	text   tier
	scan   tier
}

// New creates a search engine. emb may be nil (vector tier unavailable);
// logger may be nil.
func New(st store.Store, idx VectorIndex, emb embedder.Provider, cfg Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		store:    st,
		index:    idx,
		embedder: emb,
		cfg:      cfg.withDefaults(),
		logger:   logger,
		now:      time.Now,
	}
	e.vector = &vectorTier{e: e}
	e.text = &textTier{e: e}
	e.scan = &scanTier{e: e}
	return e
}

// SetClock replaces the engine's time source. Used by tests to simulate
// clock advancement.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Search runs query against the tiers and returns up to opts.Limit results
// sorted descending by score, ties broken by created_at descending.
//
// Logically expired entries are never returned, even when not yet physically
// deleted. "No results" is a valid outcome, not an error; subsystem failures
// degrade to the next tier.
func (e *Engine) Search(ctx context.Context, query string, opts *Options) []*Result {
	if opts == nil {
		opts = DefaultOptions()
	}
	opts = opts.normalized()

	nowMS := opts.Now
	if nowMS == 0 {
		nowMS = e.now().UnixMilli()
	}

	q := &queryState{
		query:  query,
		terms:  tokenize(query),
		opts:   opts,
		nowMS:  nowMS,
		filter: &opts.Filter,
	}

	vectorDown := !opts.EnableVector
	var vectorCands []*candidate
	if opts.EnableVector {
		cands, err := e.vector.attempt(ctx, q)
		if err != nil {
			vectorDown = true
			e.logger.Warn("vector tier unavailable, falling back",
				zap.Error(err))
		} else {
			vectorCands = cands
		}
	}

	textDown := !opts.EnableText
	var textCands []*candidate
	if opts.EnableText && (opts.EnableHybrid || len(vectorCands) == 0) {
		cands, err := e.text.attempt(ctx, q)
		if err != nil {
			textDown = true
			e.logger.Warn("text tier unavailable, falling back",
				zap.Error(err))
		} else {
			textCands = cands
		}
	}

	merged := mergeCandidates(vectorCands, textCands)
	if len(merged) > 0 {
		return e.rank(merged, opts, nowMS)
	}

	// The scan tier runs only on subsystem outage, not on mere emptiness.
	if vectorDown && textDown {
		cands, _ := e.scan.attempt(ctx, q)
		return e.rank(cands, opts, nowMS)
	}

	return []*Result{}
}

// mergeCandidates combines the vector and text candidate sets by record id.
// A record present in both keeps its source tier and carries both scores
// into the weighted base.
func mergeCandidates(vectorCands, textCands []*candidate) []*candidate {
	if len(textCands) == 0 {
		return vectorCands
	}
	if len(vectorCands) == 0 {
		return textCands
	}

	byID := make(map[int64]*candidate, len(vectorCands))
	merged := make([]*candidate, 0, len(vectorCands)+len(textCands))
	for _, c := range vectorCands {
		byID[c.rec.ID] = c
		merged = append(merged, c)
	}
	for _, c := range textCands {
		if existing, ok := byID[c.rec.ID]; ok {
			existing.textRel = c.textRel
			continue
		}
		merged = append(merged, c)
	}
	return merged
}

// rank scores, sorts, and truncates candidates. Scan-tier candidates carry
// no semantic signal and stay ordered by recency.
func (e *Engine) rank(cands []*candidate, opts *Options, nowMS int64) []*Result {
	results := make([]*Result, 0, len(cands))
	for _, c := range cands {
		results = append(results, &Result{
			Entry:            c.rec,
			Score:            hybridScore(c.rec, c.vectorSim, c.textRel, opts, nowMS),
			VectorSimilarity: c.vectorSim,
			TextRelevance:    c.textRel,
			Source:           c.source,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Entry.CreatedAt > results[j].Entry.CreatedAt
	})

	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results
}

// getRecord fetches a record with bounded retry. ErrNotFound is returned
// immediately; only transient failures are retried.
func (e *Engine) getRecord(ctx context.Context, id int64) (*store.Record, error) {
	var rec *store.Record
	err := e.withRetry(ctx, func() error {
		var err error
		rec, err = e.store.Get(ctx, id)
		return err
	})
	return rec, err
}

// withRetry runs fn up to cfg.RetryAttempts times, pausing between attempts.
// Not-found results are terminal, not transient.
func (e *Engine) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < e.cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(e.cfg.RetryBackoff):
			}
		}
		err = fn()
		if err == nil || errors.Is(err, store.ErrNotFound) {
			return err
		}
	}
	return err
}
