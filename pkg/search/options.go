package search

import (
	"time"

	"github.com/memvault/memvault-go/pkg/store"
)

// Options are the per-query retrieval parameters.
//
// Zero values are not meaningful for most fields; construct with
// DefaultOptions and adjust.
type Options struct {
	// Limit caps the number of returned results. Defaults to 10.
	Limit int

	// Filter restricts results by namespace, category, memory type,
	// importance floor, and metadata equality.
	Filter store.Filter

	// SimilarityThreshold drops vector candidates whose cosine similarity
	// to the query falls below it. Zero keeps everything.
	SimilarityThreshold float64

	// EnableVector enables the vector tier.
	EnableVector bool

	// EnableText enables the text tier.
	EnableText bool

	// EnableHybrid always runs the text tier and merges its candidates
	// with the vector tier's by id, instead of using text only as a
	// fallback.
	EnableHybrid bool

	// VectorWeight and TextWeight are the linear combination coefficients
	// of the base score. Their sum need not be 1.
	VectorWeight float64
	TextWeight   float64

	// EnableTemporal adds a recency boost that decays exponentially with
	// entry age.
	EnableTemporal     bool
	TemporalWeight     float64
	TemporalDecayHours float64

	// EnableContext boosts entries whose content overlaps the caller's
	// recent conversational context.
	EnableContext bool
	ContextWeight float64
	ContextTexts  []string

	// Ef overrides the index's query-time candidate-list size when
	// positive. Larger values trade latency for recall.
	Ef int

	// MaxSearchTime is a soft deadline. When it expires mid-scan the
	// engine returns the partial results gathered so far. Zero means no
	// deadline.
	MaxSearchTime time.Duration

	// Now is the reference instant (ms since epoch) for expiry exclusion
	// and temporal ranking. Zero means the engine's clock.
	Now int64
}

// DefaultOptions returns the default retrieval parameters.
func DefaultOptions() *Options {
	return &Options{
		Limit:              10,
		EnableVector:       true,
		EnableText:         true,
		VectorWeight:       0.7,
		TextWeight:         0.3,
		EnableTemporal:     true,
		TemporalWeight:     0.1,
		TemporalDecayHours: 24,
		ContextWeight:      0.1,
	}
}

func (o *Options) normalized() *Options {
	out := *o
	if out.Limit <= 0 {
		out.Limit = 10
	}
	if out.TemporalDecayHours <= 0 {
		out.TemporalDecayHours = 24
	}
	if len(out.ContextTexts) > 0 && out.ContextWeight > 0 {
		out.EnableContext = true
	}
	return &out
}

// Result is one scored search hit.
type Result struct {
	// Entry is the matching record.
	Entry *store.Record

	// Score is the final hybrid score in [0, 1].
	Score float64

	// VectorSimilarity is the cosine similarity to the query, when the
	// vector tier contributed this hit.
	VectorSimilarity float64

	// TextRelevance is the lexical relevance, when the text tier
	// contributed this hit.
	TextRelevance float64

	// Source names the tier that first produced the hit: "vector",
	// "text", or "scan".
	Source string
}
