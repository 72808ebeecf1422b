package engine

import (
	"time"

	"github.com/memvault/memvault-go/pkg/store"
)

// WriteOption is a function type for configuring Write operations.
//
// Options are applied using the functional options pattern, allowing
// flexible configuration without requiring all parameters.
type WriteOption func(*WriteOptions)

// WriteOptions contains configuration options for Write operations.
type WriteOptions struct {
	// EventType names the orchestration event that produced the entry.
	// Looked up in the classifier's event rule table.
	EventType string

	// AgentID identifies the writing agent. Looked up in the classifier's
	// agent rule table.
	AgentID string

	// IsLog marks the entry as an orchestration/event log. Log entries use
	// the short log retention window.
	IsLog bool

	// MemoryType overrides the classifier's lifecycle decision.
	MemoryType store.MemoryType

	// Importance overrides the classifier's importance score.
	Importance *float64

	// Metadata contains caller-supplied fields persisted with the entry.
	Metadata map[string]string

	// RetentionHours replaces the base retention window before the
	// importance multiplier is applied.
	RetentionHours *float64

	// NoExpiry makes the entry non-expiring.
	NoExpiry bool

	// Embedding supplies a precomputed vector, skipping embedding
	// generation.
	Embedding []float64
}

// WithEventType sets the orchestration event type for Write operations.
//
// Example:
//
//	res, _ := eng.Write(ctx, "conversations", "step done", engine.WithEventType("task_completed"))
func WithEventType(eventType string) WriteOption {
	return func(opts *WriteOptions) {
		opts.EventType = eventType
	}
}

// WithAgentID sets the writing agent for Write operations.
//
// Example:
//
//	res, _ := eng.Write(ctx, "conversations", "content", engine.WithAgentID("planner"))
func WithAgentID(agentID string) WriteOption {
	return func(opts *WriteOptions) {
		opts.AgentID = agentID
	}
}

// WithLog marks the entry as an orchestration/event log.
//
// Log entries use the short log retention window regardless of memory type.
func WithLog() WriteOption {
	return func(opts *WriteOptions) {
		opts.IsLog = true
	}
}

// WithMemoryType overrides the classifier's lifecycle decision.
//
// Example:
//
//	res, _ := eng.Write(ctx, "facts", "content", engine.WithMemoryType(store.LongTerm))
func WithMemoryType(memoryType store.MemoryType) WriteOption {
	return func(opts *WriteOptions) {
		opts.MemoryType = memoryType
	}
}

// WithImportance overrides the classifier's importance score.
//
// Example:
//
//	res, _ := eng.Write(ctx, "facts", "content", engine.WithImportance(0.9))
func WithImportance(importance float64) WriteOption {
	return func(opts *WriteOptions) {
		opts.Importance = &importance
	}
}

// WithWriteMetadata sets caller-supplied metadata persisted with the entry.
//
// Example:
//
//	res, _ := eng.Write(ctx, "conversations", "content",
//	    engine.WithWriteMetadata(map[string]string{"trace_id": "t-42"}),
//	)
func WithWriteMetadata(metadata map[string]string) WriteOption {
	return func(opts *WriteOptions) {
		opts.Metadata = metadata
	}
}

// WithRetentionHours replaces the base retention window for this entry.
// The importance multiplier still applies on top.
func WithRetentionHours(hours float64) WriteOption {
	return func(opts *WriteOptions) {
		opts.RetentionHours = &hours
	}
}

// WithNoExpiry makes the entry non-expiring.
func WithNoExpiry() WriteOption {
	return func(opts *WriteOptions) {
		opts.NoExpiry = true
	}
}

// WithEmbedding supplies a precomputed embedding vector, skipping embedding
// generation for this write.
func WithEmbedding(vec []float64) WriteOption {
	return func(opts *WriteOptions) {
		opts.Embedding = vec
	}
}

// SearchOption is a function type for configuring Search operations.
type SearchOption func(*SearchOptions)

// SearchOptions contains configuration options for Search operations.
type SearchOptions struct {
	// Limit sets the maximum number of results. Default: 10.
	Limit int

	// SimilarityThreshold filters out low-relevance vector hits.
	// Default: 0.0 (no minimum).
	SimilarityThreshold float64

	// EnableVector enables the vector tier. Default: true.
	EnableVector bool

	// EnableText enables the text tier. Default: true.
	EnableText bool

	// EnableHybrid merges vector and text candidates instead of using text
	// only as a fallback. Default: false.
	EnableHybrid bool

	// VectorWeight and TextWeight are the base-score combination
	// coefficients. Defaults: 0.7 / 0.3.
	VectorWeight float64
	TextWeight   float64

	// EnableTemporal adds a recency boost. Default: true.
	EnableTemporal     bool
	TemporalWeight     float64
	TemporalDecayHours float64

	// ContextTexts are recent conversational texts; entries overlapping
	// them are boosted by ContextWeight.
	ContextTexts  []string
	ContextWeight float64

	// Category restricts results to stored or log entries.
	Category store.Category

	// MemoryType restricts results by lifecycle class.
	MemoryType store.MemoryType

	// MinImportance excludes results below an importance floor.
	MinImportance float64

	// Metadata requires exact matches on metadata keys.
	Metadata map[string]string

	// Ef overrides the index's query-time candidate-list size.
	Ef int

	// MaxSearchTime is the soft deadline; the scan tier returns partial
	// results when it expires.
	MaxSearchTime time.Duration

	// TouchOnRead overrides the engine-level reinforcement setting for
	// this query.
	TouchOnRead *bool
}

// WithLimit sets the maximum number of results for Search operations.
//
// Example:
//
//	results, _ := eng.Search(ctx, "conversations", "query", engine.WithLimit(20))
func WithLimit(limit int) SearchOption {
	return func(opts *SearchOptions) {
		opts.Limit = limit
	}
}

// WithSimilarityThreshold sets the minimum vector similarity for Search
// results. Vector candidates below the threshold fall through to the text
// tier rather than returning an empty result.
//
// Example:
//
//	results, _ := eng.Search(ctx, "conversations", "query", engine.WithSimilarityThreshold(0.7))
func WithSimilarityThreshold(threshold float64) SearchOption {
	return func(opts *SearchOptions) {
		opts.SimilarityThreshold = threshold
	}
}

// WithVectorSearch enables or disables the vector tier.
func WithVectorSearch(enabled bool) SearchOption {
	return func(opts *SearchOptions) {
		opts.EnableVector = enabled
	}
}

// WithTextSearch enables or disables the text tier.
func WithTextSearch(enabled bool) SearchOption {
	return func(opts *SearchOptions) {
		opts.EnableText = enabled
	}
}

// WithHybrid enables hybrid mode: the text tier always runs and its
// candidates merge with the vector tier's by id.
func WithHybrid(enabled bool) SearchOption {
	return func(opts *SearchOptions) {
		opts.EnableHybrid = enabled
	}
}

// WithWeights sets the vector/text combination coefficients. Their sum need
// not be 1.
func WithWeights(vectorWeight, textWeight float64) SearchOption {
	return func(opts *SearchOptions) {
		opts.VectorWeight = vectorWeight
		opts.TextWeight = textWeight
	}
}

// WithTemporalRanking enables or disables the recency boost.
func WithTemporalRanking(enabled bool) SearchOption {
	return func(opts *SearchOptions) {
		opts.EnableTemporal = enabled
	}
}

// WithTemporalWeight sets the recency boost weight and decay constant.
func WithTemporalWeight(weight, decayHours float64) SearchOption {
	return func(opts *SearchOptions) {
		opts.TemporalWeight = weight
		opts.TemporalDecayHours = decayHours
	}
}

// WithContext supplies recent conversational texts; entries overlapping them
// are boosted.
//
// Example:
//
//	results, _ := eng.Search(ctx, "conversations", "query",
//	    engine.WithContext("previous step output", "user question"),
//	)
func WithContext(texts ...string) SearchOption {
	return func(opts *SearchOptions) {
		opts.ContextTexts = texts
	}
}

// WithContextWeight sets the context boost weight.
func WithContextWeight(weight float64) SearchOption {
	return func(opts *SearchOptions) {
		opts.ContextWeight = weight
	}
}

// WithCategoryFilter restricts results to stored or log entries.
func WithCategoryFilter(category store.Category) SearchOption {
	return func(opts *SearchOptions) {
		opts.Category = category
	}
}

// WithMemoryTypeFilter restricts results by lifecycle class.
func WithMemoryTypeFilter(memoryType store.MemoryType) SearchOption {
	return func(opts *SearchOptions) {
		opts.MemoryType = memoryType
	}
}

// WithMinImportance excludes results below an importance floor.
func WithMinImportance(min float64) SearchOption {
	return func(opts *SearchOptions) {
		opts.MinImportance = min
	}
}

// WithMetadataFilter requires exact matches on metadata keys.
//
// Example:
//
//	results, _ := eng.Search(ctx, "conversations", "query",
//	    engine.WithMetadataFilter(map[string]string{"trace_id": "t-42"}),
//	)
func WithMetadataFilter(metadata map[string]string) SearchOption {
	return func(opts *SearchOptions) {
		opts.Metadata = metadata
	}
}

// WithEf overrides the index's query-time candidate-list size. Larger values
// trade latency for recall.
func WithEf(ef int) SearchOption {
	return func(opts *SearchOptions) {
		opts.Ef = ef
	}
}

// WithMaxSearchTime sets the soft search deadline. When it expires mid-scan
// the engine returns the partial results gathered so far.
func WithMaxSearchTime(d time.Duration) SearchOption {
	return func(opts *SearchOptions) {
		opts.MaxSearchTime = d
	}
}

// WithTouchOnRead overrides the engine-level reinforcement setting for this
// query.
func WithTouchOnRead(enabled bool) SearchOption {
	return func(opts *SearchOptions) {
		opts.TouchOnRead = &enabled
	}
}

// applyWriteOptions applies Write options to create WriteOptions.
func applyWriteOptions(opts []WriteOption) *WriteOptions {
	options := &WriteOptions{}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// applySearchOptions applies Search options to create SearchOptions.
func applySearchOptions(opts []SearchOption) *SearchOptions {
	options := &SearchOptions{
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
	for _, opt := range opts {
		opt(options)
	}
	return options
}
