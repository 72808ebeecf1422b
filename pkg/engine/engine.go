package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	"github.com/memvault/memvault-go/pkg/classifier"
	"github.com/memvault/memvault-go/pkg/decay"
	"github.com/memvault/memvault-go/pkg/embedder"
	"github.com/memvault/memvault-go/pkg/index"
	"github.com/memvault/memvault-go/pkg/search"
	"github.com/memvault/memvault-go/pkg/store"
)

// Engine is the memory engine facade.
//
// It composes the classifier, decay scheduler, embedding provider, storage
// backend, vector index, and search engine behind four operations: Write,
// Search, Cleanup, and Stats. An Engine is safe for concurrent use by many
// goroutines; background cleanup and reconciliation run on their own timers
// until Close.
//
// Example:
//
//	eng, err := engine.New(config, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Close()
//
//	res, err := eng.Write(ctx, "conversations", "User prefers Go",
//	    engine.WithAgentID("planner"),
//	)
type Engine struct {
	cfg        *Config
	store      store.Store
	embedder   embedder.Provider
	index      *index.HNSW
	classifier *classifier.Classifier
	scheduler  *decay.Scheduler
	searcher   *search.Engine
	node       *snowflake.Node
	logger     *zap.Logger
	now        func() time.Time

	mu     sync.RWMutex
	closed bool
	cancel context.CancelFunc
	bg     sync.WaitGroup
}

// WriteResult describes the outcome of a Write.
//
// Sub-failures that did not abort the write (embedding generation, index
// insert) are recorded in Warnings; a returned id is always at least
// text/scan-searchable.
type WriteResult struct {
	// ID is the new entry's unique identifier.
	ID int64

	// MemoryType is the classifier-assigned lifecycle class.
	MemoryType store.MemoryType

	// Category is stored or log.
	Category store.Category

	// Importance is the classifier-assigned importance score.
	Importance float64

	// ExpireAt is the computed expiration instant (ms since epoch), nil for
	// non-expiring entries.
	ExpireAt *int64

	// Embedded reports whether an embedding was stored.
	Embedded bool

	// Indexed reports whether the vector index holds the entry. False with
	// Embedded true means the reconciler will repair it.
	Indexed bool

	// Warnings lists non-fatal sub-failures.
	Warnings []string
}

// Stats is a read-only health snapshot for monitoring endpoints.
type Stats struct {
	// ActiveEntries is the number of non-expired entries.
	ActiveEntries int64 `json:"active_entries"`

	// ExpiredEntries is the number of logically expired, not yet deleted
	// entries.
	ExpiredEntries int64 `json:"expired_entries"`

	// IndexSize is the number of live nodes in the vector index.
	IndexSize int `json:"index_size"`

	// BackendLatency is the storage backend's roundtrip latency.
	BackendLatency time.Duration `json:"backend_latency"`

	// BackendHealthy reports whether the backend answered the ping.
	BackendHealthy bool `json:"backend_healthy"`
}

// New creates a memory engine from the configuration.
//
// The configuration is validated first; a malformed rule table or backend
// section fails here, never at per-call time. On success the engine has
// rebuilt its vector index from the store and started its background
// cleanup and reconciliation tasks.
//
// logger may be nil.
func New(cfg *Config, logger *zap.Logger) (*Engine, error) {
	if cfg == nil {
		return nil, NewEngineError("New", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	st, err := cfg.buildStore()
	if err != nil {
		return nil, NewEngineError("New", err)
	}

	emb, err := cfg.buildEmbedder()
	if err != nil {
		st.Close()
		return nil, NewEngineError("New", err)
	}

	node, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		st.Close()
		return nil, NewEngineError("New", err)
	}

	idx := index.New(index.Config{
		M:              cfg.Index.M,
		EfConstruction: cfg.Index.EfConstruction,
		EfSearch:       cfg.Index.EfSearch,
	})

	e := &Engine{
		cfg:        cfg,
		store:      st,
		embedder:   emb,
		index:      idx,
		classifier: classifier.New(cfg.Classifier),
		scheduler:  decay.New(st, idx, cfg.Decay, logger),
		searcher:   search.New(st, idx, emb, cfg.Search, logger),
		node:       node,
		logger:     logger,
		now:        time.Now,
	}

	// The index is derived state; warm-start it from the store. Failure
	// degrades reads to the text/scan tiers until the next rebuild.
	if err := e.RebuildIndex(context.Background()); err != nil {
		logger.Warn("initial index rebuild failed, reads degrade to text/scan",
			zap.Error(err))
	}

	bgCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	if cfg.Decay.Enabled {
		e.bg.Add(1)
		go func() {
			defer e.bg.Done()
			e.scheduler.Run(bgCtx)
		}()
	}
	if cfg.ReconcileInterval > 0 {
		e.bg.Add(1)
		go func() {
			defer e.bg.Done()
			e.reconcileLoop(bgCtx)
		}()
	}

	return e, nil
}

// SetClock replaces the engine's time source across all components. Used by
// tests to simulate clock advancement.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
	e.scheduler.SetClock(now)
	e.searcher.SetClock(now)
}

// Write persists a new memory entry and returns its id.
//
// The write pipeline is classify, compute expiry, embed, persist, index.
// Embedding failure is non-fatal: the entry is stored without a vector and
// the failure is recorded in WriteResult.Warnings. Store failure is fatal
// and surfaced to the caller. Index failure after a successful persist
// leaves the entry text/scan-searchable; the background reconciler indexes
// it later.
//
// Parameters:
//   - ctx: Context for controlling request lifecycle
//   - namespace: Logical isolation key (required)
//   - content: Textual payload (required)
//   - opts: Optional write options (event type, agent id, overrides, metadata)
//
// Returns the write outcome, or an error for fatal conditions (validation,
// store failure).
func (e *Engine) Write(ctx context.Context, namespace, content string, opts ...WriteOption) (*WriteResult, error) {
	if e.isClosed() {
		return nil, NewEngineError("Write", ErrEngineClosed)
	}
	options := applyWriteOptions(opts)

	if strings.TrimSpace(namespace) == "" {
		return nil, NewEngineError("Write", fmt.Errorf("%w: namespace is required", ErrInvalidInput))
	}
	if strings.TrimSpace(content) == "" {
		return nil, NewEngineError("Write", fmt.Errorf("%w: content is required", ErrInvalidInput))
	}
	if options.Importance != nil && *options.Importance < 0 {
		return nil, NewEngineError("Write", fmt.Errorf("%w: importance must be >= 0", ErrInvalidInput))
	}
	switch options.MemoryType {
	case "", store.ShortTerm, store.LongTerm:
	default:
		return nil, NewEngineError("Write", fmt.Errorf("%w: unknown memory type %q", ErrInvalidInput, options.MemoryType))
	}

	if e.cfg.WriteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.WriteTimeout)
		defer cancel()
	}

	cls := e.classifier.Classify(content, classifier.Input{
		Namespace:  namespace,
		EventType:  options.EventType,
		AgentID:    options.AgentID,
		IsLog:      options.IsLog,
		MemoryType: options.MemoryType,
		Importance: options.Importance,
		Extra:      options.Metadata,
	})

	createdAt := e.now().UnixMilli()
	id := e.node.Generate().Int64()
	expireAt := e.scheduler.ComputeExpiry(createdAt, cls.MemoryType, cls.Category, cls.Importance, &decay.Overrides{
		RetentionHours: options.RetentionHours,
		NoExpiry:       options.NoExpiry,
	})

	result := &WriteResult{
		ID:         id,
		MemoryType: cls.MemoryType,
		Category:   cls.Category,
		Importance: cls.Importance,
		ExpireAt:   expireAt,
	}

	vec := options.Embedding
	if vec == nil && e.embedder != nil {
		v, err := e.embedder.Embed(ctx, content)
		if err != nil {
			// Non-fatal: the entry stays text/scan-searchable.
			result.Warnings = append(result.Warnings,
				"embedding generation failed: "+err.Error())
			e.logger.Warn("embedding generation failed, storing without vector",
				zap.Int64("id", id),
				zap.Error(err))
		} else {
			vec = v
		}
	}
	result.Embedded = vec != nil

	rec := &store.Record{
		ID:              id,
		Namespace:       namespace,
		Content:         content,
		Embedding:       vec,
		MemoryType:      cls.MemoryType,
		Category:        cls.Category,
		ImportanceScore: cls.Importance,
		Metadata:        options.Metadata,
		CreatedAt:       createdAt,
		ExpireAt:        expireAt,
	}
	if err := e.store.Insert(ctx, rec); err != nil {
		return nil, NewEngineError("Write", err)
	}

	if vec != nil {
		if err := e.index.Insert(id, vec, indexMeta(rec)); err != nil {
			result.Warnings = append(result.Warnings,
				"index insert failed: "+err.Error())
			e.logger.Warn("index insert failed, entry awaits reconciliation",
				zap.Int64("id", id),
				zap.Error(err))
		} else {
			result.Indexed = true
			if err := e.store.MarkIndexed(ctx, id, true); err != nil {
				e.logger.Warn("marking entry indexed failed",
					zap.Int64("id", id),
					zap.Error(err))
			}
		}
	}

	return result, nil
}

// Search retrieves the best-matching entries for query in namespace.
//
// Retrieval degrades through the vector, text, and scan tiers as subsystems
// become unavailable; "no results" is an empty list, not an error. Logically
// expired entries are never returned.
//
// Parameters:
//   - ctx: Context for controlling request lifecycle
//   - namespace: Logical isolation key (required)
//   - query: Query text
//   - opts: Optional search options (limit, thresholds, weights, filters)
//
// Returns the ranked results, or an error for validation failures only.
func (e *Engine) Search(ctx context.Context, namespace, query string, opts ...SearchOption) ([]*search.Result, error) {
	if e.isClosed() {
		return nil, NewEngineError("Search", ErrEngineClosed)
	}
	if strings.TrimSpace(namespace) == "" {
		return nil, NewEngineError("Search", fmt.Errorf("%w: namespace is required", ErrInvalidInput))
	}
	options := applySearchOptions(opts)

	sOpts := &search.Options{
		Limit:               options.Limit,
		SimilarityThreshold: options.SimilarityThreshold,
		EnableVector:        options.EnableVector,
		EnableText:          options.EnableText,
		EnableHybrid:        options.EnableHybrid,
		VectorWeight:        options.VectorWeight,
		TextWeight:          options.TextWeight,
		EnableTemporal:      options.EnableTemporal,
		TemporalWeight:      options.TemporalWeight,
		TemporalDecayHours:  options.TemporalDecayHours,
		ContextWeight:       options.ContextWeight,
		ContextTexts:        options.ContextTexts,
		Ef:                  options.Ef,
		MaxSearchTime:       options.MaxSearchTime,
		Now:                 e.now().UnixMilli(),
		Filter: store.Filter{
			Namespace:     namespace,
			Category:      options.Category,
			MemoryType:    options.MemoryType,
			MinImportance: options.MinImportance,
			Metadata:      options.Metadata,
		},
	}

	results := e.searcher.Search(ctx, query, sOpts)

	touch := e.cfg.TouchOnRead
	if options.TouchOnRead != nil {
		touch = *options.TouchOnRead
	}
	if touch && len(results) > 0 {
		e.reinforce(ctx, results)
	}

	return results, nil
}

// Get retrieves a single entry by id.
func (e *Engine) Get(ctx context.Context, id int64) (*store.Record, error) {
	if e.isClosed() {
		return nil, NewEngineError("Get", ErrEngineClosed)
	}
	rec, err := e.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, NewEngineError("Get", ErrNotFound)
		}
		return nil, NewEngineError("Get", err)
	}
	return rec, nil
}

// Delete removes an entry from the store and the vector index.
func (e *Engine) Delete(ctx context.Context, id int64) error {
	if e.isClosed() {
		return NewEngineError("Delete", ErrEngineClosed)
	}
	if err := e.store.Delete(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NewEngineError("Delete", ErrNotFound)
		}
		return NewEngineError("Delete", err)
	}
	e.index.Delete(id)
	return nil
}

// Cleanup finds expired entries and, unless dryRun is set, deletes them from
// the store and the vector index. It is the on-demand form of the scheduled
// background cleanup; both are idempotent.
func (e *Engine) Cleanup(ctx context.Context, dryRun bool) (*decay.Stats, error) {
	if e.isClosed() {
		return nil, NewEngineError("Cleanup", ErrEngineClosed)
	}
	stats, err := e.scheduler.Cleanup(ctx, dryRun)
	if err != nil {
		return stats, NewEngineError("Cleanup", err)
	}
	return stats, nil
}

// Stats returns a health snapshot: entry counts, index size, and backend
// roundtrip latency.
func (e *Engine) Stats(ctx context.Context) (*Stats, error) {
	if e.isClosed() {
		return nil, NewEngineError("Stats", ErrEngineClosed)
	}
	nowMS := e.now().UnixMilli()

	start := time.Now()
	pingErr := e.store.Ping(ctx)
	latency := time.Since(start)

	stats := &Stats{
		IndexSize:      e.index.Len(),
		BackendLatency: latency,
		BackendHealthy: pingErr == nil,
	}
	if pingErr != nil {
		return stats, NewEngineError("Stats", errors.Join(ErrBackendUnavailable, pingErr))
	}

	active, err := e.store.CountActive(ctx, nowMS)
	if err != nil {
		return stats, NewEngineError("Stats", err)
	}
	expired, err := e.store.CountExpired(ctx, nowMS)
	if err != nil {
		return stats, NewEngineError("Stats", err)
	}
	stats.ActiveEntries = active
	stats.ExpiredEntries = expired
	return stats, nil
}

// RebuildIndex rebuilds the vector index from the store.
//
// Queries keep running against the old graph until the atomic swap, so the
// rebuild causes no read downtime. Used for corruption recovery and for
// embedding-dimension changes; also run at startup to warm the index.
func (e *Engine) RebuildIndex(ctx context.Context) error {
	nowMS := e.now().UnixMilli()

	var items []index.Item
	var ids []int64
	const batch = 512
	for offset := 0; ; offset += batch {
		recs, err := e.store.List(ctx, &store.ListOptions{
			Now:          nowMS,
			EmbeddedOnly: true,
			Limit:        batch,
			Offset:       offset,
		})
		if err != nil {
			return NewEngineError("RebuildIndex", err)
		}
		for _, rec := range recs {
			items = append(items, index.Item{
				ID:     rec.ID,
				Vector: rec.Embedding,
				Meta:   indexMeta(rec),
			})
			if !rec.Indexed {
				ids = append(ids, rec.ID)
			}
		}
		if len(recs) < batch {
			break
		}
	}

	if err := e.index.Rebuild(items); err != nil {
		return NewEngineError("RebuildIndex", err)
	}

	for _, id := range ids {
		if err := e.store.MarkIndexed(ctx, id, true); err != nil {
			e.logger.Warn("marking entry indexed failed",
				zap.Int64("id", id),
				zap.Error(err))
		}
	}
	return nil
}

// Close stops the background tasks and releases all resources. The engine
// rejects operations after Close.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	if e.cancel != nil {
		e.cancel()
	}
	e.bg.Wait()

	var errs []error
	if e.embedder != nil {
		if err := e.embedder.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := e.store.Close(); err != nil {
		errs = append(errs, err)
	}
	return NewEngineError("Close", errors.Join(errs...))
}

func (e *Engine) isClosed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.closed
}

// reinforce extends the expiry of returned entries by the reinforcement
// factor of their remaining lifetime. Content is never mutated.
func (e *Engine) reinforce(ctx context.Context, results []*search.Result) {
	factor := e.cfg.ReinforcementFactor
	if factor <= 0 {
		factor = 0.3
	}
	nowMS := e.now().UnixMilli()

	for _, res := range results {
		rec := res.Entry
		if rec.ExpireAt == nil {
			continue
		}
		remaining := *rec.ExpireAt - nowMS
		if remaining <= 0 {
			continue
		}
		extended := *rec.ExpireAt + int64(float64(remaining)*factor)
		if err := e.store.SetExpireAt(ctx, rec.ID, &extended); err != nil {
			e.logger.Warn("reinforcement failed",
				zap.Int64("id", rec.ID),
				zap.Error(err))
			continue
		}
		rec.ExpireAt = &extended
	}
}

// reconcileLoop periodically repairs entries whose index insert failed.
func (e *Engine) reconcileLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.reconcile(ctx)
		}
	}
}

// reconcile indexes embedded records the index does not hold yet. A
// dimension mismatch means the embedding model changed under the index and
// only a full rebuild can repair it.
func (e *Engine) reconcile(ctx context.Context) {
	recs, err := e.store.ListUnindexed(ctx, 256)
	if err != nil {
		e.logger.Warn("reconciliation scan failed", zap.Error(err))
		return
	}

	nowMS := e.now().UnixMilli()
	repaired := 0
	for _, rec := range recs {
		if rec.Expired(nowMS) {
			continue
		}
		if err := e.index.Insert(rec.ID, rec.Embedding, indexMeta(rec)); err != nil {
			if errors.Is(err, index.ErrDimensionMismatch) {
				e.logger.Error("index and store diverged, rebuild recommended",
					zap.Int64("id", rec.ID),
					zap.Error(ErrConsistency))
				continue
			}
			e.logger.Warn("reconciliation insert failed",
				zap.Int64("id", rec.ID),
				zap.Error(err))
			continue
		}
		if err := e.store.MarkIndexed(ctx, rec.ID, true); err != nil {
			e.logger.Warn("marking entry indexed failed",
				zap.Int64("id", rec.ID),
				zap.Error(err))
		}
		repaired++
	}

	if repaired > 0 {
		e.logger.Info("reconciliation repaired entries",
			zap.Int("count", repaired))
	}
}

// indexMeta builds the index's filterable metadata from a record.
func indexMeta(rec *store.Record) index.Meta {
	return index.Meta{
		Namespace:  rec.Namespace,
		Category:   string(rec.Category),
		MemoryType: string(rec.MemoryType),
		Importance: rec.ImportanceScore,
	}
}
