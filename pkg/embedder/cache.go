package embedder

import (
	"context"

	"github.com/dgraph-io/ristretto"
)

// CachedProvider decorates a Provider with an in-process embedding cache.
//
// Orchestrator workflows often re-embed identical query texts (the same
// question asked across steps, repeated context windows). The cache memoizes
// those calls so only novel text reaches the underlying provider.
type CachedProvider struct {
	inner Provider
	cache *ristretto.Cache
}

// CacheConfig controls the embedding cache.
type CacheConfig struct {
	// MaxEntries is the approximate number of cached embeddings.
	// Defaults to 10000.
	MaxEntries int64
}

// NewCachedProvider wraps inner with an embedding cache.
func NewCachedProvider(inner Provider, cfg *CacheConfig) (*CachedProvider, error) {
	maxEntries := int64(10000)
	if cfg != nil && cfg.MaxEntries > 0 {
		maxEntries = cfg.MaxEntries
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}

	return &CachedProvider{
		inner: inner,
		cache: cache,
	}, nil
}

// Embed returns the cached embedding for text, or delegates to the underlying
// provider and caches the result. Cached vectors are shared; callers must not
// mutate them.
func (p *CachedProvider) Embed(ctx context.Context, text string) ([]float64, error) {
	if v, ok := p.cache.Get(text); ok {
		if vec, ok := v.([]float64); ok {
			return vec, nil
		}
	}

	vec, err := p.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	p.cache.Set(text, vec, 1)
	return vec, nil
}

// EmbedBatch embeds texts, serving cached entries and batching only the
// misses through the underlying provider.
func (p *CachedProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	results := make([][]float64, len(texts))
	var missIdx []int
	var missTexts []string

	for i, text := range texts {
		if v, ok := p.cache.Get(text); ok {
			if vec, ok := v.([]float64); ok {
				results[i] = vec
				continue
			}
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}

	if len(missTexts) > 0 {
		embeddings, err := p.inner.EmbedBatch(ctx, missTexts)
		if err != nil {
			return nil, err
		}
		for j, vec := range embeddings {
			results[missIdx[j]] = vec
			p.cache.Set(missTexts[j], vec, 1)
		}
	}

	return results, nil
}

// Dimensions returns the underlying provider's vector dimensions.
func (p *CachedProvider) Dimensions() int {
	return p.inner.Dimensions()
}

// Close releases the cache and closes the underlying provider.
func (p *CachedProvider) Close() error {
	p.cache.Close()
	return p.inner.Close()
}
