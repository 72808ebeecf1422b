// Package mock provides deterministic embedding providers for tests and
// offline development.
package mock

import (
	"context"
	"hash/fnv"
	"math"
	"sync"

	"github.com/memvault/memvault-go/pkg/embedder"
)

// Embedder generates deterministic embeddings from a text hash.
//
// Identical texts always produce identical vectors, which is enough for
// exact-match retrieval tests. It carries no semantic signal; use Fixture
// when a test needs controlled similarity between different texts.
type Embedder struct {
	dimensions int
}

// New creates a hash-based mock embedder with the given dimensions.
// Zero or negative dimensions default to 384.
func New(dimensions int) *Embedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &Embedder{dimensions: dimensions}
}

// Embed creates a deterministic unit vector from the text hash.
func (m *Embedder) Embed(ctx context.Context, text string) ([]float64, error) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float64, m.dimensions)
	for i := 0; i < m.dimensions; i++ {
		// Linear congruential generator seeded by the text hash
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float64(int64(seed)) / float64(math.MaxInt64)
	}

	return embedder.Normalize(vec), nil
}

// EmbedBatch embeds each text independently.
func (m *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, text := range texts {
		vec, err := m.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// Dimensions returns the embedding size.
func (m *Embedder) Dimensions() int {
	return m.dimensions
}

// Close is a no-op.
func (m *Embedder) Close() error {
	return nil
}

// Fixture is an embedder with caller-assigned vectors per exact text.
//
// Tests use it to construct controlled similarity relationships ("feline
// pets" close to "cats are great", far from "stock market rose today").
// Texts without an assigned vector fall back to the hash embedder.
type Fixture struct {
	mu       sync.RWMutex
	vectors  map[string][]float64
	fallback *Embedder

	// FailWith, when non-nil, makes every call return this error.
	// Used to exercise embedding-failure write paths.
	FailWith error
}

// NewFixture creates a fixture embedder with the given dimensions.
func NewFixture(dimensions int) *Fixture {
	return &Fixture{
		vectors:  make(map[string][]float64),
		fallback: New(dimensions),
	}
}

// Assign sets the vector returned for an exact text. The vector is
// unit-normalized and padded or truncated to the fixture dimensions.
func (f *Fixture) Assign(text string, vec []float64) {
	dims := f.fallback.Dimensions()
	padded := make([]float64, dims)
	copy(padded, vec)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.vectors[text] = embedder.Normalize(padded)
}

// Embed returns the assigned vector for text, or the hash fallback.
func (f *Fixture) Embed(ctx context.Context, text string) ([]float64, error) {
	f.mu.RLock()
	failErr := f.FailWith
	vec, ok := f.vectors[text]
	f.mu.RUnlock()

	if failErr != nil {
		return nil, failErr
	}
	if ok {
		return vec, nil
	}
	return f.fallback.Embed(ctx, text)
}

// EmbedBatch embeds each text independently.
func (f *Fixture) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, text := range texts {
		vec, err := f.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// Dimensions returns the embedding size.
func (f *Fixture) Dimensions() int {
	return f.fallback.Dimensions()
}

// Close is a no-op.
func (f *Fixture) Close() error {
	return nil
}
