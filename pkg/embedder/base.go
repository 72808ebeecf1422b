// Package embedder provides interfaces for text embedding providers.
//
// It defines the Provider interface that all embedding implementations must
// satisfy, enabling text-to-vector conversion for similarity search, plus a
// caching decorator that memoizes embeddings for repeated inputs.
package embedder

import (
	"context"
	"math"
)

// Provider defines the interface for embedding providers.
//
// All embedding implementations (OpenAI, mock, cached) must implement this
// interface. Embedding generation can be the slowest step of a memory write,
// so every method takes a context and must honor cancellation.
type Provider interface {
	// Embed converts a text string into a vector embedding.
	Embed(ctx context.Context, text string) ([]float64, error)

	// EmbedBatch converts multiple text strings into vector embeddings.
	//
	// This method is more efficient than calling Embed multiple times,
	// as it can batch process requests. The result order matches the input.
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)

	// Dimensions returns the dimension of embedding vectors produced by
	// this provider.
	Dimensions() int

	// Close closes the provider and releases resources.
	Close() error
}

// Normalize scales vec to unit length in place and returns it.
// A zero vector is returned unchanged.
func Normalize(vec []float64) []float64 {
	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}
