// Package mock provides a deterministic embedder for tests and offline
// development. Embeddings are derived from a hash of the input text, so
// the same text always maps to the same vector without any model or
// network dependency.
package mock

import (
	"context"
	"hash/fnv"
	"math"

	"github.com/becomeliminal/recall/memory"
)

// MockEmbedder generates deterministic embeddings based on text hash.
type MockEmbedder struct {
	dimensions int
}

// New creates a mock embedder with the default vector size.
func New() *MockEmbedder {
	return NewWithDimensions(memory.Dimensions)
}

// NewWithDimensions creates a mock embedder producing vectors of the
// given size.
func NewWithDimensions(dimensions int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = memory.Dimensions
	}
	return &MockEmbedder{dimensions: dimensions}
}

// Embed creates a deterministic embedding from text.
func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	h := fnv.New64a()
	h.Write([]byte(text))

	embedding := make([]float32, m.dimensions)

	// LCG seeded from the text hash, mapped to [-1, 1].
	seed := h.Sum64()
	for i := 0; i < m.dimensions; i++ {
		seed = seed*6364136223846793005 + 1442695040888963407
		embedding[i] = float32(int64(seed)) / float32(math.MaxInt64)
	}

	return normalize(embedding), nil
}

// Dimensions returns the embedding size.
func (m *MockEmbedder) Dimensions() int {
	return m.dimensions
}

// normalize converts embedding to unit vector.
func normalize(vec []float32) []float32 {
	var norm float32
	for _, v := range vec {
		norm += v * v
	}

	if norm == 0 {
		return vec
	}

	norm = float32(math.Sqrt(float64(norm)))
	normalized := make([]float32, len(vec))
	for i, v := range vec {
		normalized[i] = v / norm
	}

	return normalized
}
