// Package embedder provides wrappers around memory.Embedder
// implementations. Concrete backends live in the subpackages mock,
// openai, and onnx.
package embedder

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"

	"github.com/becomeliminal/recall/memory"
)

// CacheConfig configures the embedding cache.
type CacheConfig struct {
	// MaxEntries is the approximate number of embeddings retained.
	// Default: 10000.
	MaxEntries int64
}

// Cached wraps an embedder with an in-process cache keyed by the input
// text. Identical texts skip the underlying embedder entirely, which
// matters when the backend is a paid API and the same journal labels
// and queries recur across calls.
type Cached struct {
	inner memory.Embedder
	cache *ristretto.Cache
}

// NewCached wraps inner with a cache.
func NewCached(inner memory.Embedder, cfg CacheConfig) (*Cached, error) {
	maxEntries := cfg.MaxEntries
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding cache: %w", err)
	}
	return &Cached{inner: inner, cache: cache}, nil
}

// Embed returns the cached vector for text, or computes and caches it.
func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.cache.Get(text); ok {
		if emb, ok := v.([]float32); ok {
			return emb, nil
		}
	}

	emb, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	c.cache.Set(text, emb, 1)
	return emb, nil
}

// Dimensions returns the embedding size of the wrapped embedder.
func (c *Cached) Dimensions() int {
	return c.inner.Dimensions()
}

// Close releases the cache.
func (c *Cached) Close() {
	c.cache.Close()
}
