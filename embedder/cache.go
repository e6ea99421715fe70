package embedder

import (
	"context"

	"github.com/dgraph-io/ristretto"
)

// Cached wraps an Embedder with a ristretto memoization cache keyed by the
// input text. Long-term memory persistence hashes identical content to the
// same id, so repeated turns re-embed the same strings; a lossy cache is
// fine here because a miss only costs one backend call.
type Cached struct {
	inner Embedder
	cache *ristretto.Cache
}

// NewCached creates a caching embedder holding up to maxEntries vectors.
func NewCached(inner Embedder, maxEntries int64) (*Cached, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Cached{inner: inner, cache: cache}, nil
}

// Embed returns the cached vector for text, or delegates and caches.
func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.cache.Get(text); ok {
		if vec, ok := v.([]float32); ok {
			return vec, nil
		}
	}
	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(text, vec, 1)
	return vec, nil
}

// Dimensions returns the wrapped embedder's vector size.
func (c *Cached) Dimensions() int {
	return c.inner.Dimensions()
}
