package embedder

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inception881/knowledgeGPT/embedder/mock"
)

// countingEmbedder counts backend calls so memoization is observable.
type countingEmbedder struct {
	inner Embedder
	calls int
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls++
	return c.inner.Embed(ctx, text)
}

func (c *countingEmbedder) Dimensions() int { return c.inner.Dimensions() }

func TestCachedAvoidsRepeatBackendCalls(t *testing.T) {
	counting := &countingEmbedder{inner: mock.New(32)}
	cached, err := NewCached(counting, 128)
	require.NoError(t, err)
	ctx := context.Background()

	first, err := cached.Embed(ctx, "the same text")
	require.NoError(t, err)
	require.Equal(t, 1, counting.calls)

	// Ristretto admits writes asynchronously; drain before re-reading.
	cached.cache.Wait()

	second, err := cached.Embed(ctx, "the same text")
	require.NoError(t, err)
	assert.Equal(t, 1, counting.calls)
	assert.Equal(t, first, second)
}

func TestCachedDistinctTextsHitBackend(t *testing.T) {
	counting := &countingEmbedder{inner: mock.New(32)}
	cached, err := NewCached(counting, 128)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = cached.Embed(ctx, "first text")
	require.NoError(t, err)
	_, err = cached.Embed(ctx, "second text")
	require.NoError(t, err)
	assert.Equal(t, 2, counting.calls)
}

func TestCachedReportsInnerDimensions(t *testing.T) {
	cached, err := NewCached(mock.New(48), 16)
	require.NoError(t, err)
	assert.Equal(t, 48, cached.Dimensions())
}
