package embed

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingEmbedder wraps StaticEmbedder and counts backend calls.
type countingEmbedder struct {
	*StaticEmbedder

	mu         sync.Mutex
	embedCalls int
	batchCalls int
	batchTexts int
}

func newCountingEmbedder() *countingEmbedder {
	return &countingEmbedder{StaticEmbedder: NewStaticEmbedder()}
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.mu.Lock()
	c.embedCalls++
	c.mu.Unlock()
	return c.StaticEmbedder.Embed(ctx, text)
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.mu.Lock()
	c.batchCalls++
	c.batchTexts += len(texts)
	c.mu.Unlock()
	return c.StaticEmbedder.EmbedBatch(ctx, texts)
}

func (c *countingEmbedder) calls() (int, int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.embedCalls, c.batchCalls, c.batchTexts
}

func TestCachedEmbedder_SecondCallHitsCache(t *testing.T) {
	inner := newCountingEmbedder()
	cached := NewCachedEmbedder(inner, 10)
	defer func() { _ = cached.Close() }()
	ctx := context.Background()

	first, err := cached.Embed(ctx, "hello world")
	require.NoError(t, err)
	second, err := cached.Embed(ctx, "hello world")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	embeds, _, _ := inner.calls()
	assert.Equal(t, 1, embeds)

	stats := cached.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, 1, stats.Entries)
	assert.InDelta(t, 0.5, stats.HitRate, 1e-9)
}

func TestCachedEmbedder_TrimsWhitespaceForKey(t *testing.T) {
	inner := newCountingEmbedder()
	cached := NewCachedEmbedder(inner, 10)
	defer func() { _ = cached.Close() }()
	ctx := context.Background()

	_, err := cached.Embed(ctx, "query")
	require.NoError(t, err)
	_, err = cached.Embed(ctx, "  query  ")
	require.NoError(t, err)

	embeds, _, _ := inner.calls()
	assert.Equal(t, 1, embeds)
}

func TestCachedEmbedder_BatchEmbedsOnlyMisses(t *testing.T) {
	inner := newCountingEmbedder()
	cached := NewCachedEmbedder(inner, 10)
	defer func() { _ = cached.Close() }()
	ctx := context.Background()

	warm, err := cached.Embed(ctx, "warm")
	require.NoError(t, err)

	texts := []string{"cold1", "warm", "cold2"}
	batch, err := cached.EmbedBatch(ctx, texts)
	require.NoError(t, err)
	require.Len(t, batch, 3)

	// Only the two cold texts reach the backend
	_, batchCalls, batchTexts := inner.calls()
	assert.Equal(t, 1, batchCalls)
	assert.Equal(t, 2, batchTexts)

	// Positional alignment: the warm entry sits in the middle
	assert.Equal(t, warm, batch[1])

	single, err := cached.Embed(ctx, "cold1")
	require.NoError(t, err)
	assert.Equal(t, single, batch[0])
}

func TestCachedEmbedder_FullyCachedBatchSkipsBackend(t *testing.T) {
	inner := newCountingEmbedder()
	cached := NewCachedEmbedder(inner, 10)
	defer func() { _ = cached.Close() }()
	ctx := context.Background()

	texts := []string{"a1", "b2"}
	_, err := cached.EmbedBatch(ctx, texts)
	require.NoError(t, err)
	_, err = cached.EmbedBatch(ctx, texts)
	require.NoError(t, err)

	_, batchCalls, _ := inner.calls()
	assert.Equal(t, 1, batchCalls)
}

func TestCachedEmbedder_EmptyBatch(t *testing.T) {
	cached := NewCachedEmbedder(newCountingEmbedder(), 10)
	defer func() { _ = cached.Close() }()

	batch, err := cached.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, batch)
}

func TestCachedEmbedder_Passthrough(t *testing.T) {
	inner := newCountingEmbedder()
	cached := NewCachedEmbedder(inner, 10)
	defer func() { _ = cached.Close() }()

	assert.Equal(t, inner.Dimensions(), cached.Dimensions())
	assert.Equal(t, inner.ModelName(), cached.ModelName())
}
