package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBM25(t *testing.T) *BleveBM25Index {
	t.Helper()
	idx, err := NewBleveBM25Index("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func indexChunks(t *testing.T, idx *BleveBM25Index, chunks ...*Chunk) {
	t.Helper()
	require.NoError(t, idx.Index(context.Background(), chunks))
}

func TestBleveBM25Index_BasicSearch(t *testing.T) {
	idx := newTestBM25(t)
	indexChunks(t, idx,
		&Chunk{ID: "c1", Content: "func parseConfig(path string) error"},
		&Chunk{ID: "c2", Content: "func renderTemplate(w io.Writer) error"},
	)

	results, err := idx.Search(context.Background(), "parse config", 10)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "c1", results[0].DocID)
	assert.Greater(t, results[0].Score, 0.0)
}

func TestBleveBM25Index_IdentifierSplitting(t *testing.T) {
	idx := newTestBM25(t)
	indexChunks(t, idx,
		&Chunk{ID: "camel", Content: "func getUserName() string { return name }"},
		&Chunk{ID: "other", Content: "func closeConnection() error { return nil }"},
	)

	// Plain words match the camelCase identifier
	results, err := idx.Search(context.Background(), "user name", 10)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "camel", results[0].DocID)

	// The camelCase identifier matches too
	results, err = idx.Search(context.Background(), "getUserName", 10)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "camel", results[0].DocID)
}

func TestBleveBM25Index_MatchedTerms(t *testing.T) {
	idx := newTestBM25(t)
	indexChunks(t, idx,
		&Chunk{ID: "c1", Content: "retry backoff policy"},
	)

	results, err := idx.Search(context.Background(), "backoff", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Contains(t, results[0].MatchedTerms, "backoff")
}

func TestBleveBM25Index_EmptyQuery(t *testing.T) {
	idx := newTestBM25(t)
	indexChunks(t, idx, &Chunk{ID: "c1", Content: "something"})

	results, err := idx.Search(context.Background(), "   ", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestBleveBM25Index_ReplaceAndDelete(t *testing.T) {
	idx := newTestBM25(t)
	ctx := context.Background()

	indexChunks(t, idx, &Chunk{ID: "c1", Content: "original payload"})
	indexChunks(t, idx, &Chunk{ID: "c1", Content: "replacement payload"})

	count, err := idx.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)

	results, err := idx.Search(ctx, "original", 10)
	require.NoError(t, err)
	assert.Empty(t, results)

	require.NoError(t, idx.Delete(ctx, []string{"c1"}))
	count, err = idx.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), count)
}

func TestBleveBM25Index_LimitRespected(t *testing.T) {
	idx := newTestBM25(t)
	for i := 0; i < 5; i++ {
		indexChunks(t, idx, &Chunk{
			ID:      string(rune('a' + i)),
			Content: "shared keyword payload",
		})
	}

	results, err := idx.Search(context.Background(), "payload", 2)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestBleveBM25Index_ClosedIndex(t *testing.T) {
	idx := newTestBM25(t)
	require.NoError(t, idx.Close())

	err := idx.Index(context.Background(), []*Chunk{{ID: "c1", Content: "x"}})
	assert.Error(t, err)

	_, err = idx.Search(context.Background(), "x", 1)
	assert.Error(t, err)
}
