package index

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reynard-dev/ragindex/internal/chunk"
	"github.com/reynard-dev/ragindex/internal/embed"
	ragerr "github.com/reynard-dev/ragindex/internal/errors"
	"github.com/reynard-dev/ragindex/internal/store"
)

// countingEmbedder counts texts and calls sent to the backend.
type countingEmbedder struct {
	*embed.StaticEmbedder

	mu    sync.Mutex
	texts int
	calls int
}

func newCountingEmbedder() *countingEmbedder {
	return &countingEmbedder{StaticEmbedder: embed.NewStaticEmbedder()}
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.mu.Lock()
	c.texts += len(texts)
	c.calls++
	c.mu.Unlock()
	return c.StaticEmbedder.EmbedBatch(ctx, texts)
}

func (c *countingEmbedder) embeddedTexts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.texts
}

func (c *countingEmbedder) batchCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// blockingEmbedder blocks EmbedBatch until released.
type blockingEmbedder struct {
	*embed.StaticEmbedder
	release chan struct{}
}

func newBlockingEmbedder() *blockingEmbedder {
	return &blockingEmbedder{
		StaticEmbedder: embed.NewStaticEmbedder(),
		release:        make(chan struct{}),
	}
}

func (b *blockingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	select {
	case <-b.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return b.StaticEmbedder.EmbedBatch(ctx, texts)
}

// failingChunker fails for one file ID and delegates the rest.
type failingChunker struct {
	inner  chunk.Chunker
	failID string
}

func (f *failingChunker) Chunk(ctx context.Context, doc *chunk.Document) ([]*chunk.Chunk, map[string]int, error) {
	if doc.FileID == f.failID {
		return nil, nil, ragerr.ValidationError("unparseable document", nil)
	}
	return f.inner.Chunk(ctx, doc)
}

// closedVectorStore rejects writes as if the store were shut down.
type closedVectorStore struct {
	*store.HNSWStore
}

func (c *closedVectorStore) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	return ragerr.New(ragerr.ErrCodeStoreClosed, "vector store is closed", nil)
}

type testStores struct {
	vector   *store.HNSWStore
	bm25     *store.BleveBM25Index
	metadata *store.SQLiteMetadataStore
}

func newTestStores(t *testing.T) *testStores {
	t.Helper()
	vector, err := store.NewHNSWStore(store.VectorStoreConfig{Dimensions: embed.StaticDimensions})
	require.NoError(t, err)
	bm25, err := store.NewBleveBM25Index("")
	require.NoError(t, err)
	metadata, err := store.NewSQLiteMetadataStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = vector.Close()
		_ = bm25.Close()
		_ = metadata.Close()
	})
	return &testStores{vector: vector, bm25: bm25, metadata: metadata}
}

func newTestIndexer(t *testing.T, s *testStores, embedder embed.Embedder, cfg Config, opts ...Option) *Indexer {
	t.Helper()
	chunker := chunk.NewWindowChunker(chunk.Options{MaxTokens: 64, MinTokens: 1})
	ix, err := NewIndexer(chunker, embedder, s.vector, s.bm25, s.metadata, cfg, opts...)
	require.NoError(t, err)
	return ix
}

func testDocs(n int) []*chunk.Document {
	docs := make([]*chunk.Document, n)
	for i := range docs {
		docs[i] = &chunk.Document{
			FileID:  fmt.Sprintf("file-%d", i),
			Path:    fmt.Sprintf("/src/file-%d.go", i),
			Content: fmt.Sprintf("document %d content %s", i, strings.Repeat("payload ", 10)),
		}
	}
	return docs
}

func TestIndexer_IndexesDocuments(t *testing.T) {
	stores := newTestStores(t)
	embedder := newCountingEmbedder()
	ix := newTestIndexer(t, stores, embedder, Config{BatchSize: 2})

	result, err := ix.IndexDocuments(context.Background(), testDocs(3), nil, false)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, 3, result.ProcessedFiles)
	assert.Equal(t, 0, result.SkippedFiles)
	assert.Empty(t, result.Errors)

	files, chunks, err := stores.metadata.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, files)
	assert.Greater(t, chunks, 0)
	assert.Equal(t, chunks, stores.vector.Count())

	count, err := stores.bm25.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(chunks), count)
}

func TestIndexer_PersistsFileAndChunkRows(t *testing.T) {
	stores := newTestStores(t)
	ix := newTestIndexer(t, stores, newCountingEmbedder(), Config{})
	ctx := context.Background()

	_, err := ix.IndexDocuments(ctx, testDocs(1), nil, false)
	require.NoError(t, err)

	file, err := stores.metadata.GetFile(ctx, "file-0")
	require.NoError(t, err)
	require.NotNil(t, file)
	require.Greater(t, file.ChunkCount, 0)

	chunks, err := stores.metadata.ChunksForFile(ctx, "file-0")
	require.NoError(t, err)
	require.Len(t, chunks, file.ChunkCount)
	for _, c := range chunks {
		assert.Equal(t, "file-0", c.FileID)
		assert.NotEmpty(t, c.Content)
	}
}

func TestIndexer_EmbedsBatchInOneCall(t *testing.T) {
	stores := newTestStores(t)
	embedder := newCountingEmbedder()
	ix := newTestIndexer(t, stores, embedder, Config{BatchSize: 3})

	result, err := ix.IndexDocuments(context.Background(), testDocs(3), nil, false)
	require.NoError(t, err)
	require.Equal(t, 3, result.ProcessedFiles)

	// The whole batch shares one backend call
	assert.Equal(t, 1, embedder.batchCalls())
	assert.Greater(t, embedder.embeddedTexts(), 0)
}

func TestIndexer_SkipsUnchangedContent(t *testing.T) {
	stores := newTestStores(t)
	embedder := newCountingEmbedder()
	ix := newTestIndexer(t, stores, embedder, Config{})
	ctx := context.Background()
	docs := testDocs(3)

	_, err := ix.IndexDocuments(ctx, docs, nil, false)
	require.NoError(t, err)
	embeddedAfterFirst := embedder.embeddedTexts()
	require.Greater(t, embeddedAfterFirst, 0)

	// Unchanged content with force off: no embedding calls at all
	result, err := ix.IndexDocuments(ctx, docs, nil, false)
	require.NoError(t, err)
	assert.Equal(t, 3, result.SkippedFiles)
	assert.Equal(t, 0, result.ProcessedFiles)
	assert.Equal(t, embeddedAfterFirst, embedder.embeddedTexts())

	// force=true re-embeds everything
	result, err = ix.IndexDocuments(ctx, docs, nil, true)
	require.NoError(t, err)
	assert.Equal(t, 3, result.ProcessedFiles)
	assert.Equal(t, 2*embeddedAfterFirst, embedder.embeddedTexts())
}

func TestIndexer_ReindexesChangedContent(t *testing.T) {
	stores := newTestStores(t)
	ix := newTestIndexer(t, stores, newCountingEmbedder(), Config{})
	ctx := context.Background()

	doc := &chunk.Document{FileID: "f1", Content: strings.Repeat("original content ", 40)}
	_, err := ix.IndexDocuments(ctx, []*chunk.Document{doc}, nil, false)
	require.NoError(t, err)
	_, before, err := stores.metadata.Stats(ctx)
	require.NoError(t, err)

	// Shrink the document: stale chunks must not survive
	doc.Content = "tiny"
	result, err := ix.IndexDocuments(ctx, []*chunk.Document{doc}, nil, false)
	require.NoError(t, err)
	assert.Equal(t, 1, result.ProcessedFiles)

	_, after, err := stores.metadata.Stats(ctx)
	require.NoError(t, err)
	assert.Less(t, after, before)
	assert.Equal(t, 1, after)
	assert.Equal(t, after, stores.vector.Count())
}

func TestIndexer_IsolatesDocumentFailures(t *testing.T) {
	stores := newTestStores(t)
	chunker := &failingChunker{
		inner:  chunk.NewWindowChunker(chunk.Options{MaxTokens: 64, MinTokens: 1}),
		failID: "file-2",
	}
	ix, err := NewIndexer(chunker, newCountingEmbedder(), stores.vector, stores.bm25, stores.metadata, Config{})
	require.NoError(t, err)

	result, err := ix.IndexDocuments(context.Background(), testDocs(5), nil, false)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, 4, result.ProcessedFiles)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "file-2", result.Errors[0].FileID)
}

func TestIndexer_BatchFatalAbortsRun(t *testing.T) {
	stores := newTestStores(t)
	ix, err := NewIndexer(
		chunk.NewWindowChunker(chunk.Options{MaxTokens: 64, MinTokens: 1}),
		newCountingEmbedder(),
		&closedVectorStore{HNSWStore: stores.vector},
		stores.bm25, stores.metadata,
		Config{BatchSize: 2})
	require.NoError(t, err)

	result, runErr := ix.IndexDocuments(context.Background(), testDocs(6), nil, false)
	require.Error(t, runErr)
	assert.Equal(t, ragerr.ErrCodeStoreClosed, ragerr.CodeOf(runErr))

	assert.Equal(t, StatusFailed, result.Status)
	assert.Equal(t, 0, result.ProcessedFiles)
	// Only the first batch was attempted
	assert.LessOrEqual(t, len(result.Errors), 2)
}

func TestIndexer_MemoryCleanupUnderPressure(t *testing.T) {
	stores := newTestStores(t)
	ix := newTestIndexer(t, stores, newCountingEmbedder(),
		Config{BatchSize: 1, MaxMemoryMB: 50, MemoryCleanupThreshold: 0.8, GCFrequency: 3},
		WithMemoryReader(func() float64 { return 45 }))

	result, err := ix.IndexDocuments(context.Background(), testDocs(6), nil, false)
	require.NoError(t, err)

	// 45MB sits above the 40MB cleanup threshold but below the 50MB hard
	// limit: the run completes with cleanups recorded
	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, 6, result.ProcessedFiles)

	snap := ix.Progress().Snapshot()
	assert.Equal(t, 6, snap.MemoryCleanupCount)
	assert.Equal(t, 2, snap.ForcedGCCount)
	assert.InDelta(t, 45.0, snap.CurrentMemoryMB, 1e-9)
	assert.InDelta(t, 45.0, snap.PeakMemoryMB, 1e-9)
}

func TestIndexer_MemoryExhaustionFailsRun(t *testing.T) {
	stores := newTestStores(t)
	ix := newTestIndexer(t, stores, newCountingEmbedder(),
		Config{BatchSize: 1, MaxMemoryMB: 50, MemoryCleanupThreshold: 0.8},
		WithMemoryReader(func() float64 { return 100 }))

	result, runErr := ix.IndexDocuments(context.Background(), testDocs(5), nil, false)
	require.Error(t, runErr)
	assert.Equal(t, ragerr.ErrCodeMemoryExhausted, ragerr.CodeOf(runErr))

	// Aborts on the third consecutive over-limit batch
	assert.Equal(t, StatusFailed, result.Status)
	assert.Equal(t, 3, result.ProcessedFiles)
}

func TestIndexer_RejectsConcurrentRuns(t *testing.T) {
	stores := newTestStores(t)
	embedder := newBlockingEmbedder()
	ix := newTestIndexer(t, stores, embedder, Config{})
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := ix.IndexDocuments(ctx, testDocs(1), nil, false)
		done <- err
	}()

	require.Eventually(t, ix.Running, time.Second, time.Millisecond)

	_, err := ix.IndexDocuments(ctx, testDocs(1), nil, false)
	assert.ErrorIs(t, err, ErrIndexingInProgress)

	close(embedder.release)
	require.NoError(t, <-done)
	assert.False(t, ix.Running())
}

func TestIndexer_ProgressCallback(t *testing.T) {
	stores := newTestStores(t)
	ix := newTestIndexer(t, stores, newCountingEmbedder(), Config{BatchSize: 2})

	var snapshots []ProgressSnapshot
	_, err := ix.IndexDocuments(context.Background(), testDocs(5),
		func(s ProgressSnapshot) { snapshots = append(snapshots, s) }, false)
	require.NoError(t, err)

	// One callback per batch: ceil(5/2) = 3
	require.Len(t, snapshots, 3)
	assert.Equal(t, 2, snapshots[0].ProcessedFiles)
	assert.Equal(t, 5, snapshots[2].ProcessedFiles)
	assert.Equal(t, 5, snapshots[2].TotalFiles)
}

func TestIndexer_RejectsDocumentWithoutFileID(t *testing.T) {
	stores := newTestStores(t)
	ix := newTestIndexer(t, stores, newCountingEmbedder(), Config{})

	result, err := ix.IndexDocuments(context.Background(),
		[]*chunk.Document{{Content: "no id"}}, nil, false)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, 0, result.ProcessedFiles)
	assert.Len(t, result.Errors, 1)
}

func TestIndexer_RemoveDocument(t *testing.T) {
	stores := newTestStores(t)
	ix := newTestIndexer(t, stores, newCountingEmbedder(), Config{})
	ctx := context.Background()

	_, err := ix.IndexDocuments(ctx, testDocs(2), nil, false)
	require.NoError(t, err)

	require.NoError(t, ix.RemoveDocument(ctx, "file-0"))

	file, err := stores.metadata.GetFile(ctx, "file-0")
	require.NoError(t, err)
	assert.Nil(t, file)

	files, chunks, err := stores.metadata.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, files)
	assert.Equal(t, chunks, stores.vector.Count())

	// Unknown IDs are a no-op, empty IDs are rejected
	assert.NoError(t, ix.RemoveDocument(ctx, "never-indexed"))
	assert.Error(t, ix.RemoveDocument(ctx, ""))
}

func TestIndexer_EmptyDocumentList(t *testing.T) {
	stores := newTestStores(t)
	ix := newTestIndexer(t, stores, newCountingEmbedder(), Config{})

	result, err := ix.IndexDocuments(context.Background(), nil, nil, false)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, 0, result.ProcessedFiles)
}
