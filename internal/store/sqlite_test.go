package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ragerr "github.com/reynard-dev/ragindex/internal/errors"
)

func newTestMetadataStore(t *testing.T) *SQLiteMetadataStore {
	t.Helper()
	s, err := NewSQLiteMetadataStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testFile(fileID string) *File {
	return &File{
		FileID:      fileID,
		Path:        "/src/" + fileID,
		Language:    "go",
		ContentHash: "hash-" + fileID,
		ChunkCount:  2,
		IndexedAt:   time.Now().UTC(),
	}
}

func TestSQLiteMetadataStore_FileRoundtrip(t *testing.T) {
	s := newTestMetadataStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveFile(ctx, testFile("f1")))

	got, err := s.GetFile(ctx, "f1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "f1", got.FileID)
	assert.Equal(t, "/src/f1", got.Path)
	assert.Equal(t, "go", got.Language)
	assert.Equal(t, "hash-f1", got.ContentHash)
	assert.Equal(t, 2, got.ChunkCount)
}

func TestSQLiteMetadataStore_GetFileUnknown(t *testing.T) {
	s := newTestMetadataStore(t)

	got, err := s.GetFile(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLiteMetadataStore_SaveFileUpserts(t *testing.T) {
	s := newTestMetadataStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveFile(ctx, testFile("f1")))

	updated := testFile("f1")
	updated.ContentHash = "hash-v2"
	updated.ChunkCount = 5
	require.NoError(t, s.SaveFile(ctx, updated))

	got, err := s.GetFile(ctx, "f1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "hash-v2", got.ContentHash)
	assert.Equal(t, 5, got.ChunkCount)

	files, _, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, files)
}

func TestSQLiteMetadataStore_ChunkRoundtrip(t *testing.T) {
	s := newTestMetadataStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveFile(ctx, testFile("f1")))
	require.NoError(t, s.SaveChunks(ctx, []*Chunk{
		{ID: "c1", FileID: "f1", ChunkIndex: 1, Content: "second", TokenCount: 1},
		{ID: "c0", FileID: "f1", ChunkIndex: 0, Content: "first", TokenCount: 1,
			Symbol: "Foo", Metadata: map[string]string{"kind": "func"}},
	}))

	chunks, err := s.ChunksForFile(ctx, "f1")
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	// Ordered by chunk index regardless of insertion order
	assert.Equal(t, "c0", chunks[0].ID)
	assert.Equal(t, "c1", chunks[1].ID)
	assert.Equal(t, "first", chunks[0].Content)
	assert.Equal(t, "Foo", chunks[0].Symbol)
	assert.Equal(t, map[string]string{"kind": "func"}, chunks[0].Metadata)
	assert.False(t, chunks[0].InsertedAt.IsZero())
}

func TestSQLiteMetadataStore_ChunksRequireFileRow(t *testing.T) {
	s := newTestMetadataStore(t)
	ctx := context.Background()

	// The foreign key on chunks.file_id rejects rows for an unknown file
	err := s.SaveChunks(ctx, []*Chunk{
		{ID: "c0", FileID: "missing", ChunkIndex: 0, Content: "orphan"},
	})
	require.Error(t, err)
	assert.Equal(t, ragerr.ErrCodeStoreUnavailable, ragerr.CodeOf(err))

	_, chunks, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, chunks)
}

func TestSQLiteMetadataStore_SaveFileWithChunks(t *testing.T) {
	s := newTestMetadataStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveFileWithChunks(ctx, testFile("f1"), []*Chunk{
		{ID: "c0", FileID: "f1", ChunkIndex: 0, Content: "first"},
		{ID: "c1", FileID: "f1", ChunkIndex: 1, Content: "second"},
	}))

	got, err := s.GetFile(ctx, "f1")
	require.NoError(t, err)
	require.NotNil(t, got)

	chunks, err := s.ChunksForFile(ctx, "f1")
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "c0", chunks[0].ID)
	assert.Equal(t, "c1", chunks[1].ID)
}

func TestSQLiteMetadataStore_SaveFileWithChunksEmpty(t *testing.T) {
	s := newTestMetadataStore(t)
	ctx := context.Background()

	file := testFile("f1")
	file.ChunkCount = 0
	require.NoError(t, s.SaveFileWithChunks(ctx, file, nil))

	got, err := s.GetFile(ctx, "f1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 0, got.ChunkCount)
}

func TestSQLiteMetadataStore_GetChunksPreservesOrder(t *testing.T) {
	s := newTestMetadataStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveFile(ctx, testFile("f1")))
	require.NoError(t, s.SaveChunks(ctx, []*Chunk{
		{ID: "c0", FileID: "f1", ChunkIndex: 0, Content: "zero"},
		{ID: "c1", FileID: "f1", ChunkIndex: 1, Content: "one"},
		{ID: "c2", FileID: "f1", ChunkIndex: 2, Content: "two"},
	}))

	chunks, err := s.GetChunks(ctx, []string{"c2", "missing", "c0"})
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "c2", chunks[0].ID)
	assert.Equal(t, "c0", chunks[1].ID)
}

func TestSQLiteMetadataStore_GetChunksEmpty(t *testing.T) {
	s := newTestMetadataStore(t)

	chunks, err := s.GetChunks(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestSQLiteMetadataStore_DeleteFile(t *testing.T) {
	s := newTestMetadataStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveFile(ctx, testFile("f1")))
	require.NoError(t, s.SaveFile(ctx, testFile("f2")))
	require.NoError(t, s.SaveChunks(ctx, []*Chunk{
		{ID: "c0", FileID: "f1", ChunkIndex: 0, Content: "a"},
		{ID: "c1", FileID: "f1", ChunkIndex: 1, Content: "b"},
		{ID: "d0", FileID: "f2", ChunkIndex: 0, Content: "c"},
	}))

	removed, err := s.DeleteFile(ctx, "f1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"c0", "c1"}, removed)

	got, err := s.GetFile(ctx, "f1")
	require.NoError(t, err)
	assert.Nil(t, got)

	files, chunks, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, files)
	assert.Equal(t, 1, chunks)
}

func TestSQLiteMetadataStore_DeleteFileUnknown(t *testing.T) {
	s := newTestMetadataStore(t)

	removed, err := s.DeleteFile(context.Background(), "missing")
	require.NoError(t, err)
	assert.Empty(t, removed)
}

func TestSQLiteMetadataStore_PersistsOnDisk(t *testing.T) {
	path := t.TempDir() + "/metadata.db"
	ctx := context.Background()

	s, err := NewSQLiteMetadataStore(path)
	require.NoError(t, err)
	require.NoError(t, s.SaveFile(ctx, testFile("f1")))
	require.NoError(t, s.Close())

	reopened, err := NewSQLiteMetadataStore(path)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	got, err := reopened.GetFile(ctx, "f1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "hash-f1", got.ContentHash)
}
