// Package store provides the persistence layer for indexed data: an HNSW
// vector index for similarity search, a Bleve BM25 index for keyword search,
// and a SQLite metadata store tracking files and chunk records.
package store

import (
	"context"
	"time"
)

// Chunk is the persisted unit of indexed content.
type Chunk struct {
	ID         string            // Chunk identifier
	FileID     string            // Owning document
	ChunkIndex int               // 0-based position within the document
	Content    string            // Chunk text
	TokenCount int               // Tokens in Content
	Symbol     string            // Enclosing symbol name, if any
	Metadata   map[string]string // Caller-supplied metadata
	InsertedAt time.Time
}

// VectorResult is a single nearest-neighbor hit.
type VectorResult struct {
	ID       string  // Chunk ID
	Distance float32 // Raw distance in the index metric
	Score    float32 // Similarity in [0, 1], higher is better
}

// BM25Result is a single keyword search hit.
type BM25Result struct {
	DocID        string
	Score        float64
	MatchedTerms []string
}

// File is the metadata record for an indexed document.
type File struct {
	FileID      string
	Path        string
	Language    string
	ContentHash string
	ChunkCount  int
	IndexedAt   time.Time
}

// Health reports liveness of a storage backend.
type Health struct {
	Status   string            `json:"status"` // "healthy" or "unhealthy"
	Metadata map[string]string `json:"metadata,omitempty"`
}

// VectorStore persists embeddings and serves nearest-neighbor queries.
type VectorStore interface {
	// Add inserts vectors with their IDs. Re-adding an existing ID
	// replaces the prior vector (upsert).
	Add(ctx context.Context, ids []string, vectors [][]float32) error

	// Search returns the k nearest neighbors ordered by similarity
	// descending; ties broken by insertion recency, most recent first.
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)

	// Delete removes vectors by ID. Unknown IDs are ignored.
	Delete(ctx context.Context, ids []string) error

	// Count returns the number of live vectors.
	Count() int

	// Close releases resources.
	Close() error
}

// BM25Index persists chunk text and serves lexically ranked queries.
type BM25Index interface {
	// Index adds chunks to the keyword index, replacing existing IDs.
	Index(ctx context.Context, chunks []*Chunk) error

	// Search returns chunks matching the query, scored by BM25.
	Search(ctx context.Context, query string, limit int) ([]*BM25Result, error)

	// Delete removes chunks by ID.
	Delete(ctx context.Context, ids []string) error

	// Count returns the number of indexed documents.
	Count() (uint64, error)

	// Close releases resources.
	Close() error
}

// MetadataStore tracks files and their chunk records.
// SaveChunks within one call is transactional: all rows commit or none do.
type MetadataStore interface {
	// SaveFile upserts a file record.
	SaveFile(ctx context.Context, file *File) error

	// GetFile returns a file record, or nil when unknown.
	GetFile(ctx context.Context, fileID string) (*File, error)

	// SaveChunks inserts chunk records atomically. Every chunk's file
	// record must already exist.
	SaveChunks(ctx context.Context, chunks []*Chunk) error

	// SaveFileWithChunks upserts the file record and inserts its chunk
	// rows in one transaction, file first.
	SaveFileWithChunks(ctx context.Context, file *File, chunks []*Chunk) error

	// ChunksForFile returns a file's chunk records ordered by chunk index.
	ChunksForFile(ctx context.Context, fileID string) ([]*Chunk, error)

	// GetChunks resolves chunk records by ID, preserving input order.
	// Missing IDs are skipped.
	GetChunks(ctx context.Context, ids []string) ([]*Chunk, error)

	// DeleteFile removes a file record and its full chunk set, returning
	// the IDs of the removed chunks.
	DeleteFile(ctx context.Context, fileID string) ([]string, error)

	// Stats returns file and chunk counts.
	Stats(ctx context.Context) (files int, chunks int, err error)

	// Close releases resources.
	Close() error
}
