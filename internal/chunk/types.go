// Package chunk splits document content into bounded-size chunks for
// embedding and retrieval. Two strategies exist: ASTChunker aligns chunk
// boundaries to syntactic units via tree-sitter, WindowChunker slides a
// token window with overlap. Selection happens per language at construction;
// a parse failure degrades to the window strategy for that document only.
package chunk

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Chunk size defaults, in tokens.
const (
	DefaultMaxTokens    = 512
	DefaultMinTokens    = 100
	DefaultOverlapRatio = 0.125
)

// Document is the unit of indexing input. Immutable once submitted;
// re-submitting the same FileID supersedes the previous version.
type Document struct {
	FileID   string            // Unique identifier, stable across re-indexing
	Path     string            // Source path, informational
	Content  string            // Raw content
	Language string            // go, python, javascript, typescript, or ""
	Metadata map[string]string // Caller-supplied metadata
}

// Chunk is a retrievable unit of content.
type Chunk struct {
	ID          string            // Derived from (FileID, Index)
	FileID      string            // Owning document
	Index       int               // 0-based position within the document
	Text        string            // Chunk content
	TokenCount  int               // Tokens in Text
	Symbol      string            // Enclosing symbol name (code only)
	StartOffset int               // Byte offset of Text in the document
	EndOffset   int               // Exclusive end byte offset
	Metadata    map[string]string // Propagated document metadata
}

// Options bounds chunk sizes.
type Options struct {
	MaxTokens    int
	MinTokens    int
	OverlapRatio float64
}

// withDefaults fills zero fields with package defaults.
func (o Options) withDefaults() Options {
	if o.MaxTokens <= 0 {
		o.MaxTokens = DefaultMaxTokens
	}
	if o.MinTokens <= 0 {
		o.MinTokens = DefaultMinTokens
	}
	if o.MinTokens > o.MaxTokens {
		o.MinTokens = o.MaxTokens
	}
	if o.OverlapRatio < 0 || o.OverlapRatio > 0.5 {
		o.OverlapRatio = DefaultOverlapRatio
	}
	return o
}

// overlapTokens returns the token overlap between consecutive windows.
func (o Options) overlapTokens() int {
	return int(float64(o.MaxTokens) * o.OverlapRatio)
}

// Chunker splits a document into ordered chunks.
// The symbol map records which chunk declares each named symbol.
type Chunker interface {
	Chunk(ctx context.Context, doc *Document) ([]*Chunk, map[string]int, error)
}

// ChunkID derives a stable chunk identifier from file ID and chunk index.
func ChunkID(fileID string, index int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", fileID, index)))
	return hex.EncodeToString(sum[:8])
}
