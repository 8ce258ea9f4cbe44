package chunk

import (
	"context"
)

// yieldEvery is the number of tokens processed between context checks so a
// long chunking run does not starve the caller's event loop.
const yieldEvery = 4096

// WindowChunker slides a token window of MaxTokens over the content with
// OverlapRatio overlap between consecutive windows. It is the fallback for
// languages without a parser and for documents that fail to parse.
type WindowChunker struct {
	opts Options
}

// NewWindowChunker creates a token-window chunker.
func NewWindowChunker(opts Options) *WindowChunker {
	return &WindowChunker{opts: opts.withDefaults()}
}

var _ Chunker = (*WindowChunker)(nil)

// Chunk splits the document into overlapping token windows.
// Empty content yields an empty slice and no error. Content shorter than
// MinTokens yields a single chunk exempt from the minimum. All chunks except
// the last hold exactly MaxTokens tokens.
func (w *WindowChunker) Chunk(ctx context.Context, doc *Document) ([]*Chunk, map[string]int, error) {
	tokens := Tokenize(doc.Content)
	if len(tokens) == 0 {
		return []*Chunk{}, map[string]int{}, nil
	}

	chunks := w.chunkTokens(ctx, doc, tokens, 0)
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	return chunks, map[string]int{}, nil
}

// chunkTokens windows a token slice into chunks starting at chunk index base.
// Shared with ASTChunker for force-splitting oversized syntactic units.
func (w *WindowChunker) chunkTokens(ctx context.Context, doc *Document, tokens []Token, base int) []*Chunk {
	maxTokens := w.opts.MaxTokens
	overlap := w.opts.overlapTokens()
	stride := maxTokens - overlap
	if stride <= 0 {
		stride = 1
	}

	var chunks []*Chunk
	processed := 0

	for start := 0; start < len(tokens); start += stride {
		if processed >= yieldEvery {
			processed = 0
			if ctx.Err() != nil {
				return chunks
			}
		}

		end := start + maxTokens
		last := false
		if end >= len(tokens) {
			end = len(tokens)
			last = true
		}
		processed += end - start

		chunks = append(chunks, w.buildChunk(doc, tokens[start:end], base+len(chunks)))
		if last {
			break
		}
	}

	return chunks
}

// buildChunk materializes a chunk from a token span.
func (w *WindowChunker) buildChunk(doc *Document, span []Token, index int) *Chunk {
	startOff := span[0].Start
	endOff := span[len(span)-1].End
	return &Chunk{
		ID:          ChunkID(doc.FileID, index),
		FileID:      doc.FileID,
		Index:       index,
		Text:        doc.Content[startOff:endOff],
		TokenCount:  len(span),
		StartOffset: startOff,
		EndOffset:   endOff,
		Metadata:    doc.Metadata,
	}
}
