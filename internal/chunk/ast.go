package chunk

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
)

// ASTChunker aligns chunk boundaries to syntactic units (functions, classes,
// type declarations) so a unit is never split mid-declaration unless it
// exceeds MaxTokens, in which case it is force-split at line boundaries.
// Documents in unsupported languages and documents that fail to parse degrade
// to the token-window fallback for that document only.
type ASTChunker struct {
	registry *LanguageRegistry
	fallback *WindowChunker
	opts     Options

	// tree-sitter parsers are not safe for concurrent use
	mu     sync.Mutex
	parser *sitter.Parser
}

// NewASTChunker creates an AST-aware chunker with the default registry.
func NewASTChunker(opts Options) *ASTChunker {
	return NewASTChunkerWithRegistry(opts, DefaultRegistry())
}

// NewASTChunkerWithRegistry creates an AST-aware chunker with a custom registry.
func NewASTChunkerWithRegistry(opts Options, registry *LanguageRegistry) *ASTChunker {
	opts = opts.withDefaults()
	return &ASTChunker{
		registry: registry,
		fallback: NewWindowChunker(opts),
		opts:     opts,
		parser:   sitter.NewParser(),
	}
}

var _ Chunker = (*ASTChunker)(nil)

// Close releases parser resources.
func (c *ASTChunker) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.parser != nil {
		c.parser.Close()
		c.parser = nil
	}
}

// Chunk splits a document along syntactic unit boundaries.
// Empty content yields an empty slice and no error.
func (c *ASTChunker) Chunk(ctx context.Context, doc *Document) ([]*Chunk, map[string]int, error) {
	if strings.TrimSpace(doc.Content) == "" {
		return []*Chunk{}, map[string]int{}, nil
	}

	config, lang, ok := c.registry.Get(doc.Language)
	if !ok {
		return c.fallback.Chunk(ctx, doc)
	}

	tree, err := c.parse(ctx, []byte(doc.Content), lang)
	if err != nil {
		slog.Warn("parse failed, falling back to window chunking",
			slog.String("file_id", doc.FileID),
			slog.String("language", doc.Language),
			slog.String("error", err.Error()))
		return c.fallback.Chunk(ctx, doc)
	}
	defer tree.Close()

	units := c.collectUnits(tree.RootNode(), doc.Content, config)
	if len(units) == 0 {
		return c.fallback.Chunk(ctx, doc)
	}

	chunks, symbols := c.assemble(doc, units)
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	return chunks, symbols, nil
}

func (c *ASTChunker) parse(ctx context.Context, source []byte, lang *sitter.Language) (*sitter.Tree, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.parser == nil {
		return nil, fmt.Errorf("chunker is closed")
	}
	c.parser.SetLanguage(lang)
	tree, err := c.parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, fmt.Errorf("parse source: %w", err)
	}
	if tree == nil {
		return nil, fmt.Errorf("parse source: nil tree")
	}
	return tree, nil
}

// unit is a top-level syntactic span of the document.
type unit struct {
	start  int // Byte offset
	end    int // Exclusive end byte offset
	tokens int
	symbol string // Declared symbol name, if any
}

// collectUnits walks the root's named children and turns each into a unit.
// Non-symbol nodes (imports, package clauses, comments) become symbolless
// units so the whole document stays covered.
func (c *ASTChunker) collectUnits(root *sitter.Node, source string, config *LanguageConfig) []unit {
	symbolTypes := make(map[string]struct{}, len(config.SymbolTypes))
	for _, t := range config.SymbolTypes {
		symbolTypes[t] = struct{}{}
	}

	count := int(root.NamedChildCount())
	units := make([]unit, 0, count)
	for i := 0; i < count; i++ {
		node := root.NamedChild(i)
		u := unit{
			start:  int(node.StartByte()),
			end:    int(node.EndByte()),
			tokens: CountTokens(source[node.StartByte():node.EndByte()]),
		}
		if _, ok := symbolTypes[node.Type()]; ok {
			u.symbol = symbolName(node, source)
		}
		units = append(units, u)
	}
	return units
}

// symbolName extracts the declared name from a symbol node.
func symbolName(node *sitter.Node, source string) string {
	if name := node.ChildByFieldName("name"); name != nil {
		return source[name.StartByte():name.EndByte()]
	}
	// Go type_declaration and decorated definitions nest the named node
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		if name := child.ChildByFieldName("name"); name != nil {
			return source[name.StartByte():name.EndByte()]
		}
	}
	return ""
}

// assemble greedily packs units into chunks bounded by MaxTokens.
// A unit larger than MaxTokens is force-split at line boundaries; the
// pending accumulation is folded into the split so non-final chunks stay
// above MinTokens where the content allows it.
func (c *ASTChunker) assemble(doc *Document, units []unit) ([]*Chunk, map[string]int) {
	var chunks []*Chunk
	symbols := make(map[string]int)

	var curStart, curEnd, curTokens int
	var curSymbol string
	hasCurrent := false

	flush := func() {
		if !hasCurrent {
			return
		}
		chunks = append(chunks, c.buildChunk(doc, curStart, curEnd, curSymbol, len(chunks)))
		hasCurrent = false
		curSymbol = ""
	}

	recordSymbol := func(name string, index int) {
		if name == "" {
			return
		}
		if _, seen := symbols[name]; !seen {
			symbols[name] = index
		}
	}

	for _, u := range units {
		if u.tokens > c.opts.MaxTokens {
			// Fold any small pending accumulation into the oversized split
			start := u.start
			if hasCurrent && curTokens < c.opts.MinTokens {
				start = curStart
				hasCurrent = false
				curSymbol = ""
			} else {
				flush()
			}
			recordSymbol(u.symbol, len(chunks))
			for _, seg := range c.splitLines(doc.Content, start, u.end) {
				chunks = append(chunks, c.buildChunk(doc, seg[0], seg[1], u.symbol, len(chunks)))
			}
			continue
		}

		if hasCurrent && curTokens+u.tokens > c.opts.MaxTokens {
			flush()
		}

		if !hasCurrent {
			curStart, curEnd, curTokens = u.start, u.end, u.tokens
			curSymbol = u.symbol
			hasCurrent = true
		} else {
			curEnd = u.end
			curTokens += u.tokens
			if curSymbol == "" {
				curSymbol = u.symbol
			}
		}
		recordSymbol(u.symbol, len(chunks))
	}
	flush()

	return chunks, symbols
}

// splitLines splits content[start:end] into segments of at most MaxTokens,
// breaking at line boundaries. A single line above MaxTokens becomes its own
// segment; token bounds cannot hold for it.
func (c *ASTChunker) splitLines(content string, start, end int) [][2]int {
	var segments [][2]int
	segStart := start
	segTokens := 0
	lineStart := start

	for i := start; i < end; i++ {
		if content[i] != '\n' && i != end-1 {
			continue
		}
		lineEnd := i + 1
		lineTokens := CountTokens(content[lineStart:lineEnd])
		if segTokens > 0 && segTokens+lineTokens > c.opts.MaxTokens {
			segments = append(segments, [2]int{segStart, lineStart})
			segStart = lineStart
			segTokens = 0
		}
		segTokens += lineTokens
		lineStart = lineEnd
	}
	if segStart < end {
		segments = append(segments, [2]int{segStart, end})
	}
	return segments
}

func (c *ASTChunker) buildChunk(doc *Document, start, end int, symbol string, index int) *Chunk {
	text := doc.Content[start:end]
	return &Chunk{
		ID:          ChunkID(doc.FileID, index),
		FileID:      doc.FileID,
		Index:       index,
		Text:        text,
		TokenCount:  CountTokens(text),
		Symbol:      symbol,
		StartOffset: start,
		EndOffset:   end,
		Metadata:    doc.Metadata,
	}
}
