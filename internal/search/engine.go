package search

import (
	"context"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/reynard-dev/ragindex/internal/embed"
	ragerr "github.com/reynard-dev/ragindex/internal/errors"
	"github.com/reynard-dev/ragindex/internal/store"
)

// Engine executes semantic, keyword, and hybrid queries.
type Engine struct {
	vector   store.VectorStore
	bm25     store.BM25Index
	metadata store.MetadataStore
	embedder embed.Embedder
	config   EngineConfig
	fusion   *Fusion
}

// NewEngine creates a search engine. All dependencies are required.
func NewEngine(
	vector store.VectorStore,
	bm25 store.BM25Index,
	metadata store.MetadataStore,
	embedder embed.Embedder,
	config EngineConfig,
) (*Engine, error) {
	if vector == nil {
		return nil, ragerr.ValidationError("vector store is required", nil)
	}
	if bm25 == nil {
		return nil, ragerr.ValidationError("BM25 index is required", nil)
	}
	if metadata == nil {
		return nil, ragerr.ValidationError("metadata store is required", nil)
	}
	if embedder == nil {
		return nil, ragerr.ValidationError("embedder is required", nil)
	}
	config = config.withDefaults()
	return &Engine{
		vector:   vector,
		bm25:     bm25,
		metadata: metadata,
		embedder: embedder,
		config:   config,
		fusion:   NewFusion(config.RRFConstant),
	}, nil
}

// Search runs a query and returns ranked results. "No results" is not an
// error: an empty list with a nil error is the valid outcome for a query
// nothing matches.
func (e *Engine) Search(ctx context.Context, query string, opts Options) ([]*Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []*Result{}, nil
	}

	opts = e.applyDefaults(opts)

	switch opts.Mode {
	case ModeSemantic:
		return e.semanticSearch(ctx, query, opts.Limit)
	case ModeKeyword:
		return e.keywordSearch(ctx, query, opts.Limit)
	case ModeHybrid:
		return e.hybridSearch(ctx, query, opts)
	default:
		return nil, ragerr.ValidationError("unknown search mode", nil).
			WithDetail("mode", string(opts.Mode))
	}
}

func (e *Engine) applyDefaults(opts Options) Options {
	if opts.Mode == "" {
		opts.Mode = ModeHybrid
	}
	if opts.Limit <= 0 {
		opts.Limit = e.config.DefaultLimit
	}
	if opts.Limit > e.config.MaxLimit {
		opts.Limit = e.config.MaxLimit
	}
	if opts.Weights == nil {
		w := e.config.Weights
		opts.Weights = &w
	}
	return opts
}

// semanticSearch embeds the query and ranks chunks by vector similarity.
func (e *Engine) semanticSearch(ctx context.Context, query string, limit int) ([]*Result, error) {
	items, err := e.semanticCandidates(ctx, query, limit)
	if err != nil {
		return nil, err
	}

	results := make([]*Result, 0, len(items))
	for i, item := range items {
		results = append(results, &Result{
			ChunkID:       item.ID,
			Score:         item.Score,
			SemanticScore: item.Score,
			Rank:          i + 1,
			Source:        SourceSemantic,
		})
	}
	return e.enrich(ctx, results)
}

// keywordSearch ranks chunks by BM25 lexical score.
func (e *Engine) keywordSearch(ctx context.Context, query string, limit int) ([]*Result, error) {
	items, err := e.keywordCandidates(ctx, query, limit)
	if err != nil {
		return nil, err
	}

	results := make([]*Result, 0, len(items))
	for i, item := range items {
		results = append(results, &Result{
			ChunkID:      item.ID,
			Score:        item.Score,
			KeywordScore: item.Score,
			MatchedTerms: item.MatchedTerms,
			Rank:         i + 1,
			Source:       SourceKeyword,
		})
	}
	return e.enrich(ctx, results)
}

// hybridSearch runs both retrievals in parallel and fuses the ranked lists.
// Each retrieval over-fetches so fusion has enough material below the cut.
// If one retrieval fails the other's results are still returned; only when
// both fail does the call error out.
func (e *Engine) hybridSearch(ctx context.Context, query string, opts Options) ([]*Result, error) {
	candidates := opts.Limit * e.config.CandidateMultiplier

	var semantic, keyword []RankedItem
	var semErr, keyErr error

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		semantic, semErr = e.semanticCandidates(gctx, query, candidates)
		return nil
	})
	g.Go(func() error {
		keyword, keyErr = e.keywordCandidates(gctx, query, candidates)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if semErr != nil && keyErr != nil {
		return nil, ragerr.New(ragerr.ErrCodeInternal,
			"both retrievals failed", keyErr).
			WithDetail("semantic_error", semErr.Error())
	}
	if semErr != nil {
		slog.Warn("semantic retrieval failed, degrading to keyword results",
			slog.String("error", semErr.Error()))
	}
	if keyErr != nil {
		slog.Warn("keyword retrieval failed, degrading to semantic results",
			slog.String("error", keyErr.Error()))
	}

	fused := e.fusion.Fuse(semantic, keyword, *opts.Weights)
	if len(fused) > opts.Limit {
		fused = fused[:opts.Limit]
	}

	results := make([]*Result, 0, len(fused))
	for i, f := range fused {
		results = append(results, &Result{
			ChunkID:       f.ChunkID,
			Score:         f.Score,
			SemanticScore: f.SemanticScore,
			KeywordScore:  f.KeywordScore,
			MatchedTerms:  f.MatchedTerms,
			Rank:          i + 1,
			Source:        SourceFused,
		})
	}
	return e.enrich(ctx, results)
}

// semanticCandidates embeds the query and fetches nearest neighbors.
func (e *Engine) semanticCandidates(ctx context.Context, query string, limit int) ([]RankedItem, error) {
	embedding, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	hits, err := e.vector.Search(ctx, embedding, limit)
	if err != nil {
		return nil, err
	}

	items := make([]RankedItem, 0, len(hits))
	for _, hit := range hits {
		items = append(items, RankedItem{ID: hit.ID, Score: float64(hit.Score)})
	}
	return items, nil
}

// keywordCandidates runs the BM25 retrieval.
func (e *Engine) keywordCandidates(ctx context.Context, query string, limit int) ([]RankedItem, error) {
	hits, err := e.bm25.Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}

	items := make([]RankedItem, 0, len(hits))
	for _, hit := range hits {
		items = append(items, RankedItem{
			ID:           hit.DocID,
			Score:        hit.Score,
			MatchedTerms: hit.MatchedTerms,
		})
	}
	return items, nil
}

// enrich resolves chunk text and file IDs in one batch lookup. Results whose
// chunk record has vanished (deleted between retrieval and lookup) are
// dropped and ranks are reassigned.
func (e *Engine) enrich(ctx context.Context, results []*Result) ([]*Result, error) {
	if len(results) == 0 {
		return []*Result{}, nil
	}

	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ChunkID
	}

	chunks, err := e.metadata.GetChunks(ctx, ids)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*store.Chunk, len(chunks))
	for _, c := range chunks {
		byID[c.ID] = c
	}

	enriched := make([]*Result, 0, len(results))
	for _, r := range results {
		chunk, ok := byID[r.ChunkID]
		if !ok {
			continue
		}
		r.FileID = chunk.FileID
		r.Text = chunk.Content
		r.Symbol = chunk.Symbol
		r.Rank = len(enriched) + 1
		enriched = append(enriched, r)
	}
	return enriched, nil
}
