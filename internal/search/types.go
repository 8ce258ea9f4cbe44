// Package search implements semantic, keyword, and hybrid retrieval over the
// store layer. Hybrid results are fused with Reciprocal Rank Fusion.
package search

// Mode selects the retrieval strategy for a query.
type Mode string

const (
	// ModeSemantic retrieves by embedding similarity only.
	ModeSemantic Mode = "semantic"

	// ModeKeyword retrieves by BM25 lexical ranking only.
	ModeKeyword Mode = "keyword"

	// ModeHybrid runs both retrievals and fuses the ranked lists.
	ModeHybrid Mode = "hybrid"
)

// Source identifies which retrieval produced a result.
const (
	SourceSemantic = "semantic"
	SourceKeyword  = "keyword"
	SourceFused    = "fused"
)

// Weights scale each list's raw scores before fusion ranks are assigned.
type Weights struct {
	Semantic float64
	Keyword  float64
}

// DefaultWeights favor semantic retrieval for natural-language queries while
// keeping keyword retrieval influential for identifier lookups.
var DefaultWeights = Weights{Semantic: 0.7, Keyword: 0.3}

// Result is a single ranked hit returned to the caller. Transient, never
// persisted.
type Result struct {
	ChunkID string `json:"chunk_id"`
	FileID  string `json:"file_id"`
	Text    string `json:"text"`
	Symbol  string `json:"symbol,omitempty"`

	Score  float64 `json:"score"`
	Rank   int     `json:"rank"`   // 1-based position in the returned list
	Source string  `json:"source"` // "semantic", "keyword", or "fused"

	// Per-source detail, populated for hybrid results.
	SemanticScore float64  `json:"semantic_score,omitempty"`
	KeywordScore  float64  `json:"keyword_score,omitempty"`
	MatchedTerms  []string `json:"matched_terms,omitempty"`
}

// Options control a single search call.
type Options struct {
	// Mode selects the retrieval strategy. Defaults to ModeHybrid.
	Mode Mode

	// Limit caps the number of returned results. Defaults to
	// EngineConfig.DefaultLimit, clamped to EngineConfig.MaxLimit.
	Limit int

	// Weights override the engine's configured fusion weights.
	Weights *Weights
}

// EngineConfig tunes the search engine.
type EngineConfig struct {
	// DefaultLimit is used when Options.Limit is unset.
	DefaultLimit int

	// MaxLimit caps Options.Limit.
	MaxLimit int

	// RRFConstant is the fusion smoothing constant k.
	RRFConstant int

	// CandidateMultiplier sets how many candidates each retrieval fetches
	// for hybrid fusion, as a multiple of the requested limit.
	CandidateMultiplier int

	// Weights are the default fusion weights.
	Weights Weights
}

// DefaultEngineConfig returns the standard engine tuning.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		DefaultLimit:        10,
		MaxLimit:            100,
		RRFConstant:         DefaultRRFConstant,
		CandidateMultiplier: 3,
		Weights:             DefaultWeights,
	}
}

func (c EngineConfig) withDefaults() EngineConfig {
	def := DefaultEngineConfig()
	if c.DefaultLimit <= 0 {
		c.DefaultLimit = def.DefaultLimit
	}
	if c.MaxLimit <= 0 {
		c.MaxLimit = def.MaxLimit
	}
	if c.RRFConstant <= 0 {
		c.RRFConstant = def.RRFConstant
	}
	if c.CandidateMultiplier <= 0 {
		c.CandidateMultiplier = def.CandidateMultiplier
	}
	if c.Weights.Semantic == 0 && c.Weights.Keyword == 0 {
		c.Weights = def.Weights
	}
	return c
}
