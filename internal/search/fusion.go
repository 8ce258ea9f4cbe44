package search

import "sort"

// DefaultRRFConstant is the standard RRF smoothing parameter. k=60 is the
// value validated across retrieval benchmarks and used by most hybrid search
// engines.
const DefaultRRFConstant = 60

// RankedItem is one entry of a retrieval list handed to fusion, carrying the
// raw score from its source.
type RankedItem struct {
	ID           string
	Score        float64
	MatchedTerms []string
}

// FusedResult is a single result after RRF fusion.
type FusedResult struct {
	ChunkID       string
	Score         float64 // Combined RRF score
	SemanticRank  int     // 1-based rank in the semantic list, 0 if absent
	KeywordRank   int     // 1-based rank in the keyword list, 0 if absent
	SemanticScore float64 // Raw semantic similarity, preserved
	KeywordScore  float64 // Raw BM25 score, preserved
	MatchedTerms  []string
}

// Fusion combines ranked lists with Reciprocal Rank Fusion:
//
//	fused(id) = Σ over lists 1 / (k + rank_in_list(id))
//
// where rank_in_list is 1-based and a list the document is absent from
// contributes nothing. Ranks are assigned from the weighted-score ordering of
// each list, so weights influence fusion through rank positions rather than
// through score magnitudes.
type Fusion struct {
	K int
}

// NewFusion creates a fusion instance. k <= 0 falls back to the default.
func NewFusion(k int) *Fusion {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	return &Fusion{K: k}
}

// Fuse merges the semantic and keyword lists.
//
// Final ordering is descending fused score; ties broken by higher semantic
// score, then higher keyword score, then chunk ID ascending, which makes the
// output fully deterministic.
func (f *Fusion) Fuse(semantic, keyword []RankedItem, weights Weights) []*FusedResult {
	if len(semantic) == 0 && len(keyword) == 0 {
		return []*FusedResult{}
	}

	merged := make(map[string]*FusedResult, len(semantic)+len(keyword))
	get := func(id string) *FusedResult {
		if r, ok := merged[id]; ok {
			return r
		}
		r := &FusedResult{ChunkID: id}
		merged[id] = r
		return r
	}

	for rank, item := range rankByWeightedScore(semantic, weights.Semantic) {
		r := get(item.ID)
		r.SemanticRank = rank + 1
		r.SemanticScore = item.Score
		r.Score += 1 / float64(f.K+rank+1)
	}

	for rank, item := range rankByWeightedScore(keyword, weights.Keyword) {
		r := get(item.ID)
		r.KeywordRank = rank + 1
		r.KeywordScore = item.Score
		r.MatchedTerms = item.MatchedTerms
		r.Score += 1 / float64(f.K+rank+1)
	}

	results := make([]*FusedResult, 0, len(merged))
	for _, r := range merged {
		results = append(results, r)
	}

	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.SemanticScore != b.SemanticScore {
			return a.SemanticScore > b.SemanticScore
		}
		if a.KeywordScore != b.KeywordScore {
			return a.KeywordScore > b.KeywordScore
		}
		return a.ChunkID < b.ChunkID
	})

	return results
}

// rankByWeightedScore orders a list by its weight-scaled scores, descending.
// A stable sort keeps the source's own ordering for equal weighted scores,
// which matters when a retrieval backend has already broken score ties.
func rankByWeightedScore(items []RankedItem, weight float64) []RankedItem {
	if len(items) == 0 {
		return nil
	}
	ranked := make([]RankedItem, len(items))
	copy(ranked, items)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score*weight > ranked[j].Score*weight
	})
	return ranked
}
