package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFusion_CombinesBothLists(t *testing.T) {
	// Given: A ranks first semantically and second lexically, B the reverse
	semantic := []RankedItem{
		{ID: "A", Score: 0.95},
		{ID: "B", Score: 0.90},
		{ID: "C", Score: 0.85},
	}
	keyword := []RankedItem{
		{ID: "B", Score: 12.0},
		{ID: "A", Score: 10.0},
		{ID: "D", Score: 8.0},
	}

	fusion := NewFusion(60)
	results := fusion.Fuse(semantic, keyword, DefaultWeights)
	require.Len(t, results, 4)

	// A and B share the fused score 1/61 + 1/62; A wins the tie on its
	// higher semantic score. C and D each carry 1/63 from a single list;
	// C wins on semantic score.
	both := 1.0/61 + 1.0/62
	single := 1.0 / 63

	assert.Equal(t, "A", results[0].ChunkID)
	assert.Equal(t, "B", results[1].ChunkID)
	assert.Equal(t, "C", results[2].ChunkID)
	assert.Equal(t, "D", results[3].ChunkID)

	assert.InDelta(t, both, results[0].Score, 1e-12)
	assert.InDelta(t, both, results[1].Score, 1e-12)
	assert.InDelta(t, single, results[2].Score, 1e-12)
	assert.InDelta(t, single, results[3].Score, 1e-12)
}

func TestFusion_RankFields(t *testing.T) {
	semantic := []RankedItem{
		{ID: "A", Score: 0.9},
		{ID: "B", Score: 0.8},
	}
	keyword := []RankedItem{
		{ID: "B", Score: 5.0, MatchedTerms: []string{"foo"}},
	}

	results := NewFusion(60).Fuse(semantic, keyword, DefaultWeights)
	require.Len(t, results, 2)

	byID := map[string]*FusedResult{}
	for _, r := range results {
		byID[r.ChunkID] = r
	}

	assert.Equal(t, 1, byID["A"].SemanticRank)
	assert.Equal(t, 0, byID["A"].KeywordRank)
	assert.InDelta(t, 0.9, byID["A"].SemanticScore, 1e-12)

	assert.Equal(t, 2, byID["B"].SemanticRank)
	assert.Equal(t, 1, byID["B"].KeywordRank)
	assert.InDelta(t, 5.0, byID["B"].KeywordScore, 1e-12)
	assert.Equal(t, []string{"foo"}, byID["B"].MatchedTerms)
}

func TestFusion_EmptyLists(t *testing.T) {
	results := NewFusion(60).Fuse(nil, nil, DefaultWeights)
	assert.Empty(t, results)
}

func TestFusion_SingleList(t *testing.T) {
	keyword := []RankedItem{
		{ID: "B", Score: 9.0},
		{ID: "A", Score: 7.0},
	}

	results := NewFusion(60).Fuse(nil, keyword, DefaultWeights)
	require.Len(t, results, 2)

	assert.Equal(t, "B", results[0].ChunkID)
	assert.InDelta(t, 1.0/61, results[0].Score, 1e-12)
	assert.Equal(t, "A", results[1].ChunkID)
	assert.InDelta(t, 1.0/62, results[1].Score, 1e-12)
}

func TestFusion_StableRankForEqualScores(t *testing.T) {
	semantic := []RankedItem{
		{ID: "z", Score: 0.5},
		{ID: "a", Score: 0.5},
	}

	results := NewFusion(60).Fuse(semantic, nil, DefaultWeights)
	require.Len(t, results, 2)

	// Stable rank assignment preserves the source list order, so z holds
	// rank 1 and the higher fused score
	assert.Equal(t, "z", results[0].ChunkID)
	assert.Equal(t, "a", results[1].ChunkID)
}

func TestFusion_TieBreakBySemanticScore(t *testing.T) {
	// Equal fused scores; B carries a semantic score and A does not, so B
	// ranks first
	semantic := []RankedItem{{ID: "B", Score: 0.5}}
	keyword := []RankedItem{{ID: "A", Score: 0.5}}

	results := NewFusion(60).Fuse(semantic, keyword, DefaultWeights)
	require.Len(t, results, 2)
	assert.Equal(t, "B", results[0].ChunkID)
	assert.Equal(t, "A", results[1].ChunkID)
}

func TestFusion_DefaultConstant(t *testing.T) {
	assert.Equal(t, DefaultRRFConstant, NewFusion(0).K)
	assert.Equal(t, 30, NewFusion(30).K)
}

func TestRankByWeightedScore_ReordersByScore(t *testing.T) {
	items := []RankedItem{
		{ID: "low", Score: 1.0},
		{ID: "high", Score: 3.0},
		{ID: "mid", Score: 2.0},
	}

	ranked := rankByWeightedScore(items, 0.7)
	require.Len(t, ranked, 3)
	assert.Equal(t, "high", ranked[0].ID)
	assert.Equal(t, "mid", ranked[1].ID)
	assert.Equal(t, "low", ranked[2].ID)

	// Input left untouched
	assert.Equal(t, "low", items[0].ID)
}
