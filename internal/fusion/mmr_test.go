package fusion

import (
	"fmt"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mmrIDs(cs []MMRCandidate) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.ID
	}
	return out
}

func avgPairwise(t *testing.T, selected []MMRCandidate, all []MMRCandidate) float64 {
	t.Helper()
	emb := make(map[string][]float32, len(all))
	for _, c := range all {
		emb[c.ID] = c.Embedding
	}
	var sum float64
	var n int
	for i := range selected {
		for j := i + 1; j < len(selected); j++ {
			sum += Cosine(emb[selected[i].ID], emb[selected[j].ID])
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func nearDuplicatePool() []MMRCandidate {
	return []MMRCandidate{
		{ID: "A", Relevance: 0.95, Embedding: []float32{1, 0, 0, 0}},
		{ID: "A2", Relevance: 0.94, Embedding: []float32{0.99, 0.05, 0, 0}},
		{ID: "A3", Relevance: 0.93, Embedding: []float32{0.98, 0, 0.05, 0}},
		{ID: "B", Relevance: 0.90, Embedding: []float32{0, 1, 0, 0}},
		{ID: "C", Relevance: 0.85, Embedding: []float32{0, 0, 1, 0}},
		{ID: "D", Relevance: 0.80, Embedding: []float32{0, 0, 0, 1}},
	}
}

func TestSelectMMR_PrefersDiversity(t *testing.T) {
	pool := nearDuplicatePool()
	got := SelectMMR(nil, pool, 3, 6, 0.5)
	assert.Equal(t, []string{"A", "B", "C"}, mmrIDs(got))
}

func TestSelectMMR_DiversityNotWorseThanBaseline(t *testing.T) {
	pool := nearDuplicatePool()
	k := 3

	baseline := SelectMMR(nil, pool, k, 2*k, 1)
	for _, lambda := range []float64{0, 0.25, 0.5, 0.75, 0.9} {
		got := SelectMMR(nil, pool, k, 2*k, lambda)
		require.Len(t, got, k)
		assert.LessOrEqual(t, avgPairwise(t, got, pool), avgPairwise(t, baseline, pool), "lambda=%v", lambda)
	}
}

func TestSelectMMR_LambdaOneIsRelevanceOrder(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	pool := make([]MMRCandidate, 25)
	for i := range pool {
		emb := make([]float32, 8)
		for j := range emb {
			emb[j] = rng.Float32()*2 - 1
		}
		pool[i] = MMRCandidate{ID: fmt.Sprintf("c%02d", i), Relevance: rng.Float64(), Embedding: emb}
	}

	sorted := append([]MMRCandidate(nil), pool...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Relevance > sorted[j].Relevance })

	got := SelectMMR(nil, pool, 10, 20, 1)
	assert.Equal(t, mmrIDs(sorted[:10]), mmrIDs(got))
}

func TestSelectMMR_FirstPickIsMostRelevant(t *testing.T) {
	pool := nearDuplicatePool()
	for _, lambda := range []float64{0, 0.3, 1} {
		got := SelectMMR(nil, pool, 2, 6, lambda)
		assert.Equal(t, "A", got[0].ID, "lambda=%v", lambda)
	}
}

func TestSelectMMR_EdgeCases(t *testing.T) {
	assert.Empty(t, SelectMMR(nil, nil, 5, 10, 0.5))
	assert.Empty(t, SelectMMR(nil, nearDuplicatePool(), 0, 10, 0.5))

	small := nearDuplicatePool()[:2]
	got := SelectMMR(nil, small, 5, 10, 0.5)
	assert.Equal(t, []string{"A", "A2"}, mmrIDs(got))

	for _, c := range SelectMMR(nil, nearDuplicatePool(), 4, 6, 0.5) {
		assert.Nil(t, c.Embedding, "embeddings are stripped")
	}
}

func TestSelectMMR_FetchKBoundsPool(t *testing.T) {
	got := SelectMMR(nil, nearDuplicatePool(), 3, 3, 0)
	assert.ElementsMatch(t, []string{"A", "A2", "A3"}, mmrIDs(got))
}

func TestSelectMMR_DoesNotMutateInput(t *testing.T) {
	pool := nearDuplicatePool()
	_ = SelectMMR(nil, pool, 3, 6, 0.5)
	assert.NotNil(t, pool[0].Embedding)
	assert.Equal(t, "A", pool[0].ID)
}

func TestSelectMMR_QueryVectorRecomputesRelevance(t *testing.T) {
	pool := []MMRCandidate{
		{ID: "x", Relevance: 0.1, Embedding: []float32{1, 0}},
		{ID: "y", Relevance: 0.9, Embedding: []float32{0, 1}},
	}
	got := SelectMMR([]float32{1, 0}, pool, 2, 2, 1)
	require.Len(t, got, 2)
	assert.Equal(t, "x", got[0].ID)
	assert.InDelta(t, 1.0, got[0].Relevance, 1e-9)
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, Cosine([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Zero(t, Cosine([]float32{1}, []float32{1, 2}))
	assert.Zero(t, Cosine([]float32{0, 0}, []float32{1, 2}))
}
