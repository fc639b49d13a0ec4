package fusion

import (
	"math"
	"sort"
)

// MMRCandidate is a vector search hit carrying its embedding
type MMRCandidate struct {
	ID        string
	Relevance float64
	Embedding []float32
	MMRScore  float64 // Set on selection
}

// SelectMMR picks up to k diverse candidates from the fetchK most relevant.
//
// When queryVector is non-empty, relevance is recomputed as the cosine
// similarity between the query and each candidate embedding so that
// candidates from different searches share one scale; otherwise the
// candidates' own Relevance is used. Lambda is clamped to [0, 1].
func SelectMMR(queryVector []float32, candidates []MMRCandidate, k, fetchK int, lambda float64) []MMRCandidate {
	if len(candidates) == 0 || k <= 0 {
		return []MMRCandidate{}
	}
	lambda = math.Max(0, math.Min(1, lambda))

	pool := make([]MMRCandidate, len(candidates))
	copy(pool, candidates)
	if len(queryVector) > 0 {
		for i := range pool {
			pool[i].Relevance = Cosine(queryVector, pool[i].Embedding)
		}
	}

	sort.SliceStable(pool, func(i, j int) bool {
		return pool[i].Relevance > pool[j].Relevance
	})
	if fetchK > 0 && fetchK < len(pool) {
		pool = pool[:fetchK]
	}
	if k > len(pool) {
		k = len(pool)
	}

	// maxSim[i] is the highest similarity of pool[i] to any selected candidate
	maxSim := make([]float64, len(pool))
	for i := range maxSim {
		maxSim[i] = math.Inf(-1)
	}
	taken := make([]bool, len(pool))
	selected := make([]MMRCandidate, 0, k)

	for len(selected) < k {
		best := -1
		bestScore := math.Inf(-1)
		for i := range pool {
			if taken[i] {
				continue
			}
			redundancy := 0.0
			if len(selected) > 0 {
				redundancy = maxSim[i]
			}
			score := lambda*pool[i].Relevance - (1-lambda)*redundancy
			if score > bestScore {
				best, bestScore = i, score
			}
		}

		taken[best] = true
		pick := pool[best]
		pick.MMRScore = bestScore

		for i := range pool {
			if taken[i] {
				continue
			}
			if sim := Cosine(pick.Embedding, pool[i].Embedding); sim > maxSim[i] {
				maxSim[i] = sim
			}
		}

		pick.Embedding = nil
		selected = append(selected, pick)
	}

	return selected
}

// Cosine returns the cosine similarity of a and b, or 0 when undefined
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
