package index

import chromem "github.com/philippgille/chromem-go"

// maximalMarginalRelevance re-ranks candidates to balance relevance to the
// query against redundancy among the picks. lambda=1 is pure relevance,
// lambda=0 is pure diversity. Candidate embeddings are unit vectors, so
// the dot product is the cosine similarity.
func maximalMarginalRelevance(query []float32, candidates []chromem.Result, k int, lambda float32) []chromem.Result {
	if k >= len(candidates) {
		return candidates
	}

	selected := make([]chromem.Result, 0, k)
	remaining := make([]chromem.Result, len(candidates))
	copy(remaining, candidates)

	for len(selected) < k && len(remaining) > 0 {
		bestIdx := 0
		bestScore := float32(-2)
		for i, cand := range remaining {
			relevance := dot(query, cand.Embedding)
			var redundancy float32
			for _, picked := range selected {
				if sim := dot(cand.Embedding, picked.Embedding); sim > redundancy {
					redundancy = sim
				}
			}
			score := lambda*relevance - (1-lambda)*redundancy
			if score > bestScore {
				bestScore = score
				bestIdx = i
			}
		}
		selected = append(selected, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}
	return selected
}

func dot(a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float32
	for i := 0; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}
