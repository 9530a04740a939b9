package retrieval

import "math"

// mmrSelect picks k candidates using maximal marginal relevance: each round
// selects the candidate maximizing
//
//	lambda*sim(query, c) - (1-lambda)*max(sim(c, selected))
//
// Candidates arrive in similarity order, so ties resolve to the earlier (more
// relevant) candidate via strict > comparison.
func mmrSelect(candidates []Candidate, k int, lambda float64) []Candidate {
	if k <= 0 || len(candidates) == 0 {
		return nil
	}
	if k > len(candidates) {
		k = len(candidates)
	}

	selected := make([]Candidate, 0, k)
	remaining := make([]int, len(candidates))
	for i := range remaining {
		remaining[i] = i
	}

	for len(selected) < k {
		bestPos := -1
		bestScore := math.Inf(-1)

		for pos, idx := range remaining {
			c := candidates[idx]

			redundancy := 0.0
			for _, s := range selected {
				if sim := cosineSimilarity(c.Embedding, s.Embedding); sim > redundancy {
					redundancy = sim
				}
			}

			score := lambda*c.Score - (1-lambda)*redundancy
			if score > bestScore {
				bestScore = score
				bestPos = pos
			}
		}

		selected = append(selected, candidates[remaining[bestPos]])
		remaining = append(remaining[:bestPos], remaining[bestPos+1:]...)
	}

	return selected
}

// cosineSimilarity returns the cosine of the angle between two vectors, or 0
// when either has zero magnitude or the lengths differ.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
