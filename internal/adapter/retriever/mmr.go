package retriever

import (
	"newsrag/internal/adapter/store"
	"newsrag/internal/domain"
)

// MMRReranker implements Maximal Marginal Relevance over chunk embeddings.
type MMRReranker struct {
	lambda float64
}

func NewMMRReranker(lambda float64) *MMRReranker {
	return &MMRReranker{lambda: lambda}
}

// Rerank picks k candidates, trading relevance against similarity to what
// was already picked:
// MMR(c) = λ * relevance(c) - (1-λ) * max_similarity(c, selected)
func (r *MMRReranker) Rerank(candidates []domain.ScoredChunk, k int) []domain.ScoredChunk {
	if len(candidates) == 0 {
		return nil
	}

	if k > len(candidates) {
		k = len(candidates)
	}

	selected := make([]domain.ScoredChunk, 0, k)
	remaining := make([]domain.ScoredChunk, len(candidates))
	copy(remaining, candidates)

	for len(selected) < k && len(remaining) > 0 {
		bestIdx := 0
		bestMMR := -1e9

		for i, candidate := range remaining {
			maxSim := 0.0
			for _, sel := range selected {
				if sim := store.CosineSimilarity(candidate.Vector, sel.Vector); sim > maxSim {
					maxSim = sim
				}
			}

			mmr := r.lambda*candidate.Score - (1-r.lambda)*maxSim
			if mmr > bestMMR {
				bestMMR = mmr
				bestIdx = i
			}
		}

		selected = append(selected, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}

	return selected
}
