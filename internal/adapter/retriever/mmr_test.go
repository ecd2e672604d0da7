package retriever

import (
	"testing"

	"newsrag/internal/domain"
)

func scored(id string, score float64, v ...float32) domain.ScoredChunk {
	return domain.ScoredChunk{Chunk: domain.Chunk{ID: id}, Score: score, Vector: v}
}

func TestMMRReranking(t *testing.T) {
	reranker := NewMMRReranker(0.5)

	candidates := []domain.ScoredChunk{
		scored("c1", 1.0, 1, 0, 0),
		scored("c2", 0.95, 1, 0.05, 0),
		scored("c3", 0.8, 0, 1, 0),
		scored("c4", 0.7, 0, 0, 1),
	}

	results := reranker.Rerank(candidates, 3)

	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].Chunk.ID != "c1" {
		t.Errorf("expected c1 as first result, got %s", results[0].Chunk.ID)
	}
	for _, r := range results {
		if r.Chunk.ID == "c2" {
			t.Errorf("expected near-duplicate c2 to lose to diverse chunks, got %v", ids(results))
		}
	}
}

func TestMMRPureRelevance(t *testing.T) {
	reranker := NewMMRReranker(1.0)

	candidates := []domain.ScoredChunk{
		scored("c1", 1.0, 1, 0),
		scored("c2", 0.9, 1, 0),
		scored("c3", 0.1, 0, 1),
	}

	results := reranker.Rerank(candidates, 2)
	if got := ids(results); got[0] != "c1" || got[1] != "c2" {
		t.Errorf("lambda 1 should keep relevance order, got %v", got)
	}
}

func TestMMREmptyCandidates(t *testing.T) {
	reranker := NewMMRReranker(0.7)

	if results := reranker.Rerank(nil, 10); results != nil {
		t.Errorf("expected nil for empty candidates, got %v", results)
	}
	if results := reranker.Rerank([]domain.ScoredChunk{}, 10); results != nil {
		t.Errorf("expected nil for empty slice, got %v", results)
	}
}

func ids(chunks []domain.ScoredChunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Chunk.ID
	}
	return out
}
