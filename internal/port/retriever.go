package port

import (
	"context"

	"newsrag/internal/domain"
)

// Retriever returns the chunks most relevant to a question.
type Retriever interface {
	Retrieve(ctx context.Context, question string) ([]domain.ScoredChunk, error)
}

// VectorSearcher is the read side of a vector index.
type VectorSearcher interface {
	Search(query []float32, k int) ([]domain.ScoredChunk, error)
	Dimension() int
}
