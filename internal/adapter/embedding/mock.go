package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"sync/atomic"

	"newsrag/internal/adapter/analyzer"
)

const DefaultMockDimension = 256

// MockEmbedder produces deterministic hashed bag-of-words vectors. Texts that
// share terms land near each other, which is enough for offline runs and
// tests.
type MockEmbedder struct {
	dimension int
	tokenizer *analyzer.Tokenizer
	calls     atomic.Int64
}

func NewMockEmbedder(dimension int) *MockEmbedder {
	if dimension <= 0 {
		dimension = DefaultMockDimension
	}
	return &MockEmbedder{
		dimension: dimension,
		tokenizer: analyzer.NewTokenizer(false),
	}
}

func (e *MockEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.calls.Add(1)

	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		embeddings[i] = e.vector(text)
	}
	return embeddings, nil
}

func (e *MockEmbedder) vector(text string) []float32 {
	v := make([]float32, e.dimension)
	for _, token := range e.tokenizer.Tokenize(text) {
		h := fnv.New64a()
		h.Write([]byte(token))
		sum := h.Sum64()
		sign := float32(1)
		if sum&1 == 1 {
			sign = -1
		}
		v[(sum>>1)%uint64(e.dimension)] += sign
	}

	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return v
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range v {
		v[i] *= scale
	}
	return v
}

// Calls returns how many Embed calls were made.
func (e *MockEmbedder) Calls() int64 {
	return e.calls.Load()
}

func (e *MockEmbedder) Dimension() int {
	return e.dimension
}

func (e *MockEmbedder) ModelName() string {
	return "mock"
}
