package usecase

import (
	"newsrag/internal/domain"
)

// ChunkSource lists the indexed chunks of one article in document order.
type ChunkSource interface {
	ChunksFor(url string) []domain.Chunk
}

// neighbourDiscount scales the score a neighbour inherits from its hit.
const neighbourDiscount = 0.9

// ContextExpander adds the chunks surrounding each retrieval hit, so an
// answer sees the sentence before and after a match rather than a fragment.
type ContextExpander struct {
	source ChunkSource
	window int // neighbours on each side of a hit
}

func NewContextExpander(source ChunkSource, window int) *ContextExpander {
	return &ContextExpander{source: source, window: window}
}

// Expand returns results followed by their not-yet-included neighbours.
func (e *ContextExpander) Expand(results []domain.ScoredChunk) []domain.ScoredChunk {
	if e.window <= 0 || len(results) == 0 {
		return results
	}

	included := make(map[string]bool, len(results))
	for _, r := range results {
		included[r.Chunk.ID] = true
	}

	byURL := make(map[string][]domain.Chunk)
	expanded := make([]domain.ScoredChunk, 0, len(results)*(1+2*e.window))
	expanded = append(expanded, results...)

	for _, r := range results {
		chunks, ok := byURL[r.Chunk.URL]
		if !ok {
			chunks = e.source.ChunksFor(r.Chunk.URL)
			byURL[r.Chunk.URL] = chunks
		}

		for _, c := range chunks {
			d := c.Seq - r.Chunk.Seq
			if d == 0 || d < -e.window || d > e.window || included[c.ID] {
				continue
			}
			included[c.ID] = true
			expanded = append(expanded, domain.ScoredChunk{
				Chunk: c,
				Score: r.Score * neighbourDiscount,
			})
		}
	}

	return expanded
}
