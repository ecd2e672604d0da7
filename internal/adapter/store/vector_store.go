package store

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"newsrag/internal/domain"
)

// Index is an immutable in-memory vector index. Search is brute-force
// cosine similarity, which is plenty for the few thousand chunks a news
// corpus produces.
type Index struct {
	info    domain.IndexInfo
	entries []domain.IndexEntry
	norms   []float64
}

// Build creates a fresh index. Every vector must have dim components.
func Build(dim int, model string, entries []domain.IndexEntry) (*Index, error) {
	if dim <= 0 && len(entries) > 0 {
		return nil, fmt.Errorf("invalid dimension %d", dim)
	}
	for _, e := range entries {
		if len(e.Vector) != dim {
			return nil, &domain.DimensionMismatchError{Expected: dim, Actual: len(e.Vector)}
		}
	}

	info := domain.IndexInfo{
		BuildID:   uuid.NewString(),
		Model:     model,
		Dimension: dim,
		Sources:   sourcesOf(entries),
		Chunks:    len(entries),
		CreatedAt: time.Now().UTC(),
	}
	return newIndex(info, entries), nil
}

func newIndex(info domain.IndexInfo, entries []domain.IndexEntry) *Index {
	norms := make([]float64, len(entries))
	for i, e := range entries {
		norms[i] = norm(e.Vector)
	}
	return &Index{info: info, entries: entries, norms: norms}
}

// WithChunkSize records the chunk size the entries were produced with.
func (x *Index) WithChunkSize(n int) *Index {
	x.info.ChunkSize = n
	return x
}

// Search returns the k entries most similar to query, highest score first.
// Equal scores keep insertion order.
func (x *Index) Search(query []float32, k int) ([]domain.ScoredChunk, error) {
	if len(x.entries) > 0 && len(query) != x.info.Dimension {
		return nil, &domain.DimensionMismatchError{Expected: x.info.Dimension, Actual: len(query)}
	}
	if k <= 0 || len(x.entries) == 0 {
		return nil, nil
	}

	qNorm := norm(query)
	scores := make([]domain.ScoredChunk, len(x.entries))
	for i, e := range x.entries {
		scores[i] = domain.ScoredChunk{
			Chunk:  e.Chunk,
			Score:  cosine(query, e.Vector, qNorm, x.norms[i]),
			Vector: e.Vector,
		}
	}

	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].Score > scores[j].Score
	})

	if k > len(scores) {
		k = len(scores)
	}
	return scores[:k], nil
}

func (x *Index) Dimension() int {
	return x.info.Dimension
}

func (x *Index) Len() int {
	return len(x.entries)
}

func (x *Index) Info() domain.IndexInfo {
	info := x.info
	info.Sources = append([]string(nil), x.info.Sources...)
	return info
}

// Entries returns the indexed entries in insertion order.
func (x *Index) Entries() []domain.IndexEntry {
	return x.entries
}

// ChunksFor returns the chunks of one source URL in document order.
func (x *Index) ChunksFor(url string) []domain.Chunk {
	var out []domain.Chunk
	for _, e := range x.entries {
		if e.Chunk.URL == url {
			out = append(out, e.Chunk)
		}
	}
	return out
}

func sourcesOf(entries []domain.IndexEntry) []string {
	seen := make(map[string]bool)
	var urls []string
	for _, e := range entries {
		if !seen[e.Chunk.URL] {
			seen[e.Chunk.URL] = true
			urls = append(urls, e.Chunk.URL)
		}
	}
	return urls
}

func norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func cosine(a, b []float32, normA, normB float64) float64 {
	if normA == 0 || normB == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (normA * normB)
}

// CosineSimilarity calculates the cosine similarity between two vectors.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	return cosine(a, b, norm(a), norm(b))
}
