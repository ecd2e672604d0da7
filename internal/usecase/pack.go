package usecase

import (
	"sort"

	"newsrag/internal/adapter/analyzer"
	"newsrag/internal/domain"
)

// ContextPacker selects retrieved chunks for a prompt under a token budget.
type ContextPacker struct {
	tokenizer *analyzer.Tokenizer
}

func NewContextPacker(tokenizer *analyzer.Tokenizer) *ContextPacker {
	return &ContextPacker{tokenizer: tokenizer}
}

// Pack keeps chunks in score order until the budget is spent, then merges
// neighbouring chunks of the same article. The best chunk is always kept,
// truncated if it alone exceeds the budget.
func (p *ContextPacker) Pack(chunks []domain.ScoredChunk, budget int) []domain.ScoredChunk {
	if len(chunks) == 0 {
		return nil
	}

	ranked := make([]domain.ScoredChunk, len(chunks))
	copy(ranked, chunks)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})

	if budget <= 0 {
		return p.mergeAdjacentChunks(ranked)
	}

	selected := make([]domain.ScoredChunk, 0, len(ranked))
	used := 0
	for i, c := range ranked {
		tokens := p.tokenizer.CountTokens(c.Chunk.Text)
		if i == 0 && tokens > budget {
			c.Chunk.Text = p.tokenizer.Truncate(c.Chunk.Text, budget)
			selected = append(selected, c)
			break
		}
		if used+tokens > budget {
			continue
		}
		selected = append(selected, c)
		used += tokens
	}

	return p.mergeAdjacentChunks(selected)
}

// UsedTokens is the token estimate of a packed context.
func (p *ContextPacker) UsedTokens(chunks []domain.ScoredChunk) int {
	total := 0
	for _, c := range chunks {
		total += p.tokenizer.CountTokens(c.Chunk.Text)
	}
	return total
}

// mergeAdjacentChunks joins chunks with consecutive Seq from the same URL.
// Merged groups keep the best score and are returned best first.
func (p *ContextPacker) mergeAdjacentChunks(chunks []domain.ScoredChunk) []domain.ScoredChunk {
	if len(chunks) <= 1 {
		return chunks
	}

	byURL := make(map[string][]domain.ScoredChunk)
	var urls []string
	for _, c := range chunks {
		if _, ok := byURL[c.Chunk.URL]; !ok {
			urls = append(urls, c.Chunk.URL)
		}
		byURL[c.Chunk.URL] = append(byURL[c.Chunk.URL], c)
	}

	result := make([]domain.ScoredChunk, 0, len(chunks))
	for _, url := range urls {
		docChunks := byURL[url]
		sort.Slice(docChunks, func(i, j int) bool {
			return docChunks[i].Chunk.Seq < docChunks[j].Chunk.Seq
		})

		i := 0
		for i < len(docChunks) {
			merged := docChunks[i]
			last := merged.Chunk.Seq
			j := i + 1
			for j < len(docChunks) && docChunks[j].Chunk.Seq == last+1 {
				next := docChunks[j]
				// Chunks partition the article, so plain concatenation
				// restores the original text.
				merged.Chunk.Text += next.Chunk.Text
				merged.Score = max(merged.Score, next.Score)
				last = next.Chunk.Seq
				j++
			}
			result = append(result, merged)
			i = j
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Score > result[j].Score
	})
	return result
}
