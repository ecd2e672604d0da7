package retriever

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"newsrag/internal/domain"
	"newsrag/internal/port"
)

// DefaultTopK is how many chunks a question retrieves unless configured.
const DefaultTopK = 4

// mmrOverfetch widens the candidate pool MMR chooses from.
const mmrOverfetch = 3

type Options struct {
	TopK      int
	MinScore  float64
	MMRLambda float64 // 0 or 1 disables diversification
	Logger    *zap.Logger
}

// SemanticRetriever embeds a question and searches a vector index with it.
type SemanticRetriever struct {
	searcher port.VectorSearcher
	embedder port.Embedder
	topK     int
	minScore float64
	mmr      *MMRReranker
	logger   *zap.Logger
}

func NewSemanticRetriever(searcher port.VectorSearcher, embedder port.Embedder, opts Options) *SemanticRetriever {
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	r := &SemanticRetriever{
		searcher: searcher,
		embedder: embedder,
		topK:     opts.TopK,
		minScore: opts.MinScore,
		logger:   opts.Logger,
	}
	if opts.MMRLambda > 0 && opts.MMRLambda < 1 {
		r.mmr = NewMMRReranker(opts.MMRLambda)
	}
	return r
}

func (r *SemanticRetriever) Retrieve(ctx context.Context, question string) ([]domain.ScoredChunk, error) {
	if r.searcher == nil || r.embedder == nil {
		return nil, errors.New("semantic search not available: no index or embedder")
	}

	embeddings, err := r.embedder.Embed(ctx, []string{question})
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}
	if len(embeddings) != 1 {
		return nil, &domain.EmbeddingServiceError{Err: fmt.Errorf("expected 1 embedding, got %d", len(embeddings))}
	}

	k := r.topK
	if r.mmr != nil {
		k *= mmrOverfetch
	}

	results, err := r.searcher.Search(embeddings[0], k)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	if r.minScore > 0 {
		kept := results[:0:0]
		for _, res := range results {
			if res.Score >= r.minScore {
				kept = append(kept, res)
			}
		}
		results = kept
	}

	if r.mmr != nil {
		results = r.mmr.Rerank(results, r.topK)
	} else if len(results) > r.topK {
		results = results[:r.topK]
	}

	r.logger.Debug("retrieved chunks",
		zap.Int("candidates", k),
		zap.Int("returned", len(results)),
	)
	return results, nil
}
