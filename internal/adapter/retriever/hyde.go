package retriever

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"newsrag/internal/domain"
	"newsrag/internal/port"
)

const hydeSystemPrompt = `You are a news writer. Given a question about current events or markets,
write a short passage from a news article that would answer it.
Keep it realistic and concise (100-150 words). Do not explain, just write the passage.`

// HyDERetriever searches with a hypothetical answer written by the model
// alongside the question.
type HyDERetriever struct {
	llm    port.LLM
	base   port.Retriever
	logger *zap.Logger
}

func NewHyDERetriever(llm port.LLM, base port.Retriever, logger *zap.Logger) *HyDERetriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HyDERetriever{llm: llm, base: base, logger: logger}
}

// Retrieve falls back to the plain question when the model cannot produce a
// passage.
func (r *HyDERetriever) Retrieve(ctx context.Context, question string) ([]domain.ScoredChunk, error) {
	hypothetical, err := r.generateHypothetical(ctx, question)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		r.logger.Warn("hypothetical passage failed, searching with the question only", zap.Error(err))
		return r.base.Retrieve(ctx, question)
	}
	if hypothetical == "" {
		return r.base.Retrieve(ctx, question)
	}
	return r.base.Retrieve(ctx, question+"\n\n"+hypothetical)
}

func (r *HyDERetriever) generateHypothetical(ctx context.Context, question string) (string, error) {
	userPrompt := fmt.Sprintf("Question: %s\n\nWrite a passage that answers this:", question)
	out, err := r.llm.GenerateWithSystem(ctx, hydeSystemPrompt, userPrompt)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}
