package cli

import (
	"fmt"

	"go.uber.org/zap"

	"newsrag/config"
	"newsrag/internal/adapter/chunker"
	"newsrag/internal/adapter/embedding"
	"newsrag/internal/adapter/llm"
	"newsrag/internal/adapter/loader"
	"newsrag/internal/adapter/retry"
	"newsrag/internal/port"
	"newsrag/internal/usecase"
)

// newPipeline wires the configured adapters into a Pipeline.
func newPipeline(cfg *config.Config, logger *zap.Logger, progress usecase.ProgressFunc) (*usecase.Pipeline, error) {
	embedder, err := newEmbedder(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	model, err := newLLM(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm: %w", err)
	}

	deps := usecase.Deps{
		Loader: loader.NewWebLoader(loader.Options{
			Timeout:   cfg.Loader.Timeout,
			Workers:   cfg.Loader.Workers,
			MaxBytes:  cfg.Loader.MaxBytes,
			UserAgent: cfg.Loader.UserAgent,
			Excludes:  cfg.Loader.Excludes,
			Logger:    logger.Named("loader"),
		}),
		Chunker:  chunker.NewRecursiveChunker(cfg.Index.ChunkSize, nil),
		Embedder: embedder,
		LLM:      model,
		Progress: progress,
		Logger:   logger.Named("pipeline"),
	}
	return usecase.NewPipeline(deps, usecase.Options{
		SnapshotDir:        cfg.SnapshotPath(),
		ChunkSize:          cfg.Index.ChunkSize,
		LockTimeout:        cfg.Storage.LockTimeout,
		TopK:               cfg.Retrieve.TopK,
		MinScore:           cfg.Retrieve.MinScore,
		MMRLambda:          cfg.Retrieve.MMRLambda,
		NeighborWindow:     cfg.Retrieve.NeighborWindow,
		HyDE:               cfg.Retrieve.HyDE,
		ContextTokenBudget: cfg.Synth.ContextTokenBudget,
		CacheSize:          cfg.Retrieve.CacheSize,
		CacheTTL:           cfg.Retrieve.CacheTTL,
	})
}

func retryPolicy(cfg *config.Config) retry.Policy {
	return retry.Policy{
		MaxAttempts:    cfg.Retry.MaxAttempts,
		InitialBackoff: cfg.Retry.InitialBackoff,
		MaxBackoff:     cfg.Retry.MaxBackoff,
		Multiplier:     cfg.Retry.Multiplier,
		Jitter:         cfg.Retry.Jitter,
	}
}

func newEmbedder(cfg *config.Config, logger *zap.Logger) (port.Embedder, error) {
	switch cfg.Embedding.Provider {
	case "openai", "gemini":
		key, err := config.APIKey(cfg.Embedding.APIKeyEnv)
		if err != nil {
			return nil, err
		}
		e, err := embedding.NewOpenAIEmbedder(embedding.Config{
			APIKey:            key,
			BaseURL:           cfg.Embedding.BaseURL,
			Model:             cfg.Embedding.Model,
			Dimension:         cfg.Embedding.Dimension,
			BatchSize:         cfg.Embedding.BatchSize,
			Workers:           cfg.Embedding.Workers,
			Timeout:           cfg.Embedding.Timeout,
			RequestsPerSecond: cfg.Embedding.RequestsPerSecond,
			Retry:             retryPolicy(cfg),
			Logger:            logger.Named("embedding"),
		})
		if err != nil {
			return nil, err
		}
		return e, nil
	case "mock":
		dim := cfg.Embedding.Dimension
		if dim <= 0 {
			dim = embedding.DefaultMockDimension
		}
		return embedding.NewMockEmbedder(dim), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Embedding.Provider)
	}
}

func newLLM(cfg *config.Config, logger *zap.Logger) (port.LLM, error) {
	switch cfg.LLM.Provider {
	case "openai", "gemini":
		key, err := config.APIKey(cfg.LLM.APIKeyEnv)
		if err != nil {
			return nil, err
		}
		l, err := llm.NewOpenAILLM(llm.Config{
			APIKey:      key,
			BaseURL:     cfg.LLM.BaseURL,
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
			Timeout:     cfg.LLM.Timeout,
			Retry:       retryPolicy(cfg),
			Logger:      logger.Named("llm"),
		})
		if err != nil {
			return nil, err
		}
		return l, nil
	case "mock":
		return llm.NewMockLLM(), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", cfg.LLM.Provider)
	}
}
