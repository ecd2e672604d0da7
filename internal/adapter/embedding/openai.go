package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"newsrag/internal/adapter/oaicompat"
	"newsrag/internal/adapter/retry"
	"newsrag/internal/domain"
	"newsrag/internal/metrics"
)

const (
	DefaultBatchSize = 100
	DefaultWorkers   = 2
	DefaultTimeout   = 60 * time.Second
)

// Config holds the embedding client settings.
type Config struct {
	APIKey    string
	BaseURL   string
	Model     string
	Dimension int // 0 = learn from the first response
	BatchSize int
	Workers   int
	Timeout   time.Duration
	// RequestsPerSecond caps outgoing calls; 0 disables the limiter.
	RequestsPerSecond float64
	Retry             retry.Policy
	HTTPClient        *http.Client
	Logger            *zap.Logger
}

// OpenAIEmbedder embeds text through any OpenAI-compatible /embeddings
// endpoint.
type OpenAIEmbedder struct {
	client    *openai.Client
	model     string
	batchSize int
	workers   int
	timeout   time.Duration
	limiter   *rate.Limiter
	policy    retry.Policy
	logger    *zap.Logger

	mu        sync.Mutex
	dimension int
}

func NewOpenAIEmbedder(cfg Config) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("embedding: API key is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("embedding: model is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultPolicy()
	}

	e := &OpenAIEmbedder{
		client: oaicompat.NewClient(oaicompat.Config{
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.BaseURL,
			HTTPClient: cfg.HTTPClient,
		}),
		model:     cfg.Model,
		batchSize: cfg.BatchSize,
		workers:   cfg.Workers,
		timeout:   cfg.Timeout,
		policy:    cfg.Retry,
		logger:    cfg.Logger,
		dimension: cfg.Dimension,
	}
	if cfg.RequestsPerSecond > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	e.policy.Retryable = func(err error) bool {
		var svcErr *domain.EmbeddingServiceError
		return errors.As(err, &svcErr) && svcErr.Retryable
	}
	e.policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		e.logger.Warn("embedding request failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
	}
	return e, nil
}

// Embed returns one vector per text in input order. Batches run with bounded
// parallelism; the first failing batch cancels the rest.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)

	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))
		g.Go(func() error {
			vectors, err := e.embedBatch(gctx, texts[start:end])
			if err != nil {
				return err
			}
			copy(out[start:end], vectors)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		// errgroup cancels gctx on the first failure; report the caller's
		// cancellation rather than the sibling fallout.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return out, nil
}

func (e *OpenAIEmbedder) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	var vectors [][]float32
	err := retry.Do(ctx, e.policy, func(ctx context.Context) error {
		var err error
		vectors, err = e.call(ctx, batch)
		return err
	})
	if err != nil {
		return nil, err
	}
	return vectors, e.checkDimension(vectors)
}

func (e *OpenAIEmbedder) call(ctx context.Context, batch []string) ([][]float32, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	req := openai.EmbeddingRequest{
		Input:          batch,
		Model:          openai.EmbeddingModel(e.model),
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
	}

	start := time.Now()
	resp, err := e.client.CreateEmbeddings(callCtx, req)
	duration := time.Since(start)

	if err != nil {
		metrics.EmbeddingRequestsTotal.WithLabelValues(e.model, "error").Inc()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		f := oaicompat.Classify(err)
		if errors.Is(err, context.DeadlineExceeded) {
			f.Err = fmt.Errorf("timed out after %s", e.timeout)
		}
		return nil, &domain.EmbeddingServiceError{StatusCode: f.StatusCode, Retryable: f.Retryable, Err: f.Err}
	}

	metrics.EmbeddingRequestsTotal.WithLabelValues(e.model, "success").Inc()
	metrics.EmbeddingRequestDuration.WithLabelValues(e.model).Observe(duration.Seconds())

	if len(resp.Data) != len(batch) {
		return nil, &domain.EmbeddingServiceError{
			Err: fmt.Errorf("expected %d embeddings, got %d", len(batch), len(resp.Data)),
		}
	}

	vectors := make([][]float32, len(batch))
	for _, data := range resp.Data {
		if data.Index < 0 || data.Index >= len(vectors) || vectors[data.Index] != nil {
			return nil, &domain.EmbeddingServiceError{
				Err: fmt.Errorf("invalid embedding index %d", data.Index),
			}
		}
		vectors[data.Index] = data.Embedding
	}

	e.logger.Debug("embedded batch",
		zap.Int("texts", len(batch)),
		zap.Duration("took", duration),
	)
	return vectors, nil
}

// checkDimension verifies every vector against the known dimension, learning
// it from the first response when it was not configured.
func (e *OpenAIEmbedder) checkDimension(vectors [][]float32) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, v := range vectors {
		if e.dimension == 0 {
			e.dimension = len(v)
		}
		if len(v) != e.dimension {
			return &domain.DimensionMismatchError{Expected: e.dimension, Actual: len(v)}
		}
	}
	return nil
}

func (e *OpenAIEmbedder) Dimension() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dimension
}

func (e *OpenAIEmbedder) ModelName() string {
	return e.model
}
