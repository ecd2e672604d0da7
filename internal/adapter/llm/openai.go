package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"newsrag/internal/adapter/oaicompat"
	"newsrag/internal/adapter/retry"
	"newsrag/internal/domain"
	"newsrag/internal/metrics"
)

const DefaultTimeout = 120 * time.Second

// Config holds the chat completion client settings.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	Timeout     time.Duration
	Retry       retry.Policy
	HTTPClient  *http.Client
	Logger      *zap.Logger
}

// OpenAILLM generates text through an OpenAI-compatible /chat/completions
// endpoint.
type OpenAILLM struct {
	client      *openai.Client
	model       string
	temperature float32
	timeout     time.Duration
	policy      retry.Policy
	logger      *zap.Logger
}

func NewOpenAILLM(cfg Config) (*OpenAILLM, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("llm: API key is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("llm: model is required")
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

	l := &OpenAILLM{
		client: oaicompat.NewClient(oaicompat.Config{
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.BaseURL,
			HTTPClient: cfg.HTTPClient,
		}),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		timeout:     cfg.Timeout,
		policy:      cfg.Retry,
		logger:      cfg.Logger,
	}
	l.policy.Retryable = func(err error) bool {
		var synthErr *domain.SynthesisError
		return errors.As(err, &synthErr) && synthErr.Retryable
	}
	l.policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		l.logger.Warn("completion request failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
	}
	return l, nil
}

func (l *OpenAILLM) GenerateWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: systemPrompt})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: userPrompt})

	var text string
	err := retry.Do(ctx, l.policy, func(ctx context.Context) error {
		var err error
		text, err = l.complete(ctx, messages)
		return err
	})
	return text, err
}

func (l *OpenAILLM) complete(ctx context.Context, messages []openai.ChatCompletionMessage) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	start := time.Now()
	resp, err := l.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model:       l.model,
		Messages:    messages,
		Temperature: l.temperature,
	})
	duration := time.Since(start)

	if err != nil {
		metrics.LLMRequestsTotal.WithLabelValues(l.model, "error").Inc()
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		f := oaicompat.Classify(err)
		if errors.Is(err, context.DeadlineExceeded) {
			f.Err = fmt.Errorf("timed out after %s", l.timeout)
		}
		return "", &domain.SynthesisError{StatusCode: f.StatusCode, Retryable: f.Retryable, Err: f.Err}
	}

	metrics.LLMRequestsTotal.WithLabelValues(l.model, "success").Inc()
	metrics.LLMRequestDuration.WithLabelValues(l.model).Observe(duration.Seconds())

	if len(resp.Choices) == 0 {
		return "", &domain.SynthesisError{Err: errors.New("no choices in response")}
	}

	l.logger.Debug("completion finished",
		zap.String("model", l.model),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		zap.Duration("took", duration),
	)
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func (l *OpenAILLM) ModelName() string {
	return l.model
}
