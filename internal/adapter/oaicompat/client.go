// Package oaicompat holds the pieces shared by clients of OpenAI-compatible
// endpoints: client construction and error classification.
package oaicompat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Config holds the connection settings for an OpenAI-compatible endpoint.
type Config struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient creates a go-openai client pointed at cfg.BaseURL.
func NewClient(cfg Config) *openai.Client {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}
	return openai.NewClientWithConfig(clientCfg)
}

// Failure is a classified API error.
type Failure struct {
	StatusCode int
	Retryable  bool
	Err        error
}

// Classify maps an error returned by the go-openai client to a Failure.
// Rate limits, server errors, and transport errors are retryable; other
// 4xx responses and exhausted quotas are not.
func Classify(err error) Failure {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if apiErr.Code != nil {
			msg += " " + fmt.Sprint(apiErr.Code)
		}
		return Failure{
			StatusCode: apiErr.HTTPStatusCode,
			Retryable:  retryableStatus(apiErr.HTTPStatusCode, msg),
			Err:        fmt.Errorf("API error %d: %s", apiErr.HTTPStatusCode, apiErr.Message),
		}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		detail := extractDetail(reqErr.Body)
		if detail == "" {
			detail = truncate(string(reqErr.Body), 200)
		}
		return Failure{
			StatusCode: reqErr.HTTPStatusCode,
			Retryable:  retryableStatus(reqErr.HTTPStatusCode, detail),
			Err:        fmt.Errorf("API error %d: %s", reqErr.HTTPStatusCode, detail),
		}
	}

	var (
		urlErr *url.Error
		netErr net.Error
	)
	if errors.As(err, &urlErr) || errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return Failure{Retryable: true, Err: err}
	}

	return Failure{Err: err}
}

func retryableStatus(status int, message string) bool {
	switch {
	case status == http.StatusTooManyRequests:
		return !IsQuotaExhausted(message)
	case status == http.StatusRequestTimeout:
		return true
	case status >= 500:
		return true
	default:
		return false
	}
}

// IsQuotaExhausted reports whether a 429 message describes a spent quota
// rather than a transient rate limit.
func IsQuotaExhausted(message string) bool {
	m := strings.ToLower(message)
	return strings.Contains(m, "quota") || strings.Contains(m, "billing")
}

// extractDetail pulls a message out of the JSON error bodies that do not
// follow the OpenAI shape.
func extractDetail(body []byte) string {
	var parsed struct {
		Detail string `json:"detail"`
		Error  struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &parsed) != nil {
		return ""
	}
	if parsed.Detail != "" {
		return parsed.Detail
	}
	return parsed.Error.Message
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
