package oaicompat

import (
	"context"
	"errors"
	"net/url"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		status    int
		retryable bool
	}{
		{"rate limited", &openai.APIError{HTTPStatusCode: 429, Message: "slow down"}, 429, true},
		{"quota", &openai.APIError{HTTPStatusCode: 429, Message: "You exceeded your current quota"}, 429, false},
		{"quota code", &openai.APIError{HTTPStatusCode: 429, Message: "nope", Code: "insufficient_quota"}, 429, false},
		{"server", &openai.APIError{HTTPStatusCode: 503, Message: "unavailable"}, 503, true},
		{"bad request", &openai.APIError{HTTPStatusCode: 400, Message: "bad input"}, 400, false},
		{"unauthorized", &openai.APIError{HTTPStatusCode: 401, Message: "bad key"}, 401, false},
		{"forbidden", &openai.APIError{HTTPStatusCode: 403, Message: "denied"}, 403, false},
		{"not found", &openai.APIError{HTTPStatusCode: 404, Message: "no model"}, 404, false},
		{"gateway html", &openai.RequestError{HTTPStatusCode: 502, Body: []byte("<html>bad gateway</html>")}, 502, true},
		{"network", &url.Error{Op: "Post", URL: "http://x", Err: errors.New("connection refused")}, 0, true},
		{"deadline", context.DeadlineExceeded, 0, true},
		{"other", errors.New("decode failure"), 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := Classify(tt.err)
			assert.Equal(t, tt.status, f.StatusCode)
			assert.Equal(t, tt.retryable, f.Retryable)
			assert.Error(t, f.Err)
		})
	}
}

func TestClassifyExtractsDetail(t *testing.T) {
	f := Classify(&openai.RequestError{HTTPStatusCode: 400, Body: []byte(`{"detail":"input too long"}`)})
	assert.Contains(t, f.Err.Error(), "input too long")
}
