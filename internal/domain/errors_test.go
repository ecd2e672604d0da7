package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, ""},
		{"no index sentinel", ErrNoIndex, KindNoIndex},
		{"no index typed", &NoIndexError{Path: "/tmp/x"}, KindNoIndex},
		{"dimension", fmt.Errorf("load: %w", &DimensionMismatchError{Expected: 3, Actual: 4}), KindDimensionMismatch},
		{"embedding", &EmbeddingServiceError{StatusCode: 429, Retryable: true, Err: errors.New("slow down")}, KindEmbedding},
		{"synthesis", &SynthesisError{Err: errors.New("boom")}, KindSynthesis},
		{"fetch", &FetchError{URL: "https://a", Reason: "timeout"}, KindFetch},
		{"canceled", fmt.Errorf("wrapped: %w", context.Canceled), KindCanceled},
		{"other", errors.New("disk full"), KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestStageErrorUnwrap(t *testing.T) {
	cause := &EmbeddingServiceError{StatusCode: 401, Err: errors.New("bad key")}
	err := &StageError{Stage: StageEmbedding, Kind: KindEmbedding, Message: cause.Error(), Err: cause}

	var target *EmbeddingServiceError
	assert.True(t, errors.As(err, &target))
	assert.Equal(t, 401, target.StatusCode)
	assert.Contains(t, err.Error(), "embedding failed")
}
