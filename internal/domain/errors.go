package domain

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind is the stable, user-facing name of an error category.
type ErrorKind string

const (
	KindFetch             ErrorKind = "fetch"
	KindEmbedding         ErrorKind = "embedding"
	KindDimensionMismatch ErrorKind = "dimension_mismatch"
	KindSynthesis         ErrorKind = "synthesis"
	KindNoIndex           ErrorKind = "no_index"
	KindCanceled          ErrorKind = "canceled"
	KindInvalidInput      ErrorKind = "invalid_input"
	KindInternal          ErrorKind = "internal"
)

// ErrNoIndex is returned when no snapshot has been built yet.
var ErrNoIndex = errors.New("no index found: run build first")

// FetchError reports a single URL that could not be loaded.
type FetchError struct {
	URL    string `json:"url"`
	Reason string `json:"reason"`
	Err    error  `json:"-"`
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %s", e.URL, e.Reason)
}

func (e *FetchError) Unwrap() error { return e.Err }

// EmbeddingServiceError wraps a failed call to the embedding provider.
type EmbeddingServiceError struct {
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *EmbeddingServiceError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("embedding service error (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("embedding service error: %v", e.Err)
}

func (e *EmbeddingServiceError) Unwrap() error { return e.Err }

type DimensionMismatchError struct {
	Expected int
	Actual   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// SynthesisError wraps a failed LLM call during answer synthesis.
type SynthesisError struct {
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *SynthesisError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("answer synthesis failed (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("answer synthesis failed: %v", e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

// NoIndexError carries the location that was searched for a snapshot.
type NoIndexError struct {
	Path string
}

func (e *NoIndexError) Error() string {
	return fmt.Sprintf("%v (looked in %s)", ErrNoIndex, e.Path)
}

func (e *NoIndexError) Unwrap() error { return ErrNoIndex }

// StageError records the build stage at which a pipeline aborted.
type StageError struct {
	Stage   Stage     `json:"stage"`
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Stage, e.Message)
}

func (e *StageError) Unwrap() error { return e.Err }

// KindOf maps an error to its ErrorKind.
func KindOf(err error) ErrorKind {
	var (
		fetchErr *FetchError
		embErr   *EmbeddingServiceError
		dimErr   *DimensionMismatchError
		synthErr *SynthesisError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoIndex):
		return KindNoIndex
	case errors.As(err, &dimErr):
		return KindDimensionMismatch
	case errors.As(err, &embErr):
		return KindEmbedding
	case errors.As(err, &synthErr):
		return KindSynthesis
	case errors.As(err, &fetchErr):
		return KindFetch
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	default:
		return KindInternal
	}
}
