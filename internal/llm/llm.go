// Package llm wraps the external text-generation capability. The engine
// only needs prompt-in, text-out; providers may fail for any reason and
// callers treat every failure as "no answer".
package llm

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrMissingAPIKey indicates missing provider credentials.
	ErrMissingAPIKey = errors.New("missing api key")
	// ErrInvalidRequest indicates missing or malformed request input.
	ErrInvalidRequest = errors.New("invalid llm request")
	// ErrEmptyResponse indicates the provider answered with no usable text.
	ErrEmptyResponse = errors.New("empty model response")
)

// Request is the provider-agnostic generation request.
type Request struct {
	Model     string
	System    string
	Prompt    string
	MaxTokens int
	Retry     RetryPolicy
}

// Provider produces one completion for a request. Implementations must
// honor ctx cancellation and never panic on malformed input.
type Provider interface {
	Generate(ctx context.Context, req *Request) (string, error)
}

// RetryPolicy configures retry/backoff behavior for retryable failures.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}
