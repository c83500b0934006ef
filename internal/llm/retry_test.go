package llm

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNormalizeRetryPolicy(t *testing.T) {
	t.Parallel()

	got := NormalizeRetryPolicy(RetryPolicy{})
	if got.MaxRetries != defaultRetryMaxRetries {
		t.Fatalf("MaxRetries = %d, want %d", got.MaxRetries, defaultRetryMaxRetries)
	}
	if got.BaseDelay != defaultRetryBaseDelay || got.MaxDelay != defaultRetryMaxDelay {
		t.Fatalf("delays = %v/%v, want defaults", got.BaseDelay, got.MaxDelay)
	}

	got = NormalizeRetryPolicy(RetryPolicy{MaxRetries: -1})
	if got.MaxRetries != 0 {
		t.Fatalf("MaxRetries = %d, want 0 for explicit disable", got.MaxRetries)
	}

	got = NormalizeRetryPolicy(RetryPolicy{BaseDelay: time.Second, MaxDelay: time.Millisecond})
	if got.MaxDelay < got.BaseDelay {
		t.Fatalf("MaxDelay = %v below BaseDelay %v", got.MaxDelay, got.BaseDelay)
	}
}

func TestMarkRetryable(t *testing.T) {
	t.Parallel()

	base := errors.New("boom")
	if IsRetryableError(base) {
		t.Fatal("unmarked error reported retryable")
	}
	marked := MarkRetryable(base)
	if !IsRetryableError(marked) {
		t.Fatal("marked error not reported retryable")
	}
	if !errors.Is(marked, base) {
		t.Fatal("marked error lost its cause")
	}
	if MarkRetryable(nil) != nil {
		t.Fatal("MarkRetryable(nil) != nil")
	}
}

func TestComputeBackoffDelayCapped(t *testing.T) {
	t.Parallel()

	policy := RetryPolicy{BaseDelay: 100 * time.Millisecond, MaxDelay: 400 * time.Millisecond, MaxRetries: 5}
	for attempt := 0; attempt < 8; attempt++ {
		delay := ComputeBackoffDelay(policy, attempt)
		// Jitter spans 0.8x to 1.2x.
		if delay > time.Duration(float64(policy.MaxDelay)*1.2) {
			t.Fatalf("attempt %d delay = %v, above jittered cap", attempt, delay)
		}
		if delay <= 0 {
			t.Fatalf("attempt %d delay = %v, want positive", attempt, delay)
		}
	}
}

func TestGenerateWithRetryStopsOnPermanentError(t *testing.T) {
	t.Parallel()

	calls := 0
	permanent := errors.New("bad request")
	_, err := generateWithRetry(context.Background(), RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		func(context.Context) (string, error) {
			calls++
			return "", permanent
		})
	if !errors.Is(err, permanent) {
		t.Fatalf("error = %v, want permanent cause", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 for permanent failure", calls)
	}
}

func TestGenerateWithRetryRetriesMarkedErrors(t *testing.T) {
	t.Parallel()

	calls := 0
	text, err := generateWithRetry(context.Background(), RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		func(context.Context) (string, error) {
			calls++
			if calls < 3 {
				return "", MarkRetryable(errors.New("transient"))
			}
			return "recovered", nil
		})
	if err != nil {
		t.Fatalf("error = %v, want nil", err)
	}
	if text != "recovered" || calls != 3 {
		t.Fatalf("text = %q after %d calls, want recovered after 3", text, calls)
	}
}

func TestGenerateWithRetryHonorsCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := generateWithRetry(ctx, RetryPolicy{}, func(context.Context) (string, error) {
		t.Fatal("attempt ran under canceled context")
		return "", nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}

func TestMockReplaysScript(t *testing.T) {
	t.Parallel()

	mock := &Mock{Responses: []string{"one", "two"}}
	for i, want := range []string{"one", "two", "two"} {
		got, err := mock.Generate(context.Background(), &Request{Prompt: "p"})
		if err != nil {
			t.Fatalf("call %d error = %v", i, err)
		}
		if got != want {
			t.Fatalf("call %d = %q, want %q", i, got, want)
		}
	}
	if mock.Calls() != 3 {
		t.Fatalf("Calls() = %d, want 3", mock.Calls())
	}
}

func TestMockErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("rejected")
	mock := &Mock{Errs: []error{boom}}
	if _, err := mock.Generate(context.Background(), &Request{Prompt: "p"}); !errors.Is(err, boom) {
		t.Fatalf("error = %v, want scripted failure", err)
	}
}
