package llm

import (
	"context"
	"sync"
	"time"
)

// Mock replays scripted responses in order for deterministic tests. Once
// the script is exhausted the last item repeats.
type Mock struct {
	Responses []string
	Errs      []error
	Delay     time.Duration

	mu    sync.Mutex
	calls int
	// Prompts records every prompt seen, for assertions.
	Prompts []string
}

// Generate returns the next scripted response or error.
func (m *Mock) Generate(ctx context.Context, req *Request) (string, error) {
	if m.Delay > 0 {
		if err := SleepContext(ctx, m.Delay); err != nil {
			return "", err
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.calls
	m.calls++
	if req != nil {
		m.Prompts = append(m.Prompts, req.Prompt)
	}

	if n := len(m.Errs); n > 0 {
		i := idx
		if i >= n {
			i = n - 1
		}
		if err := m.Errs[i]; err != nil {
			return "", err
		}
	}
	if n := len(m.Responses); n > 0 {
		i := idx
		if i >= n {
			i = n - 1
		}
		return m.Responses[i], nil
	}
	return "", ErrEmptyResponse
}

// Calls returns how many times Generate was invoked.
func (m *Mock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
