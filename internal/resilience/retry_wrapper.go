package resilience

import (
	"context"
	"sync"
	"time"
)

// RetryStats is a point-in-time copy of what a RetryWrapper has seen.
type RetryStats struct {
	// TotalAttempts counts every call to the wrapped client.
	TotalAttempts int64
	// TotalRetries counts attempts beyond the first of each Execute.
	TotalRetries int64
	// TotalSuccesses counts Execute calls that returned a value.
	TotalSuccesses int64
	// TotalFailures counts Execute calls that returned an error.
	TotalFailures int64

	LastAttemptTime time.Time
	LastError       error
}

// retryTally is nil-safe so the free-standing Retry can skip bookkeeping.
type retryTally struct {
	mu sync.RWMutex
	s  RetryStats
}

func (t *retryTally) attempt(n int) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.s.TotalAttempts++
	if n > 1 {
		t.s.TotalRetries++
	}
	t.s.LastAttemptTime = time.Now()
	t.mu.Unlock()
}

func (t *retryTally) failure(err error) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.s.TotalFailures++
	t.s.LastError = err
	t.mu.Unlock()
}

func (t *retryTally) success() {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.s.TotalSuccesses++
	t.mu.Unlock()
}

func (t *retryTally) snapshot() RetryStats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.s
}

// RetryWrapper applies the retry policy to every request sent through a client.
// Each Execute gets a fresh budget; only the statistics outlive a call.
type RetryWrapper[Req, Resp any] struct {
	next  ResilientClient[Req, Resp]
	cfg   *RetryConfig
	tally *retryTally
}

// NewRetryWrapper wraps client with the retry policy built from opts.
func NewRetryWrapper[Req, Resp any](client ResilientClient[Req, Resp], opts ...RetryOption) *RetryWrapper[Req, Resp] {
	return &RetryWrapper[Req, Resp]{
		next:  client,
		cfg:   buildRetryConfig(opts),
		tally: &retryTally{},
	}
}

// Execute sends req, retrying according to the policy.
func (w *RetryWrapper[Req, Resp]) Execute(ctx context.Context, req Req) (Resp, error) {
	return run(ctx, w.cfg, w.tally, func(ctx context.Context) (Resp, error) {
		return w.next.Execute(ctx, req)
	})
}

// GetRetryStats is safe to call while requests are in flight.
func (w *RetryWrapper[Req, Resp]) GetRetryStats() RetryStats {
	return w.tally.snapshot()
}
