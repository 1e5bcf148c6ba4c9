// Package resilience guards outbound generative-AI calls with a per-call retry
// policy and, when an operator asks for one, a circuit breaker shared between calls.
package resilience

import "context"

// Operation is one attempt at producing a T.
type Operation[T any] func(ctx context.Context) (T, error)

// ResilientClient sends a single request. The wrappers in this package implement it
// too, so they stack.
type ResilientClient[Req, Resp any] interface {
	Execute(ctx context.Context, req Req) (Resp, error)
}

// ClientFunc lets a plain function act as a ResilientClient.
type ClientFunc[Req, Resp any] func(ctx context.Context, req Req) (Resp, error)

// Execute calls f.
func (f ClientFunc[Req, Resp]) Execute(ctx context.Context, req Req) (Resp, error) {
	return f(ctx, req)
}

// Combine stacks the retry policy over client. With non-nil cbOpts a circuit breaker
// sits between the two so every individual attempt is counted by it; the breaker is
// returned for health reporting. With nil cbOpts the breaker result is nil and calls
// share nothing.
func Combine[Req, Resp any](
	client ResilientClient[Req, Resp],
	retryOpts []RetryOption,
	cbOpts []CircuitBreakerOption,
) (*RetryWrapper[Req, Resp], *CircuitBreakerWrapper[Req, Resp]) {
	if cbOpts == nil {
		return NewRetryWrapper(client, retryOpts...), nil
	}
	breaker := NewCircuitBreakerWrapper(client, cbOpts...)
	return NewRetryWrapper[Req, Resp](breaker, retryOpts...), breaker
}
