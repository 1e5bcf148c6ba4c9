package resilience

import (
	"context"
	"errors"
	"fmt"
	"slices"

	pkgerrors "github.com/JohnPlummer/jp-go-errors"
)

// Names accepted by ClassifierByName.
const (
	ClassifierAll  = "all"
	ClassifierHTTP = "http"
)

// ErrorClassifier decides whether a failed attempt should be tried again.
type ErrorClassifier interface {
	IsRetryable(err error) bool
}

// CircuitBreakerErrorClassifier decides whether a failure counts against the breaker.
type CircuitBreakerErrorClassifier interface {
	ShouldTripCircuit(err error) bool
}

// HTTPError is any error that knows the HTTP status it came from.
type HTTPError interface {
	error
	StatusCode() int
}

// StatusCodeError attaches the upstream HTTP status to a failure. Its message is the
// cause's message.
type StatusCodeError struct {
	Err  error
	Code int
}

// NewStatusCodeError tags err with code.
func NewStatusCodeError(code int, err error) error {
	return &StatusCodeError{Err: err, Code: code}
}

func (e *StatusCodeError) Error() string   { return e.Err.Error() }
func (e *StatusCodeError) Unwrap() error   { return e.Err }
func (e *StatusCodeError) StatusCode() int { return e.Code }

func statusOf(err error) (int, bool) {
	var he HTTPError
	if errors.As(err, &he) {
		return he.StatusCode(), true
	}
	return 0, false
}

func finished(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// final reports failures no later attempt can fix: a finished context, or a
// refusal from an open circuit breaker, which stays open far longer than any backoff.
func final(err error) bool {
	return finished(err) || errors.Is(err, ErrCircuitOpen)
}

// RetryAllClassifier retries any failure of the generative-AI service, whatever its
// kind. The exceptions are a finished context and a circuit breaker refusal, neither
// of which comes from the service.
type RetryAllClassifier struct{}

// IsRetryable implements ErrorClassifier.
func (RetryAllClassifier) IsRetryable(err error) bool {
	return err != nil && !final(err)
}

var (
	defaultRetryableStatuses = []int{429, 500, 502, 503, 504}
	defaultTripStatuses      = []int{401, 403, 500, 502, 503, 504}
)

// HTTPStatusClassifier looks at the upstream status. Nil lists fall back to the
// defaults: retry 429 and 5xx gateway/server errors; trip on 401, 403 and 5xx.
// Failures without a status, such as network errors, are retried and counted.
type HTTPStatusClassifier struct {
	RetryableStatuses   []int
	CircuitTripStatuses []int
}

// NewHTTPStatusClassifier returns a classifier with the default status lists.
func NewHTTPStatusClassifier() *HTTPStatusClassifier {
	return &HTTPStatusClassifier{
		RetryableStatuses:   slices.Clone(defaultRetryableStatuses),
		CircuitTripStatuses: slices.Clone(defaultTripStatuses),
	}
}

// IsRetryable implements ErrorClassifier. Rate limits and timeouts are retried.
func (c *HTTPStatusClassifier) IsRetryable(err error) bool {
	// a context deadline also reports itself as a timeout, so check it first
	if err == nil || final(err) {
		return false
	}
	if errors.Is(err, pkgerrors.ErrRateLimited) || pkgerrors.IsTimeout(err) {
		return true
	}
	code, ok := statusOf(err)
	if !ok {
		return true
	}
	return slices.Contains(orDefault(c.RetryableStatuses, defaultRetryableStatuses), code)
}

// ShouldTripCircuit implements CircuitBreakerErrorClassifier. Rate limits, timeouts
// and cancelled contexts never count.
func (c *HTTPStatusClassifier) ShouldTripCircuit(err error) bool {
	if err == nil || finished(err) {
		return false
	}
	if errors.Is(err, pkgerrors.ErrRateLimited) || pkgerrors.IsTimeout(err) {
		return false
	}
	code, ok := statusOf(err)
	if !ok {
		return true
	}
	return slices.Contains(orDefault(c.CircuitTripStatuses, defaultTripStatuses), code)
}

func orDefault(list, fallback []int) []int {
	if list == nil {
		return fallback
	}
	return list
}

// DefaultErrorClassifier is RetryAllClassifier.
func DefaultErrorClassifier() ErrorClassifier {
	return RetryAllClassifier{}
}

// DefaultCircuitBreakerErrorClassifier counts auth and server failures only.
func DefaultCircuitBreakerErrorClassifier() CircuitBreakerErrorClassifier {
	return NewHTTPStatusClassifier()
}

// ClassifierByName maps a config value to a retry classifier. Empty means "all".
func ClassifierByName(name string) (ErrorClassifier, error) {
	switch name {
	case "", ClassifierAll:
		return RetryAllClassifier{}, nil
	case ClassifierHTTP:
		return NewHTTPStatusClassifier(), nil
	}
	return nil, fmt.Errorf("unknown retry classifier %q", name)
}
