package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	jperrors "github.com/JohnPlummer/jp-go-errors"
	"github.com/sony/gobreaker/v2"
)

// ErrCircuitOpen marks requests the breaker refused without calling the service.
// The retry classifiers never retry it.
var ErrCircuitOpen = errors.New("circuit breaker refused request")

// CircuitBreakerState mirrors gobreaker's states without leaking the dependency.
type CircuitBreakerState int

// Closed passes requests, open refuses them, half-open lets a few trial requests through.
const (
	StateClosed CircuitBreakerState = iota
	StateHalfOpen
	StateOpen
)

var stateNames = map[CircuitBreakerState]string{
	StateClosed:   "closed",
	StateHalfOpen: "half-open",
	StateOpen:     "open",
}

func (s CircuitBreakerState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

func stateOf(s gobreaker.State) CircuitBreakerState {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	}
	return StateClosed
}

// CircuitBreakerCounts are the breaker's counters for the current generation.
type CircuitBreakerCounts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

func countsOf(c gobreaker.Counts) CircuitBreakerCounts {
	return CircuitBreakerCounts(c)
}

// CircuitBreakerConfig configures a CircuitBreakerWrapper.
type CircuitBreakerConfig struct {
	// Name labels log lines and state change callbacks.
	Name string

	// MaxRequests is how many trial requests a half-open breaker lets through.
	MaxRequests uint32

	// Interval resets the closed-state counters periodically; zero never resets.
	Interval time.Duration

	// Timeout is how long the breaker stays open before letting trial requests through.
	Timeout time.Duration

	// ReadyToTrip sees the counters after each failure while closed and opens
	// the breaker when it returns true.
	ReadyToTrip func(counts CircuitBreakerCounts) bool

	// ErrorClassifier decides which failures count against the breaker.
	ErrorClassifier CircuitBreakerErrorClassifier

	OnStateChange func(name string, from, to CircuitBreakerState)

	Logger *slog.Logger
}

// CircuitBreakerOption adjusts a CircuitBreakerConfig.
type CircuitBreakerOption func(*CircuitBreakerConfig)

// WithBreakerName sets the breaker's name.
func WithBreakerName(name string) CircuitBreakerOption {
	return func(c *CircuitBreakerConfig) { c.Name = name }
}

// WithMaxRequests sets the half-open trial request allowance.
func WithMaxRequests(n uint32) CircuitBreakerOption {
	return func(c *CircuitBreakerConfig) { c.MaxRequests = n }
}

// WithInterval sets the closed-state counter reset period.
func WithInterval(d time.Duration) CircuitBreakerOption {
	return func(c *CircuitBreakerConfig) { c.Interval = d }
}

// WithTimeout sets how long the breaker stays open.
func WithTimeout(d time.Duration) CircuitBreakerOption {
	return func(c *CircuitBreakerConfig) { c.Timeout = d }
}

// WithReadyToTrip replaces the trip rule, e.g. five consecutive failures:
//
//	resilience.WithReadyToTrip(func(c resilience.CircuitBreakerCounts) bool {
//	    return c.ConsecutiveFailures >= 5
//	})
func WithReadyToTrip(fn func(counts CircuitBreakerCounts) bool) CircuitBreakerOption {
	return func(c *CircuitBreakerConfig) { c.ReadyToTrip = fn }
}

// WithCircuitBreakerErrorClassifier replaces the rule for which failures count.
func WithCircuitBreakerErrorClassifier(classifier CircuitBreakerErrorClassifier) CircuitBreakerOption {
	return func(c *CircuitBreakerConfig) { c.ErrorClassifier = classifier }
}

// WithStateChangeHandler is called after every transition.
func WithStateChangeHandler(fn func(name string, from, to CircuitBreakerState)) CircuitBreakerOption {
	return func(c *CircuitBreakerConfig) { c.OnStateChange = fn }
}

// WithCircuitBreakerLogger sets where breaker diagnostics go.
func WithCircuitBreakerLogger(logger *slog.Logger) CircuitBreakerOption {
	return func(c *CircuitBreakerConfig) { c.Logger = logger }
}

// tripOnFailureRatio opens once at least 3 requests were seen and 60% failed.
func tripOnFailureRatio(c CircuitBreakerCounts) bool {
	if c.Requests < 3 {
		return false
	}
	return float64(c.TotalFailures)/float64(c.Requests) >= 0.6
}

// DefaultCircuitBreakerConfig returns the breaker used for the generative-AI
// service: 60% failures over at least 3 requests opens it for 30s, counters reset
// every 10s, 3 half-open trial requests.
func DefaultCircuitBreakerConfig() *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		Name:            "generative-ai",
		MaxRequests:     3,
		Interval:        10 * time.Second,
		Timeout:         30 * time.Second,
		ReadyToTrip:     tripOnFailureRatio,
		ErrorClassifier: DefaultCircuitBreakerErrorClassifier(),
		Logger:          slog.Default(),
	}
}

func buildBreakerConfig(opts []CircuitBreakerOption) *CircuitBreakerConfig {
	cfg := DefaultCircuitBreakerConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.ReadyToTrip == nil {
		cfg.ReadyToTrip = tripOnFailureRatio
	}
	if cfg.ErrorClassifier == nil {
		cfg.ErrorClassifier = DefaultCircuitBreakerErrorClassifier()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}

// CircuitBreakerWrapper rejects requests while the downstream service looks broken.
// Unlike RetryWrapper its state spans calls.
type CircuitBreakerWrapper[Req, Resp any] struct {
	next       ResilientClient[Req, Resp]
	cb         *gobreaker.CircuitBreaker[Resp]
	classifier CircuitBreakerErrorClassifier
	log        *slog.Logger
}

// NewCircuitBreakerWrapper wraps client with a breaker built from opts.
func NewCircuitBreakerWrapper[Req, Resp any](client ResilientClient[Req, Resp], opts ...CircuitBreakerOption) *CircuitBreakerWrapper[Req, Resp] {
	cfg := buildBreakerConfig(opts)
	w := &CircuitBreakerWrapper[Req, Resp]{
		next:       client,
		classifier: cfg.ErrorClassifier,
		log:        cfg.Logger,
	}

	w.cb = gobreaker.NewCircuitBreaker[Resp](gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return cfg.ReadyToTrip(countsOf(c))
		},
		// failures the classifier ignores are recorded as successes
		IsSuccessful: func(err error) bool {
			return err == nil || !w.classifier.ShouldTripCircuit(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			w.log.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
			if cfg.OnStateChange != nil {
				cfg.OnStateChange(name, stateOf(from), stateOf(to))
			}
		},
	})
	return w
}

// Execute forwards req unless the breaker refuses it. A refusal matches ErrCircuitOpen
// and wraps a jp-go-errors CircuitBreakerError carrying the state ("open" or
// "half-open"); failures from the wrapped client come back untouched.
func (w *CircuitBreakerWrapper[Req, Resp]) Execute(ctx context.Context, req Req) (Resp, error) {
	resp, err := w.cb.Execute(func() (Resp, error) {
		return w.next.Execute(ctx, req)
	})
	if err == nil {
		return resp, nil
	}

	var zero Resp
	if errors.Is(err, gobreaker.ErrOpenState) {
		w.log.Warn("circuit open, request refused", "name", w.cb.Name())
		return zero, w.refused("circuit open", "open", err)
	}
	if errors.Is(err, gobreaker.ErrTooManyRequests) {
		w.log.Debug("half-open trial limit reached", "name", w.cb.Name())
		return zero, w.refused("half-open trial limit reached", "half-open", err)
	}
	w.log.Debug("request failed", "error", err, "counts_against_circuit", w.classifier.ShouldTripCircuit(err))
	return zero, err
}

func (w *CircuitBreakerWrapper[Req, Resp]) refused(msg, state string, cause error) error {
	c := w.cb.Counts()
	w.log.Debug("circuit counts at refusal",
		"requests", c.Requests,
		"total_failures", c.TotalFailures,
		"consecutive_failures", c.ConsecutiveFailures)
	return fmt.Errorf("%w: %w", ErrCircuitOpen,
		jperrors.NewCircuitBreakerError(msg, "execute", state, jperrors.WithCause(cause)))
}

// State reports the breaker's current state.
func (w *CircuitBreakerWrapper[Req, Resp]) State() CircuitBreakerState {
	return stateOf(w.cb.State())
}

// Counts reports the breaker's current counters.
func (w *CircuitBreakerWrapper[Req, Resp]) Counts() CircuitBreakerCounts {
	return countsOf(w.cb.Counts())
}

// GetHealth summarises the breaker for a health endpoint.
func (w *CircuitBreakerWrapper[Req, Resp]) GetHealth() HealthStatus {
	return healthOf(w.State(), w.Counts())
}
