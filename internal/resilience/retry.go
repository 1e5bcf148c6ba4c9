package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
)

const (
	// DefaultMaxRetries is the budget of extra attempts after the first call.
	DefaultMaxRetries = 3

	// DefaultInitialDelay is the wait before the first retry.
	DefaultInitialDelay = time.Second
)

// ErrInvalidRetryConfig is returned, without calling the operation, when the retry
// budget or initial delay cannot be used.
var ErrInvalidRetryConfig = errors.New("invalid retry configuration")

// DelayObserver sees every backoff wait before it happens. retry counts from 1.
type DelayObserver func(retry int, delay time.Duration)

// RetryConfig is the policy applied to one call.
type RetryConfig struct {
	// MaxRetries bounds the extra attempts; a call makes at most MaxRetries+1.
	MaxRetries int

	// InitialDelay is waited before retry 1 and doubles for every retry after it.
	InitialDelay time.Duration

	// ErrorClassifier decides which failures are worth another attempt.
	// Nil means RetryAllClassifier.
	ErrorClassifier ErrorClassifier

	// OnDelay, when set, is told about each wait.
	OnDelay DelayObserver

	// Logger receives retry diagnostics. Nil means slog.Default().
	Logger *slog.Logger
}

// RetryOption adjusts a RetryConfig.
type RetryOption func(*RetryConfig)

// WithMaxRetries sets the retry budget. Zero disables retrying.
func WithMaxRetries(n int) RetryOption {
	return func(c *RetryConfig) { c.MaxRetries = n }
}

// WithInitialDelay sets the first wait; later waits are d, 2d, 4d and so on.
func WithInitialDelay(d time.Duration) RetryOption {
	return func(c *RetryConfig) { c.InitialDelay = d }
}

// WithErrorClassifier replaces the retryability rule.
func WithErrorClassifier(classifier ErrorClassifier) RetryOption {
	return func(c *RetryConfig) { c.ErrorClassifier = classifier }
}

// WithRetryLogger sets where retry diagnostics go.
func WithRetryLogger(logger *slog.Logger) RetryOption {
	return func(c *RetryConfig) { c.Logger = logger }
}

// WithDelayObserver registers fn to be called before every backoff wait.
func WithDelayObserver(fn DelayObserver) RetryOption {
	return func(c *RetryConfig) { c.OnDelay = fn }
}

// WithRetryConfig replaces the whole policy, discarding earlier options.
func WithRetryConfig(cfg RetryConfig) RetryOption {
	return func(c *RetryConfig) { *c = cfg }
}

// DefaultRetryConfig is three retries after 1s, 2s and 4s, no jitter, every
// failure retried.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:      DefaultMaxRetries,
		InitialDelay:    DefaultInitialDelay,
		ErrorClassifier: DefaultErrorClassifier(),
		Logger:          slog.Default(),
	}
}

func buildRetryConfig(opts []RetryOption) *RetryConfig {
	cfg := DefaultRetryConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.ErrorClassifier == nil {
		cfg.ErrorClassifier = DefaultErrorClassifier()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}

func (c *RetryConfig) check() error {
	switch {
	case c.MaxRetries < 0:
		return fmt.Errorf("%w: max retries %d is negative", ErrInvalidRetryConfig, c.MaxRetries)
	case c.InitialDelay <= 0:
		return fmt.Errorf("%w: initial delay %s must be positive", ErrInvalidRetryConfig, c.InitialDelay)
	}
	return nil
}

// schedule returns a new doubling backoff capped at MaxRetries waits. go-retry
// makes the first call before consulting it, so the cap is the retry count.
func (c *RetryConfig) schedule() retry.Backoff {
	capped := retry.WithMaxRetries(
		uint64(c.MaxRetries), // #nosec G115 - checked non-negative
		retry.NewExponential(c.InitialDelay),
	)
	if c.OnDelay == nil {
		return capped
	}

	notify := c.OnDelay
	waits := 0
	return retry.BackoffFunc(func() (time.Duration, bool) {
		d, stop := capped.Next()
		if stop {
			return d, true
		}
		waits++
		notify(waits, d)
		return d, false
	})
}

// Retry calls op until it succeeds or the retry budget runs out.
//
// The first attempt happens immediately. On failure, if the classifier allows it
// and retries remain, Retry sleeps InitialDelay*2^(k-1) before retry k. After the
// last allowed attempt it returns that attempt's error unmodified. Every call to
// Retry starts with the full budget. A done ctx cuts the sleep short and ctx.Err()
// is returned instead.
//
//	greeting, err := resilience.Retry(ctx, func(ctx context.Context) (string, error) {
//	    return ask(ctx, prompt)
//	}, resilience.WithMaxRetries(3))
func Retry[T any](ctx context.Context, op Operation[T], opts ...RetryOption) (T, error) {
	return run(ctx, buildRetryConfig(opts), nil, op)
}

func run[T any](ctx context.Context, cfg *RetryConfig, tally *retryTally, op Operation[T]) (T, error) {
	var (
		zero    T
		out     T
		attempt int
	)
	log := cfg.Logger

	if err := cfg.check(); err != nil {
		return zero, err
	}
	if err := ctx.Err(); err != nil {
		log.Warn("call abandoned before the first attempt", "error", err)
		return zero, err
	}

	err := retry.Do(ctx, cfg.schedule(), func(ctx context.Context) error {
		attempt++
		tally.attempt(attempt)

		v, err := op(ctx)
		switch {
		case err == nil:
			if attempt > 1 {
				log.Info("call recovered", "attempt", attempt)
			}
			out = v
			return nil
		case !cfg.ErrorClassifier.IsRetryable(err):
			log.Debug("failure is not retryable", "attempt", attempt, "error", err)
			return err
		default:
			log.Debug("attempt failed, backing off", "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
	})
	if err != nil {
		log.Warn("call failed", "attempts", attempt, "error", err)
		tally.failure(err)
		return zero, err
	}

	tally.success()
	return out, nil
}
