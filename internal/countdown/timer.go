package countdown

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrAlreadyRunning is returned by Start on a timer that has not been stopped.
var ErrAlreadyRunning = errors.New("countdown timer already running")

// DefaultInterval is the tick period of a Timer.
const DefaultInterval = time.Second

// Timer re-evaluates the countdown on a fixed tick and hands every Snapshot to a
// publish callback. Each tick recomputes from scratch; nothing carries over.
type Timer struct {
	publish  func(Snapshot)
	interval time.Duration
	now      func() time.Time
	target   TargetFunc
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// TimerOption configures a Timer.
type TimerOption func(*Timer)

// WithInterval overrides the one-second tick.
func WithInterval(d time.Duration) TimerOption {
	return func(t *Timer) {
		if d > 0 {
			t.interval = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) TimerOption {
	return func(t *Timer) {
		if now != nil {
			t.now = now
		}
	}
}

// WithTarget counts toward something other than the next New Year.
func WithTarget(target TargetFunc) TimerOption {
	return func(t *Timer) {
		if target != nil {
			t.target = target
		}
	}
}

// WithLogger sets the timer's logger.
func WithLogger(logger *slog.Logger) TimerOption {
	return func(t *Timer) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// NewTimer creates a stopped Timer.
func NewTimer(publish func(Snapshot), opts ...TimerOption) *Timer {
	t := &Timer{
		publish:  publish,
		interval: DefaultInterval,
		now:      time.Now,
		target:   Target,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Snapshot evaluates the countdown right now without touching the tick loop.
func (t *Timer) Snapshot() Snapshot {
	return Evaluate(t.now(), t.target)
}

// Start publishes one snapshot immediately and then one per tick until ctx is done or
// Stop is called.
func (t *Timer) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done != nil {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})

	t.logger.Debug("countdown timer started", "interval", t.interval)
	go t.run(ctx, t.done)
	return nil
}

// Stop cancels the tick and waits for the loop to exit. No publish call happens after
// Stop returns. Stopping a stopped timer is a no-op.
//
// Stop must not be called from the publish callback: the loop running the callback is
// the one Stop waits for. To end the countdown from inside the callback, cancel the
// context given to Start instead.
func (t *Timer) Stop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel, t.done = nil, nil
	t.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	t.logger.Debug("countdown timer stopped")
}

func (t *Timer) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	last := State(-1)
	emit := func() {
		snap := t.Snapshot()
		if snap.State != last {
			if snap.State == Elapsed {
				t.logger.Info("countdown reached target", "target", snap.Target)
			}
			last = snap.State
		}
		t.publish(snap)
	}

	emit()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// ctx has priority over a tick that fired at the same time
			if ctx.Err() != nil {
				return
			}
			emit()
		}
	}
}
