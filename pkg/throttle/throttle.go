// Package throttle rate-limits work triggered by live feeds and input.
//
// Two behaviours are kept deliberately separate:
//
//   - Throttler runs a function at most once per interval. Calls inside the
//     cooldown are dropped, but one trailing run is scheduled for the end of
//     the cooldown so the latest state still propagates.
//   - Debouncer waits until triggers stop arriving for a quiet window and
//     then delivers only the last value. It is meant for free-text search
//     input, never for polling.
package throttle

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
	"k8s.io/utils/clock"
)

// Option configures a Throttler or Debouncer.
type Option func(*options)

type options struct {
	clock clock.WithDelayedExecution
}

// WithClock injects the clock used for cooldowns and timers.
func WithClock(c clock.WithDelayedExecution) Option {
	return func(o *options) { o.clock = c }
}

func buildOptions(opts []Option) options {
	o := options{clock: clock.RealClock{}}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Stats counts what a Throttler did with the calls it received.
type Stats struct {
	Calls    int64
	Runs     int64
	Trailing int64
	Dropped  int64
}

// Throttler gates fn so it runs at most once per interval. It is safe for
// concurrent use. fn runs on the calling goroutine for leading-edge calls
// and on a timer goroutine for trailing calls, so it must not block for
// long and must be idempotent.
type Throttler struct {
	fn       func()
	interval time.Duration
	clock    clock.WithDelayedExecution

	mu       sync.Mutex
	limiter  *rate.Limiter
	trailing clock.Timer
	stats    Stats
}

// Wrap returns a Throttler around fn with the given minimum interval. A
// non-positive interval disables throttling.
func Wrap(fn func(), minInterval time.Duration, opts ...Option) *Throttler {
	o := buildOptions(opts)
	limit := rate.Inf
	if minInterval > 0 {
		limit = rate.Every(minInterval)
	}
	return &Throttler{
		fn:       fn,
		interval: minInterval,
		clock:    o.clock,
		limiter:  rate.NewLimiter(limit, 1),
	}
}

// Call requests a run. It reports whether fn ran immediately. A call that
// lands inside the cooldown arms the single trailing run if none is
// pending; otherwise it is dropped.
func (t *Throttler) Call() bool {
	now := t.clock.Now()

	t.mu.Lock()
	t.stats.Calls++

	r := t.limiter.ReserveN(now, 1)
	delay := r.DelayFrom(now)
	if delay <= 0 {
		t.stats.Runs++
		t.mu.Unlock()
		t.fn()
		return true
	}
	r.CancelAt(now)

	if t.trailing == nil {
		// The timer callback must not touch the clock: some clocks run
		// callbacks while holding their own lock.
		fireAt := now.Add(delay)
		t.trailing = t.clock.AfterFunc(delay, func() { go t.fireTrailing(fireAt) })
	} else {
		t.stats.Dropped++
	}
	t.mu.Unlock()
	return false
}

// fireTrailing runs the pending trailing call and restarts the cooldown
// from fireAt, the end of the previous one.
func (t *Throttler) fireTrailing(fireAt time.Time) {
	t.mu.Lock()
	if t.trailing == nil {
		t.mu.Unlock()
		return
	}
	t.trailing = nil
	// Reserve unconditionally: the timer fired at the end of the cooldown.
	t.limiter.ReserveN(fireAt, 1)
	t.stats.Runs++
	t.stats.Trailing++
	t.mu.Unlock()

	t.fn()
}

// Pending reports whether a trailing run is scheduled.
func (t *Throttler) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.trailing != nil
}

// Cancel drops a pending trailing run, if any.
func (t *Throttler) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.trailing != nil {
		t.trailing.Stop()
		t.trailing = nil
	}
}

// Interval returns the configured minimum interval.
func (t *Throttler) Interval() time.Duration {
	return t.interval
}

// Stats returns a snapshot of the throttler's counters.
func (t *Throttler) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}
