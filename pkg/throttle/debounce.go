package throttle

import (
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// Debouncer delays delivery of a value until Trigger has not been called
// for the quiet window, then calls fn with the most recent value only.
type Debouncer[T any] struct {
	fn     func(T)
	window time.Duration
	clock  clock.WithDelayedExecution

	mu     sync.Mutex
	timer  clock.Timer
	latest T
	gen    uint64
}

// NewDebouncer returns a Debouncer that calls fn after window of quiet.
func NewDebouncer[T any](window time.Duration, fn func(T), opts ...Option) *Debouncer[T] {
	o := buildOptions(opts)
	return &Debouncer[T]{
		fn:     fn,
		window: window,
		clock:  o.clock,
	}
}

// Trigger records v as the latest value and restarts the quiet window.
func (d *Debouncer[T]) Trigger(v T) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.latest = v
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
	}
	gen := d.gen
	d.timer = d.clock.AfterFunc(d.window, func() { d.fire(gen) })
}

// fire delivers the latest value unless a newer trigger superseded gen.
func (d *Debouncer[T]) fire(gen uint64) {
	d.mu.Lock()
	if gen != d.gen || d.timer == nil {
		d.mu.Unlock()
		return
	}
	d.timer = nil
	v := d.latest
	d.mu.Unlock()

	d.fn(v)
}

// Flush delivers the pending value immediately. It reports whether a value
// was pending.
func (d *Debouncer[T]) Flush() bool {
	d.mu.Lock()
	if d.timer == nil {
		d.mu.Unlock()
		return false
	}
	d.timer.Stop()
	d.timer = nil
	d.gen++
	v := d.latest
	d.mu.Unlock()

	d.fn(v)
	return true
}

// Cancel discards the pending value without delivering it.
func (d *Debouncer[T]) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++
}
