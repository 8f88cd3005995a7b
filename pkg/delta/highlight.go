package delta

import (
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// Display duration bounds for a highlight.
const (
	DefaultHighlight = 3500 * time.Millisecond
	MinHighlight     = 3000 * time.Millisecond
	MaxHighlight     = 4000 * time.Millisecond
)

// HighlightOption configures a Highlight.
type HighlightOption func(*Highlight)

// WithClock injects the clock used for the clear timer.
func WithClock(c clock.WithDelayedExecution) HighlightOption {
	return func(h *Highlight) { h.clock = c }
}

// OnChange registers a callback invoked whenever the flag flips. It runs
// without the highlight's lock held.
func OnChange(fn func(active bool)) HighlightOption {
	return func(h *Highlight) { h.onChange = fn }
}

// Highlight is a self-dismissing "new" flag. Flag sets it and schedules a
// clear; a later Flag cancels the pending clear and starts a fresh one.
type Highlight struct {
	clock    clock.WithDelayedExecution
	duration time.Duration
	onChange func(bool)

	mu     sync.Mutex
	active bool
	timer  clock.Timer
	gen    uint64
}

// NewHighlight returns a Highlight that clears after d. Zero selects
// DefaultHighlight; other values are clamped to [MinHighlight, MaxHighlight].
func NewHighlight(d time.Duration, opts ...HighlightOption) *Highlight {
	h := &Highlight{
		clock:    clock.RealClock{},
		duration: ClampDuration(d),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ClampDuration applies the default and the display bounds to d.
func ClampDuration(d time.Duration) time.Duration {
	switch {
	case d == 0:
		return DefaultHighlight
	case d < MinHighlight:
		return MinHighlight
	case d > MaxHighlight:
		return MaxHighlight
	}
	return d
}

// Duration returns the display duration in effect.
func (h *Highlight) Duration() time.Duration {
	return h.duration
}

// Flag marks the highlight active and restarts the clear timer.
func (h *Highlight) Flag() {
	h.mu.Lock()
	if h.timer != nil {
		h.timer.Stop()
	}
	h.gen++
	gen := h.gen
	h.timer = h.clock.AfterFunc(h.duration, func() { h.clear(gen) })
	changed := !h.active
	h.active = true
	h.mu.Unlock()

	if changed && h.onChange != nil {
		h.onChange(true)
	}
}

func (h *Highlight) clear(gen uint64) {
	h.mu.Lock()
	if gen != h.gen {
		h.mu.Unlock()
		return
	}
	h.timer = nil
	changed := h.active
	h.active = false
	h.mu.Unlock()

	if changed && h.onChange != nil {
		h.onChange(false)
	}
}

// Active reports whether the highlight is showing.
func (h *Highlight) Active() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.active
}

// Stop cancels any pending clear and drops the flag without notifying.
// Call it when the owning view unmounts.
func (h *Highlight) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
	h.gen++
	h.active = false
}
