// Package poll drives periodic fetch cycles for live feeds. A Scheduler
// owns one ticker and moves through Idle -> Running -> (Paused <-> Running)
// -> Stopped. Cycles run in tracked goroutines and may overlap, so each one
// carries a sequence number and results are accepted through Apply only
// when they are newer than the last accepted result.
package poll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"k8s.io/utils/clock"

	"github.com/caribu66/veruspulse-sub005/pkg/errs"
)

// State is the lifecycle state of a Scheduler.
type State int

const (
	StateIdle State = iota
	StateRunning
	StatePaused
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ErrAlreadyStarted is returned by Start on a scheduler that has already
// been started or stopped.
var ErrAlreadyStarted = errors.New("poll: scheduler already started")

// Cycle performs one fetch. seq increases monotonically across the
// scheduler's lifetime; ctx is cancelled when the scheduler stops.
type Cycle func(ctx context.Context, seq uint64) error

// Config configures a Scheduler.
type Config struct {
	// Name identifies the scheduler in logs, the registry and IPC.
	Name string
	// Interval between ticks. Must be positive.
	Interval time.Duration
	// Clock drives the ticker. Defaults to the real clock.
	Clock clock.WithTicker
	// Logger receives cycle failures. Defaults to a discard logger.
	Logger *slog.Logger
}

// Session is a snapshot of a scheduler's runtime state.
type Session struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	State       string     `json:"state"`
	IntervalMs  int64      `json:"intervalMs"`
	IsPaused    bool       `json:"isPaused"`
	LastRunAt   *time.Time `json:"lastRunAt,omitempty"`
	LastError   string     `json:"lastError,omitempty"`
	LastLatency string     `json:"lastLatency,omitempty"`
	Runs        int64      `json:"runs"`
	Errors      int64      `json:"errors"`
}

// Scheduler runs a Cycle immediately on Start and then on every tick while
// Running. It is safe for concurrent use.
type Scheduler struct {
	id       string
	name     string
	interval time.Duration
	clock    clock.WithTicker
	log      *slog.Logger
	cycle    Cycle

	trigger chan struct{}
	wakeups atomic.Int64

	mu          sync.Mutex
	state       State
	cancel      context.CancelFunc
	seq         uint64
	applied     uint64
	lastRun     time.Time
	lastErr     error
	lastLatency time.Duration
	runs        int64
	errors      int64

	wg sync.WaitGroup
}

// New returns an Idle scheduler. It panics if cfg.Interval is not positive
// or cycle is nil, since both are programming errors.
func New(cfg Config, cycle Cycle) *Scheduler {
	if cfg.Interval <= 0 {
		panic(fmt.Sprintf("poll: scheduler %q: interval must be positive", cfg.Name))
	}
	if cycle == nil {
		panic(fmt.Sprintf("poll: scheduler %q: nil cycle", cfg.Name))
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Scheduler{
		id:       uuid.NewString(),
		name:     cfg.Name,
		interval: cfg.Interval,
		clock:    cfg.Clock,
		log:      cfg.Logger.With("feed", cfg.Name),
		cycle:    cycle,
		trigger:  make(chan struct{}, 1),
	}
}

// Name returns the scheduler name.
func (s *Scheduler) Name() string { return s.name }

// Interval returns the tick interval.
func (s *Scheduler) Interval() time.Duration { return s.interval }

// Start moves the scheduler to Running, runs one cycle immediately and
// then one per tick until ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrAlreadyStarted, s.name, s.state)
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.state = StateRunning
	s.wg.Add(1)
	s.mu.Unlock()

	ticker := s.clock.NewTicker(s.interval)
	s.spawn(ctx)
	go s.loop(ctx, ticker)
	return nil
}

func (s *Scheduler) loop(ctx context.Context, ticker clock.Ticker) {
	defer s.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
		case <-s.trigger:
		}
		s.wakeups.Add(1)
		if s.State() == StateRunning {
			s.spawn(ctx)
		}
	}
}

// spawn starts one tracked cycle goroutine.
func (s *Scheduler) spawn(ctx context.Context) {
	s.mu.Lock()
	if ctx.Err() != nil || s.state == StateStopped {
		s.mu.Unlock()
		return
	}
	s.seq++
	seq := s.seq
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		s.run(ctx, seq)
	}()
}

// run executes the cycle, recovering panics, and records the outcome.
func (s *Scheduler) run(ctx context.Context, seq uint64) {
	start := s.clock.Now()
	err := s.safeCycle(ctx, seq)
	latency := s.clock.Since(start)

	if errs.IsCancellation(err) || (err != nil && ctx.Err() != nil) {
		return
	}

	s.mu.Lock()
	s.runs++
	s.lastRun = start
	s.lastLatency = latency
	s.lastErr = err
	if err != nil {
		s.errors++
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Warn("poll cycle failed", "seq", seq, "error", err)
	}
}

func (s *Scheduler) safeCycle(ctx context.Context, seq uint64) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("poll cycle panic: %v", r)
		}
	}()
	return s.cycle(ctx, seq)
}

// Pause suspends cycles without losing state. It reports whether the
// scheduler was Running.
func (s *Scheduler) Pause() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning {
		return false
	}
	s.state = StatePaused
	return true
}

// Resume re-enables cycles. No cycle runs immediately; the next tick does.
// It reports whether the scheduler was Paused.
func (s *Scheduler) Resume() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePaused {
		return false
	}
	s.state = StateRunning
	return true
}

// Trigger requests an out-of-band cycle. It is ignored unless the
// scheduler is Running; repeated triggers before the loop picks one up
// collapse into one.
func (s *Scheduler) Trigger() bool {
	if s.State() != StateRunning {
		return false
	}
	select {
	case s.trigger <- struct{}{}:
	default:
	}
	return true
}

// Stop cancels the ticker and every in-flight cycle, then waits for them
// to return. It is idempotent. It must not be called from inside a cycle.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return
	}
	s.state = StateStopped
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

// Next reserves a sequence number for a cycle run outside the ticker,
// such as a one-shot fetch before Start.
func (s *Scheduler) Next() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq
}

// Applied returns the highest sequence accepted by Apply.
func (s *Scheduler) Applied() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applied
}

// Apply accepts the result of cycle seq if it is newer than the last
// accepted one. Callers publish a result only when Apply returns true.
func (s *Scheduler) Apply(seq uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq <= s.applied {
		return false
	}
	s.applied = seq
	return true
}

// State returns the current lifecycle state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Session returns a snapshot of the scheduler's runtime state.
func (s *Scheduler) Session() Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := Session{
		ID:         s.id,
		Name:       s.name,
		State:      s.state.String(),
		IntervalMs: s.interval.Milliseconds(),
		IsPaused:   s.state == StatePaused,
		Runs:       s.runs,
		Errors:     s.errors,
	}
	if !s.lastRun.IsZero() {
		t := s.lastRun
		sess.LastRunAt = &t
		sess.LastLatency = s.lastLatency.String()
	}
	if s.lastErr != nil {
		sess.LastError = s.lastErr.Error()
	}
	return sess
}
