// Package livesync wires the cache, throttle, delta, poll and merge
// packages into per-widget feeds. A Feed polls one endpoint, detects new
// head items, persists results in the TTL cache and hands every outcome to
// its consumer as an Update.
package livesync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/caribu66/veruspulse-sub005/pkg/cache"
	"github.com/caribu66/veruspulse-sub005/pkg/delta"
	"github.com/caribu66/veruspulse-sub005/pkg/errs"
	"github.com/caribu66/veruspulse-sub005/pkg/poll"
	"github.com/caribu66/veruspulse-sub005/pkg/throttle"
)

// Defaults applied by NewFeed.
const (
	DefaultVersion     = "1"
	DefaultTTL         = 5 * time.Minute
	DefaultMinInterval = 2 * time.Second
)

// Clock is the time source shared by a feed's scheduler, throttle and
// highlight.
type Clock interface {
	clock.WithTicker
	AfterFunc(d time.Duration, f func()) clock.Timer
}

// Config describes one feed.
type Config[T any] struct {
	// Key names the feed and its cache entry.
	Key string
	// Version is the cache schema version; entries with another version
	// are ignored.
	Version string
	// TTL bounds how long a cached result primes a fresh mount.
	TTL time.Duration
	// Interval between scheduled polls.
	Interval time.Duration
	// MinInterval throttles out-of-band refreshes. It may not exceed
	// Interval.
	MinInterval time.Duration
	// Fetch loads the current items, newest first.
	Fetch func(ctx context.Context) ([]T, error)
	// ID identifies items for new-head detection. Nil disables detection.
	ID func(T) string
	// HighlightFor is how long a new head stays highlighted.
	HighlightFor time.Duration

	Cache  *cache.Store
	Clock  Clock
	Logger *slog.Logger

	// OnUpdate receives every published Update. It is called serially.
	OnUpdate func(Update[T])
	// OnHighlight is told when the new-head highlight turns on or off.
	OnHighlight func(key string, active bool)
}

// Update is one outcome delivered to a feed's consumer.
type Update[T any] struct {
	Key   string
	Items []T
	Delta delta.Result[T]
	// Err is set when the fetch failed. Items then hold the last good data,
	// if any, and Stale reports whether they do.
	Err       error
	Stale     bool
	FromCache bool
	Seq       uint64
	FetchedAt time.Time
}

// Feed is a running synchronizer for one endpoint.
type Feed[T any] struct {
	cfg       Config[T]
	log       *slog.Logger
	sched     *poll.Scheduler
	refresh   *throttle.Throttler
	tracker   *delta.Tracker[T]
	highlight *delta.Highlight

	// pubMu orders sequence checks with publication.
	pubMu     sync.Mutex
	items     []T
	hasData   bool
	fetchedAt time.Time
	lastErr   error
	errSeq    uint64
}

// NewFeed validates cfg, applies defaults and returns an idle feed.
func NewFeed[T any](cfg Config[T]) (*Feed[T], error) {
	if cfg.Key == "" {
		return nil, errors.New("feed: empty key")
	}
	if cfg.Fetch == nil {
		return nil, fmt.Errorf("feed %s: nil fetch", cfg.Key)
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("feed %s: interval must be positive", cfg.Key)
	}
	if cfg.Version == "" {
		cfg.Version = DefaultVersion
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.MinInterval == 0 {
		cfg.MinInterval = min(DefaultMinInterval, cfg.Interval)
	}
	if cfg.MinInterval < 0 || cfg.MinInterval > cfg.Interval {
		return nil, fmt.Errorf("feed %s: min interval %s outside (0, %s]", cfg.Key, cfg.MinInterval, cfg.Interval)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}

	f := &Feed[T]{
		cfg: cfg,
		log: cfg.Logger.With("feed", cfg.Key),
	}
	f.sched = poll.New(poll.Config{
		Name:     cfg.Key,
		Interval: cfg.Interval,
		Clock:    cfg.Clock,
		Logger:   cfg.Logger,
	}, f.cycle)
	f.refresh = throttle.Wrap(func() { f.sched.Trigger() }, cfg.MinInterval, throttle.WithClock(cfg.Clock))

	if cfg.ID != nil {
		f.tracker = delta.NewTracker(cfg.ID)
		f.highlight = delta.NewHighlight(cfg.HighlightFor,
			delta.WithClock(cfg.Clock),
			delta.OnChange(func(active bool) {
				if cfg.OnHighlight != nil {
					cfg.OnHighlight(cfg.Key, active)
				}
			}),
		)
	}
	return f, nil
}

// Name returns the feed key.
func (f *Feed[T]) Name() string { return f.cfg.Key }

// Scheduler exposes the feed's poll scheduler for pause, resume and
// status reporting.
func (f *Feed[T]) Scheduler() *poll.Scheduler { return f.sched }

// Start primes the feed from the cache and starts polling.
func (f *Feed[T]) Start(ctx context.Context) error {
	f.prime()
	if err := f.sched.Start(ctx); err != nil {
		return fmt.Errorf("start feed %s: %w", f.cfg.Key, err)
	}
	f.log.Debug("feed started", "interval", f.cfg.Interval)
	return nil
}

// prime publishes a valid cached result, if any, before the first fetch.
func (f *Feed[T]) prime() {
	entry, ok := f.cfg.Cache.GetEntry(f.cfg.Key, f.cfg.Version)
	if !ok {
		return
	}
	var items []T
	if err := json.Unmarshal(entry.Value, &items); err != nil {
		f.log.Debug("ignoring undecodable cache entry", "error", err)
		f.cfg.Cache.Invalidate(f.cfg.Key)
		return
	}

	f.pubMu.Lock()
	defer f.pubMu.Unlock()
	if f.hasData {
		return
	}
	var res delta.Result[T]
	if f.tracker != nil {
		res = f.tracker.Observe(items)
	}
	f.items, f.hasData, f.fetchedAt = items, true, entry.StoredTime()
	f.publish(Update[T]{
		Key:       f.cfg.Key,
		Items:     items,
		Delta:     res,
		FromCache: true,
		FetchedAt: entry.StoredTime(),
	})
}

// Stop stops polling, aborts in-flight fetches and cancels timers.
func (f *Feed[T]) Stop() {
	f.refresh.Cancel()
	f.sched.Stop()
	if f.highlight != nil {
		f.highlight.Stop()
	}
	f.log.Debug("feed stopped")
}

// Refresh requests a manual retry, throttled to MinInterval. It reports
// whether the request triggered a cycle immediately.
func (f *Feed[T]) Refresh() bool {
	return f.refresh.Call()
}

// FetchNow runs one cycle synchronously and returns its error.
func (f *Feed[T]) FetchNow(ctx context.Context) error {
	return f.cycle(ctx, f.sched.Next())
}

// cycle fetches, discards superseded or cancelled results and publishes.
func (f *Feed[T]) cycle(ctx context.Context, seq uint64) error {
	items, err := f.cfg.Fetch(ctx)
	if err != nil && (errs.IsCancellation(err) || ctx.Err() != nil) {
		return err
	}
	now := f.cfg.Clock.Now()

	f.pubMu.Lock()
	defer f.pubMu.Unlock()

	// Failures do not advance the watermark, so an older success still in
	// flight can land after a newer failure.
	if err != nil {
		if seq <= f.sched.Applied() || seq <= f.errSeq {
			f.log.Debug("dropping superseded failure", "seq", seq)
			return err
		}
		f.errSeq = seq
		f.lastErr = err
		f.publish(Update[T]{
			Key:       f.cfg.Key,
			Items:     f.items,
			Err:       err,
			Stale:     f.hasData,
			Seq:       seq,
			FetchedAt: f.fetchedAt,
		})
		return err
	}

	if !f.sched.Apply(seq) {
		f.log.Debug("dropping superseded response", "seq", seq)
		return nil
	}

	var res delta.Result[T]
	if f.tracker != nil {
		res = f.tracker.Observe(items)
		if res.IsNew {
			f.highlight.Flag()
		}
	}
	f.cfg.Cache.Set(f.cfg.Key, items, f.cfg.TTL, f.cfg.Version)
	f.items, f.hasData, f.fetchedAt, f.lastErr = items, true, now, nil

	f.publish(Update[T]{
		Key:       f.cfg.Key,
		Items:     items,
		Delta:     res,
		Seq:       seq,
		FetchedAt: now,
	})
	return nil
}

func (f *Feed[T]) publish(u Update[T]) {
	if f.cfg.OnUpdate != nil {
		f.cfg.OnUpdate(u)
	}
}

// Snapshot returns the last good items and when they were fetched.
func (f *Feed[T]) Snapshot() ([]T, time.Time, bool) {
	f.pubMu.Lock()
	defer f.pubMu.Unlock()
	return f.items, f.fetchedAt, f.hasData
}

// LastError returns the error of the latest applied cycle, nil after a
// success.
func (f *Feed[T]) LastError() error {
	f.pubMu.Lock()
	defer f.pubMu.Unlock()
	return f.lastErr
}

// Highlighted reports whether a new head is currently highlighted.
func (f *Feed[T]) Highlighted() bool {
	return f.highlight != nil && f.highlight.Active()
}
