package livesync

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	testingclock "k8s.io/utils/clock/testing"

	"github.com/caribu66/veruspulse-sub005/pkg/cache"
	"github.com/caribu66/veruspulse-sub005/pkg/errs"
	"github.com/caribu66/veruspulse-sub005/pkg/merge"
)

var epoch = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

var errOffline = errs.Network("latest blocks", errors.New("connection refused"))

type block struct {
	Hash   string `json:"hash"`
	Height int    `json:"height"`
}

func blockID(b block) string { return b.Hash }

// recorder collects published updates.
type recorder[T any] struct {
	mu      sync.Mutex
	updates []Update[T]
}

func (r *recorder[T]) add(u Update[T]) {
	r.mu.Lock()
	r.updates = append(r.updates, u)
	r.mu.Unlock()
}

func (r *recorder[T]) all() []Update[T] {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Update[T](nil), r.updates...)
}

func (r *recorder[T]) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.updates)
}

func (r *recorder[T]) last() Update[T] {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updates[len(r.updates)-1]
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// source is a swappable fetch result.
type source struct {
	mu    sync.Mutex
	items []block
	err   error
	calls atomic.Int32
}

func (s *source) set(items []block, err error) {
	s.mu.Lock()
	s.items, s.err = items, err
	s.mu.Unlock()
}

func (s *source) fetch(context.Context) ([]block, error) {
	s.calls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.items, s.err
}

func newTestStore(t *testing.T, fc *testingclock.FakeClock) *cache.Store {
	t.Helper()
	st, err := cache.NewStore(cache.StoreConfig{Dir: t.TempDir(), Clock: fc})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func newTestFeed(t *testing.T, src *source, store *cache.Store, fc *testingclock.FakeClock, rec *recorder[block]) *Feed[block] {
	t.Helper()
	f, err := NewFeed(Config[block]{
		Key:         "latest_blocks",
		Interval:    time.Second,
		MinInterval: time.Second,
		TTL:         time.Minute,
		Fetch:       src.fetch,
		ID:          blockID,
		Cache:       store,
		Clock:       fc,
		OnUpdate:    rec.add,
	})
	if err != nil {
		t.Fatalf("NewFeed: %v", err)
	}
	t.Cleanup(f.Stop)
	return f
}

// --- Construction ---

func TestNewFeedValidation(t *testing.T) {
	fetch := func(context.Context) ([]block, error) { return nil, nil }
	tests := []struct {
		name string
		cfg  Config[block]
	}{
		{"empty key", Config[block]{Fetch: fetch, Interval: time.Second}},
		{"nil fetch", Config[block]{Key: "k", Interval: time.Second}},
		{"zero interval", Config[block]{Key: "k", Fetch: fetch}},
		{"min interval too large", Config[block]{Key: "k", Fetch: fetch, Interval: time.Second, MinInterval: 2 * time.Second}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewFeed(tt.cfg); err == nil {
				t.Fatal("NewFeed accepted invalid config")
			}
		})
	}

	f, err := NewFeed(Config[block]{Key: "k", Fetch: fetch, Interval: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	if f.cfg.Version != DefaultVersion || f.cfg.TTL != DefaultTTL || f.cfg.MinInterval != time.Second {
		t.Errorf("defaults = %q %v %v", f.cfg.Version, f.cfg.TTL, f.cfg.MinInterval)
	}
}

// --- Cycles ---

func TestFeedDetectsNewHead(t *testing.T) {
	fc := testingclock.NewFakeClock(epoch)
	src := &source{items: []block{{"b1", 1}}}
	rec := &recorder[block]{}
	f := newTestFeed(t, src, nil, fc, rec)
	ctx := context.Background()

	if err := f.FetchNow(ctx); err != nil {
		t.Fatal(err)
	}
	if u := rec.last(); u.Delta.IsNew || u.Delta.Newest.Hash != "b1" {
		t.Fatalf("first observation = %+v", u.Delta)
	}

	f.FetchNow(ctx)
	if rec.last().Delta.IsNew {
		t.Fatal("unchanged head flagged new")
	}

	src.set([]block{{"b2", 2}, {"b1", 1}}, nil)
	f.FetchNow(ctx)
	u := rec.last()
	if !u.Delta.IsNew || u.Delta.Newest.Hash != "b2" || u.Delta.Fresh != 1 {
		t.Fatalf("b2 over b1 = %+v", u.Delta)
	}
	if !f.Highlighted() {
		t.Fatal("new head not highlighted")
	}

	fc.Step(3500 * time.Millisecond)
	waitFor(t, "highlight to clear", func() bool { return !f.Highlighted() })
}

func TestFeedPersistsToCache(t *testing.T) {
	fc := testingclock.NewFakeClock(epoch)
	store := newTestStore(t, fc)
	src := &source{items: []block{{"b1", 1}}}
	f := newTestFeed(t, src, store, fc, &recorder[block]{})

	if err := f.FetchNow(context.Background()); err != nil {
		t.Fatal(err)
	}
	got, ok := cache.GetTyped[[]block](store, "latest_blocks", DefaultVersion)
	if !ok || len(got) != 1 || got[0].Hash != "b1" {
		t.Fatalf("cached = %+v, %v", got, ok)
	}
}

func TestFeedPrimesFromCache(t *testing.T) {
	fc := testingclock.NewFakeClock(epoch)
	store := newTestStore(t, fc)
	store.Set("latest_blocks", []block{{"b1", 1}}, time.Minute, DefaultVersion)

	release := make(chan struct{})
	src := &source{items: []block{{"b1", 1}}}
	rec := &recorder[block]{}
	f, err := NewFeed(Config[block]{
		Key:      "latest_blocks",
		Interval: time.Second,
		Fetch: func(ctx context.Context) ([]block, error) {
			<-release
			return src.fetch(ctx)
		},
		ID:       blockID,
		Cache:    store,
		Clock:    fc,
		OnUpdate: rec.add,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer f.Stop()

	if err := f.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if rec.len() != 1 {
		t.Fatalf("updates before first fetch = %d, want the cached one", rec.len())
	}
	primed := rec.last()
	if !primed.FromCache || len(primed.Items) != 1 || !primed.FetchedAt.Equal(epoch) {
		t.Fatalf("primed update = %+v", primed)
	}

	close(release)
	waitFor(t, "live update", func() bool { return rec.len() == 2 })
	if u := rec.last(); u.FromCache || u.Delta.IsNew {
		t.Fatalf("live update after priming = %+v", u)
	}
}

func TestFeedIgnoresOtherCacheVersion(t *testing.T) {
	fc := testingclock.NewFakeClock(epoch)
	store := newTestStore(t, fc)
	store.Set("latest_blocks", []block{{"old", 1}}, time.Minute, "0")

	rec := &recorder[block]{}
	f := newTestFeed(t, &source{}, store, fc, rec)
	f.prime()
	if rec.len() != 0 {
		t.Fatalf("stale version primed the feed: %+v", rec.all())
	}
}

func TestFeedFirstLoadFailure(t *testing.T) {
	fc := testingclock.NewFakeClock(epoch)
	src := &source{err: errs.Network("latest blocks", errors.New("connection refused"))}
	rec := &recorder[block]{}
	f := newTestFeed(t, src, nil, fc, rec)

	if err := f.FetchNow(context.Background()); err == nil {
		t.Fatal("FetchNow swallowed the error")
	}
	u := rec.last()
	if u.Err == nil || u.Stale || u.Items != nil {
		t.Fatalf("first-load failure update = %+v", u)
	}
	if !errs.IsUserVisible(u.Err) {
		t.Error("network error should be user visible")
	}
}

func TestFeedBackgroundFailureKeepsStaleData(t *testing.T) {
	fc := testingclock.NewFakeClock(epoch)
	src := &source{items: []block{{"b1", 1}}}
	rec := &recorder[block]{}
	f := newTestFeed(t, src, nil, fc, rec)
	ctx := context.Background()

	f.FetchNow(ctx)
	src.set(nil, errors.New("503"))
	f.FetchNow(ctx)

	u := rec.last()
	if u.Err == nil || !u.Stale || len(u.Items) != 1 || u.Items[0].Hash != "b1" {
		t.Fatalf("background failure update = %+v", u)
	}
	if f.LastError() == nil {
		t.Error("LastError not recorded")
	}
	items, _, ok := f.Snapshot()
	if !ok || items[0].Hash != "b1" {
		t.Fatalf("Snapshot lost last-good data: %+v", items)
	}

	src.set([]block{{"b1", 1}}, nil)
	f.FetchNow(ctx)
	if f.LastError() != nil {
		t.Error("LastError not cleared by success")
	}
}

func TestFeedDiscardsCancellation(t *testing.T) {
	fc := testingclock.NewFakeClock(epoch)
	started := make(chan struct{})
	rec := &recorder[block]{}
	f, err := NewFeed(Config[block]{
		Key:      "latest_blocks",
		Interval: time.Second,
		Fetch: func(ctx context.Context) ([]block, error) {
			close(started)
			<-ctx.Done()
			return nil, errs.New(errs.KindCancellation, "latest blocks", ctx.Err())
		},
		Clock:    fc,
		OnUpdate: rec.add,
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := f.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	<-started
	f.Stop()
	if rec.len() != 0 {
		t.Fatalf("cancellation produced updates: %+v", rec.all())
	}
}

func TestFeedDropsSupersededResponse(t *testing.T) {
	fc := testingclock.NewFakeClock(epoch)
	slow := make(chan struct{})
	var calls atomic.Int32
	rec := &recorder[block]{}
	f, err := NewFeed(Config[block]{
		Key:      "latest_blocks",
		Interval: time.Second,
		Fetch: func(ctx context.Context) ([]block, error) {
			if calls.Add(1) == 1 {
				<-slow
				return []block{{"old", 1}}, nil
			}
			return []block{{"new", 2}}, nil
		},
		ID:       blockID,
		Clock:    fc,
		OnUpdate: rec.add,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer f.Stop()

	if err := f.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "first fetch in flight", func() bool { return calls.Load() == 1 })
	f.Scheduler().Trigger()
	waitFor(t, "second fetch published", func() bool { return rec.len() == 1 })

	close(slow)
	waitFor(t, "slow fetch recorded", func() bool { return f.Scheduler().Session().Runs == 2 })

	if rec.len() != 1 {
		t.Fatalf("superseded response published: %+v", rec.all())
	}
	if got := rec.last().Items[0].Hash; got != "new" {
		t.Fatalf("published %q, want new", got)
	}
}

func TestFeedOlderSuccessLandsAfterNewerFailure(t *testing.T) {
	fc := testingclock.NewFakeClock(epoch)
	slow := make(chan struct{})
	var calls atomic.Int32
	rec := &recorder[block]{}
	f, err := NewFeed(Config[block]{
		Key:      "latest_blocks",
		Interval: time.Second,
		Fetch: func(ctx context.Context) ([]block, error) {
			if calls.Add(1) == 1 {
				<-slow
				return []block{{"old", 1}}, nil
			}
			return nil, errOffline
		},
		ID:       blockID,
		Clock:    fc,
		OnUpdate: rec.add,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer f.Stop()

	if err := f.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "first fetch in flight", func() bool { return calls.Load() == 1 })
	f.Scheduler().Trigger()
	waitFor(t, "failure published", func() bool { return rec.len() == 1 })
	if rec.last().Err == nil {
		t.Fatalf("first update = %+v, want the failure", rec.last())
	}

	close(slow)
	waitFor(t, "older success published", func() bool { return rec.len() == 2 })
	u := rec.last()
	if u.Err != nil || len(u.Items) != 1 || u.Items[0].Hash != "old" {
		t.Fatalf("second update = %+v, want the older success", u)
	}
	if f.LastError() != nil {
		t.Errorf("LastError = %v after success", f.LastError())
	}
	if items, _, ok := f.Snapshot(); !ok || items[0].Hash != "old" {
		t.Errorf("snapshot = %+v", items)
	}
}

func TestFeedOlderFailureDroppedAfterNewerFailure(t *testing.T) {
	fc := testingclock.NewFakeClock(epoch)
	slow := make(chan struct{})
	var calls atomic.Int32
	rec := &recorder[block]{}
	errSlow := errors.New("slow failure")
	f, err := NewFeed(Config[block]{
		Key:      "latest_blocks",
		Interval: time.Second,
		Fetch: func(ctx context.Context) ([]block, error) {
			if calls.Add(1) == 1 {
				<-slow
				return nil, errSlow
			}
			return nil, errOffline
		},
		Clock:    fc,
		OnUpdate: rec.add,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer f.Stop()

	if err := f.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "first fetch in flight", func() bool { return calls.Load() == 1 })
	f.Scheduler().Trigger()
	waitFor(t, "newer failure published", func() bool { return rec.len() == 1 })

	close(slow)
	waitFor(t, "slow fetch recorded", func() bool { return f.Scheduler().Session().Runs == 2 })
	if rec.len() != 1 {
		t.Fatalf("older failure published: %+v", rec.all())
	}
	if !errors.Is(f.LastError(), errOffline) {
		t.Errorf("LastError = %v, want the newer failure", f.LastError())
	}
}

func TestFeedRefreshThrottled(t *testing.T) {
	fc := testingclock.NewFakeClock(epoch)
	src := &source{items: []block{{"b1", 1}}}
	rec := &recorder[block]{}
	f := newTestFeed(t, src, nil, fc, rec)

	if err := f.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "immediate cycle", func() bool { return src.calls.Load() == 1 })

	if !f.Refresh() {
		t.Fatal("first Refresh should trigger immediately")
	}
	waitFor(t, "refresh cycle", func() bool { return src.calls.Load() == 2 })
	for i := 0; i < 5; i++ {
		if f.Refresh() {
			t.Fatalf("Refresh %d inside the window ran immediately", i)
		}
	}
	time.Sleep(20 * time.Millisecond)
	if got := src.calls.Load(); got != 2 {
		t.Fatalf("fetches during window = %d, want 2", got)
	}
}

func TestFeedStopWithoutStart(t *testing.T) {
	f, err := NewFeed(Config[block]{Key: "k", Interval: time.Second, Fetch: (&source{}).fetch})
	if err != nil {
		t.Fatal(err)
	}
	f.Stop()
	if f.Highlighted() {
		t.Error("feed without ID reports a highlight")
	}
}

// --- Hybrid ---

type liveView struct {
	Balance *float64 `json:"balance,omitempty"`
	Enabled *bool    `json:"stakingEnabled,omitempty"`
}

type histView struct {
	Balance *float64 `json:"balance,omitempty"`
	Rewards *float64 `json:"totalRewards,omitempty"`
}

var testTable = merge.MustTable(
	merge.Live("balance", 0.0),
	merge.Live("stakingEnabled", false),
	merge.Historical("totalRewards", 0.0),
)

func ptr[T any](v T) *T { return &v }

func newHybrid(t *testing.T, live func(context.Context) (liveView, error), hist func(context.Context) (histView, error), rec *recorder[merge.ViewModel]) *Feed[merge.ViewModel] {
	t.Helper()
	f, err := NewHybridFeed(HybridConfig[liveView, histView]{
		Feed: Config[merge.ViewModel]{
			Key:      "staking_iAlice",
			Interval: time.Second,
			Clock:    testingclock.NewFakeClock(epoch),
			OnUpdate: rec.add,
		},
		Live:       live,
		Historical: hist,
		Table:      testTable,
	})
	if err != nil {
		t.Fatalf("NewHybridFeed: %v", err)
	}
	t.Cleanup(f.Stop)
	return f
}

func TestHybridMergesBothSources(t *testing.T) {
	rec := &recorder[merge.ViewModel]{}
	f := newHybrid(t,
		func(context.Context) (liveView, error) { return liveView{Balance: ptr(12.5)}, nil },
		func(context.Context) (histView, error) { return histView{Balance: ptr(10.0), Rewards: ptr(3.0)}, nil },
		rec)

	if err := f.FetchNow(context.Background()); err != nil {
		t.Fatal(err)
	}
	vm := rec.last().Items[0]
	if vm.Get("balance") != 12.5 || vm.Source("balance") != merge.SourceLive {
		t.Errorf("balance = %v from %s", vm.Get("balance"), vm.Source("balance"))
	}
	if vm.Get("totalRewards") != 3.0 || vm.Source("totalRewards") != merge.SourceHistorical {
		t.Errorf("totalRewards = %v from %s", vm.Get("totalRewards"), vm.Source("totalRewards"))
	}
	if vm.Source("stakingEnabled") != merge.SourceDefault {
		t.Errorf("stakingEnabled source = %s", vm.Source("stakingEnabled"))
	}
}

func TestHybridOneSourceFails(t *testing.T) {
	rec := &recorder[merge.ViewModel]{}
	f := newHybrid(t,
		func(context.Context) (liveView, error) { return liveView{}, errors.New("node down") },
		func(context.Context) (histView, error) { return histView{Balance: ptr(10.0)}, nil },
		rec)

	if err := f.FetchNow(context.Background()); err != nil {
		t.Fatalf("partial failure failed the cycle: %v", err)
	}
	vm := rec.last().Items[0]
	if vm.Source("balance") != merge.SourceHistorical {
		t.Errorf("balance source = %s, want historical fallback", vm.Source("balance"))
	}
}

func TestHybridBothSourcesFail(t *testing.T) {
	rec := &recorder[merge.ViewModel]{}
	f := newHybrid(t,
		func(context.Context) (liveView, error) { return liveView{}, errors.New("node down") },
		func(context.Context) (histView, error) { return histView{}, errors.New("indexer down") },
		rec)

	if err := f.FetchNow(context.Background()); err == nil {
		t.Fatal("both sources failed but cycle succeeded")
	}
	if u := rec.last(); u.Err == nil || u.Stale {
		t.Fatalf("update = %+v", u)
	}
}

func TestHybridSourcesRunConcurrently(t *testing.T) {
	rec := &recorder[merge.ViewModel]{}
	histStarted := make(chan struct{})
	f := newHybrid(t,
		func(ctx context.Context) (liveView, error) {
			// Blocks until the historical fetch is running alongside.
			select {
			case <-histStarted:
			case <-time.After(2 * time.Second):
				return liveView{}, errors.New("historical never started")
			}
			return liveView{}, errors.New("node down")
		},
		func(context.Context) (histView, error) {
			close(histStarted)
			return histView{Balance: ptr(10.0)}, nil
		},
		rec)

	if err := f.FetchNow(context.Background()); err != nil {
		t.Fatalf("cycle failed: %v", err)
	}
	if vm := rec.last().Items[0]; vm.Get("balance") != 10.0 {
		t.Errorf("balance = %v, want the historical value", vm.Get("balance"))
	}
}

func TestHybridBothFailuresReported(t *testing.T) {
	errNode := errors.New("node down")
	errIndexer := errors.New("indexer down")
	rec := &recorder[merge.ViewModel]{}
	f := newHybrid(t,
		func(context.Context) (liveView, error) { return liveView{}, errNode },
		func(context.Context) (histView, error) { return histView{}, errIndexer },
		rec)

	err := f.FetchNow(context.Background())
	if !errors.Is(err, errNode) || !errors.Is(err, errIndexer) {
		t.Fatalf("err = %v, want both source errors", err)
	}
}

func TestHybridConfigValidation(t *testing.T) {
	_, err := NewHybridFeed(HybridConfig[liveView, histView]{
		Feed:  Config[merge.ViewModel]{Key: "k", Interval: time.Second},
		Table: testTable,
	})
	if err == nil {
		t.Fatal("missing sources accepted")
	}
}
