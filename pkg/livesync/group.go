package livesync

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/caribu66/veruspulse-sub005/pkg/poll"
)

// Runner is the type-independent surface of a Feed.
type Runner interface {
	Name() string
	Start(ctx context.Context) error
	Stop()
	Refresh() bool
	FetchNow(ctx context.Context) error
	Scheduler() *poll.Scheduler
}

var _ Runner = (*Feed[int])(nil)

// Group owns the feeds of one screen or process. Started feeds are
// registered in the group's poll registry under their names.
type Group struct {
	registry *poll.Registry

	mu      sync.Mutex
	runners []Runner
	byName  map[string]Runner
	started bool
}

// NewGroup returns an empty group reporting into reg. A nil reg gets a
// fresh registry.
func NewGroup(reg *poll.Registry) *Group {
	if reg == nil {
		reg = poll.NewRegistry()
	}
	return &Group{
		registry: reg,
		byName:   make(map[string]Runner),
	}
}

// Registry returns the poll registry the group reports into.
func (g *Group) Registry() *poll.Registry { return g.registry }

// Add appends a feed. Names must be unique within the group.
func (g *Group) Add(r Runner) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, dup := g.byName[r.Name()]; dup {
		return fmt.Errorf("feed %q already in group", r.Name())
	}
	g.runners = append(g.runners, r)
	g.byName[r.Name()] = r
	return nil
}

// Get returns the named feed.
func (g *Group) Get(name string) (Runner, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.byName[name]
	return r, ok
}

// Names returns feed names in insertion order.
func (g *Group) Names() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.runners))
	for i, r := range g.runners {
		out[i] = r.Name()
	}
	return out
}

// Start registers and starts every feed. If one fails to start, the
// feeds already started are stopped again.
func (g *Group) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.started {
		return fmt.Errorf("feed group already started")
	}

	for i, r := range g.runners {
		if err := g.registry.Register(r.Scheduler()); err != nil {
			g.stopLocked(g.runners[:i])
			return err
		}
		if err := r.Start(ctx); err != nil {
			g.registry.Unregister(r.Name())
			g.stopLocked(g.runners[:i])
			return err
		}
	}
	g.started = true
	return nil
}

// Stop stops every feed and removes it from the registry.
func (g *Group) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stopLocked(g.runners)
	g.started = false
}

func (g *Group) stopLocked(runners []Runner) {
	var wg sync.WaitGroup
	for _, r := range runners {
		wg.Add(1)
		go func(r Runner) {
			defer wg.Done()
			r.Stop()
			g.registry.Unregister(r.Name())
		}(r)
	}
	wg.Wait()
}

// Refresh requests a throttled refresh of the named feed.
func (g *Group) Refresh(name string) error {
	r, ok := g.Get(name)
	if !ok {
		return fmt.Errorf("unknown feed %q", name)
	}
	r.Refresh()
	return nil
}

// RefreshAll runs one synchronous cycle on every feed concurrently and
// returns the first error. Every feed runs to completion regardless.
func (g *Group) RefreshAll(ctx context.Context) error {
	g.mu.Lock()
	runners := append([]Runner(nil), g.runners...)
	g.mu.Unlock()

	var eg errgroup.Group
	for _, r := range runners {
		eg.Go(func() error {
			if err := r.FetchNow(ctx); err != nil {
				return fmt.Errorf("%s: %w", r.Name(), err)
			}
			return nil
		})
	}
	return eg.Wait()
}
