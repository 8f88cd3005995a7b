package poll

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds the named schedulers of a running process so the daemon
// can report and control them. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	schedulers map[string]*Scheduler
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{schedulers: make(map[string]*Scheduler)}
}

// Register adds a scheduler. It returns an error if the name is taken.
func (r *Registry) Register(s *Scheduler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := s.Name()
	if _, exists := r.schedulers[name]; exists {
		return fmt.Errorf("scheduler %q already registered", name)
	}
	r.schedulers[name] = s
	return nil
}

// Unregister removes a scheduler by name. It is a no-op if the name is not
// found. The scheduler itself is not stopped.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.schedulers, name)
}

// Get returns the scheduler with the given name.
func (r *Registry) Get(name string) (*Scheduler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schedulers[name]
	return s, ok
}

// List returns the registered names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.schedulers))
	for name := range r.schedulers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Sessions returns a snapshot of every scheduler, sorted by name.
func (r *Registry) Sessions() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Session, 0, len(r.schedulers))
	for _, s := range r.schedulers {
		out = append(out, s.Session())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Pause pauses the named scheduler.
func (r *Registry) Pause(name string) error {
	return r.control(name, "pause", (*Scheduler).Pause)
}

// Resume resumes the named scheduler.
func (r *Registry) Resume(name string) error {
	return r.control(name, "resume", (*Scheduler).Resume)
}

// Trigger requests an immediate cycle on the named scheduler.
func (r *Registry) Trigger(name string) error {
	return r.control(name, "trigger", (*Scheduler).Trigger)
}

func (r *Registry) control(name, verb string, fn func(*Scheduler) bool) error {
	s, ok := r.Get(name)
	if !ok {
		return fmt.Errorf("unknown feed %q", name)
	}
	if !fn(s) {
		return fmt.Errorf("cannot %s %q while %s", verb, name, s.State())
	}
	return nil
}

// StopAll stops every registered scheduler.
func (r *Registry) StopAll() {
	r.mu.RLock()
	all := make([]*Scheduler, 0, len(r.schedulers))
	for _, s := range r.schedulers {
		all = append(all, s)
	}
	r.mu.RUnlock()

	var wg sync.WaitGroup
	for _, s := range all {
		wg.Add(1)
		go func(s *Scheduler) {
			defer wg.Done()
			s.Stop()
		}(s)
	}
	wg.Wait()
}
