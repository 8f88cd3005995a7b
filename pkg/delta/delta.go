// Package delta detects newly-appeared items at the head of polled
// sequences. Sequences are assumed to be ordered newest first; only heads
// are compared.
package delta

import "sync"

// Result is the outcome of comparing a fresh sequence against the head
// seen on the previous poll.
type Result[T any] struct {
	// Newest is the head of the new sequence, nil when it was empty.
	Newest *T
	// IsNew is set when a previous head existed and the new head differs.
	IsNew bool
	// Fresh counts items ahead of the previous head. When the previous head
	// is no longer present the whole sequence counts as fresh.
	Fresh int
}

// Detect compares the head of seq against previous using key for identity.
// The first observation (nil previous) is never new, an unchanged head is
// never new, and an empty sequence is never new.
func Detect[T any](previous *T, seq []T, key func(T) string) Result[T] {
	if len(seq) == 0 {
		return Result[T]{}
	}
	head := seq[0]
	res := Result[T]{Newest: &head}
	if previous == nil {
		return res
	}

	prevKey := key(*previous)
	if key(head) == prevKey {
		return res
	}

	res.IsNew = true
	res.Fresh = len(seq)
	for i, item := range seq {
		if key(item) == prevKey {
			res.Fresh = i
			break
		}
	}
	return res
}

// Tracker remembers the head across polls. It is safe for concurrent use.
type Tracker[T any] struct {
	key func(T) string

	mu   sync.Mutex
	head *T
}

// NewTracker returns a Tracker that identifies items with key.
func NewTracker[T any](key func(T) string) *Tracker[T] {
	return &Tracker[T]{key: key}
}

// Observe compares seq with the remembered head and, when seq is not
// empty, remembers its head for the next call. An empty sequence keeps the
// previous head so a transient empty response does not reset detection.
func (t *Tracker[T]) Observe(seq []T) Result[T] {
	t.mu.Lock()
	defer t.mu.Unlock()

	res := Detect(t.head, seq, t.key)
	if res.Newest != nil {
		t.head = res.Newest
	}
	return res
}

// Head returns the remembered head.
func (t *Tracker[T]) Head() (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.head == nil {
		var zero T
		return zero, false
	}
	return *t.head, true
}

// Reset forgets the remembered head; the next Observe is a first
// observation again.
func (t *Tracker[T]) Reset() {
	t.mu.Lock()
	t.head = nil
	t.mu.Unlock()
}
