// Package stats keeps running statistics over feed data for the dashboard
// header: distinct identities and events seen, volume by event type, and
// short time series such as mempool size.
package stats

import (
	"sort"
	"sync"

	"github.com/axiomhq/hyperloglog"
	"github.com/shopspring/decimal"
)

// Activity accumulates activity events. Distinct counts are estimated
// with HyperLogLog sketches (about 1.6% error). It is safe for concurrent
// use.
type Activity struct {
	mu         sync.Mutex
	events     *hyperloglog.Sketch
	identities *hyperloglog.Sketch
	byType     map[string]int64
	volume     decimal.Decimal
	recorded   int64
}

// NewActivity returns empty activity statistics.
func NewActivity() *Activity {
	return &Activity{
		events:     hyperloglog.New14(),
		identities: hyperloglog.New14(),
		byType:     make(map[string]int64),
	}
}

// Record adds one event. Re-recording the same event ID does not change
// the distinct event estimate but does count toward the per-type totals,
// so callers should pass only events they have not recorded before.
func (a *Activity) Record(id, kind, identity string, amount decimal.Decimal) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.events.Insert([]byte(id))
	if identity != "" {
		a.identities.Insert([]byte(identity))
	}
	a.byType[kind]++
	a.volume = a.volume.Add(amount)
	a.recorded++
}

// TypeCount is the number of events of one type.
type TypeCount struct {
	Type  string `json:"type"`
	Count int64  `json:"count"`
}

// ActivitySnapshot is a point-in-time copy of Activity.
type ActivitySnapshot struct {
	Events     uint64          `json:"events"`
	Identities uint64          `json:"identities"`
	Recorded   int64           `json:"recorded"`
	Volume     decimal.Decimal `json:"volume"`
	ByType     []TypeCount     `json:"byType"`
}

// Snapshot returns the current statistics. ByType is sorted by count,
// highest first, then by type name.
func (a *Activity) Snapshot() ActivitySnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	snap := ActivitySnapshot{
		Events:     a.events.Estimate(),
		Identities: a.identities.Estimate(),
		Recorded:   a.recorded,
		Volume:     a.volume,
		ByType:     make([]TypeCount, 0, len(a.byType)),
	}
	for t, n := range a.byType {
		snap.ByType = append(snap.ByType, TypeCount{Type: t, Count: n})
	}
	sort.Slice(snap.ByType, func(i, j int) bool {
		if snap.ByType[i].Count != snap.ByType[j].Count {
			return snap.ByType[i].Count > snap.ByType[j].Count
		}
		return snap.ByType[i].Type < snap.ByType[j].Type
	})
	return snap
}

// Merge folds other into a. Sketches are merged, so identities seen by
// both count once.
func (a *Activity) Merge(other *Activity) error {
	other.mu.Lock()
	events := other.events.Clone()
	identities := other.identities.Clone()
	byType := make(map[string]int64, len(other.byType))
	for k, v := range other.byType {
		byType[k] = v
	}
	volume, recorded := other.volume, other.recorded
	other.mu.Unlock()

	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.events.Merge(events); err != nil {
		return err
	}
	if err := a.identities.Merge(identities); err != nil {
		return err
	}
	for k, v := range byType {
		a.byType[k] += v
	}
	a.volume = a.volume.Add(volume)
	a.recorded += recorded
	return nil
}
