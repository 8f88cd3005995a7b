package stats

import (
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

// --- Activity ---

func TestActivityDistinctIdentities(t *testing.T) {
	a := NewActivity()
	for i := 0; i < 1000; i++ {
		a.Record(fmt.Sprintf("evt-%d", i), "stake", fmt.Sprintf("id-%d@", i%100), decimal.NewFromInt(1))
	}

	snap := a.Snapshot()
	if snap.Identities < 95 || snap.Identities > 105 {
		t.Errorf("Identities = %d, want about 100", snap.Identities)
	}
	if snap.Events < 970 || snap.Events > 1030 {
		t.Errorf("Events = %d, want about 1000", snap.Events)
	}
	if snap.Recorded != 1000 {
		t.Errorf("Recorded = %d", snap.Recorded)
	}
	if !snap.Volume.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("Volume = %s", snap.Volume)
	}
}

func TestActivityByTypeOrdering(t *testing.T) {
	a := NewActivity()
	record := func(kind string, n int) {
		for i := 0; i < n; i++ {
			a.Record(kind+fmt.Sprint(i), kind, "", decimal.Zero)
		}
	}
	record("transfer", 2)
	record("stake", 5)
	record("block", 2)

	want := []TypeCount{{"stake", 5}, {"block", 2}, {"transfer", 2}}
	if got := a.Snapshot().ByType; !reflect.DeepEqual(got, want) {
		t.Fatalf("ByType = %v, want %v", got, want)
	}
	if got := a.Snapshot().Identities; got != 0 {
		t.Errorf("Identities = %d without identities", got)
	}
}

func TestActivityMerge(t *testing.T) {
	a, b := NewActivity(), NewActivity()
	a.Record("1", "stake", "alice@", decimal.NewFromFloat(1.5))
	b.Record("2", "stake", "alice@", decimal.NewFromFloat(2.5))
	b.Record("3", "block", "bob@", decimal.Zero)

	if err := a.Merge(b); err != nil {
		t.Fatal(err)
	}
	snap := a.Snapshot()
	if snap.Identities != 2 {
		t.Errorf("Identities = %d, want 2", snap.Identities)
	}
	if snap.Recorded != 3 || !snap.Volume.Equal(decimal.NewFromInt(4)) {
		t.Errorf("snapshot = %+v", snap)
	}
}

// --- Series ---

func TestSeriesBounded(t *testing.T) {
	s := NewSeries(3)
	base := time.Unix(1700000000, 0)
	for i := 1; i <= 5; i++ {
		s.Add(base.Add(time.Duration(i)*time.Second), float64(i))
	}

	if s.Len() != 3 {
		t.Fatalf("Len = %d", s.Len())
	}
	if got := s.Values(); !reflect.DeepEqual(got, []float64{3, 4, 5}) {
		t.Fatalf("Values = %v", got)
	}
	last, ok := s.Last()
	if !ok || last.Value != 5 || !last.At.Equal(base.Add(5*time.Second)) {
		t.Errorf("Last = %+v, %v", last, ok)
	}
	lo, hi := s.MinMax()
	if lo != 3 || hi != 5 {
		t.Errorf("MinMax = %v, %v", lo, hi)
	}
}

func TestSeriesEmpty(t *testing.T) {
	s := NewSeries(0)
	if _, ok := s.Last(); ok {
		t.Error("Last on empty series")
	}
	if lo, hi := s.MinMax(); lo != 0 || hi != 0 {
		t.Errorf("MinMax = %v, %v", lo, hi)
	}
	s.Add(time.Now(), 1)
	s.Add(time.Now(), 2)
	if got := s.Values(); !reflect.DeepEqual(got, []float64{2}) {
		t.Errorf("capacity clamp: %v", got)
	}
}
