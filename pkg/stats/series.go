package stats

import (
	"sync"
	"time"
)

// Point is one sample of a Series.
type Point struct {
	At    time.Time `json:"at"`
	Value float64   `json:"value"`
}

// Series is a bounded, append-only time series. When full, the oldest
// sample is dropped. It is safe for concurrent use.
type Series struct {
	mu     sync.Mutex
	points []Point
	start  int
	n      int
}

// NewSeries returns a series holding at most capacity samples.
func NewSeries(capacity int) *Series {
	if capacity < 1 {
		capacity = 1
	}
	return &Series{points: make([]Point, capacity)}
}

// Add appends a sample.
func (s *Series) Add(at time.Time, v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := (s.start + s.n) % len(s.points)
	s.points[idx] = Point{At: at, Value: v}
	if s.n < len(s.points) {
		s.n++
	} else {
		s.start = (s.start + 1) % len(s.points)
	}
}

// Len returns the number of stored samples.
func (s *Series) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.n
}

// Points returns the samples, oldest first.
func (s *Series) Points() []Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Point, s.n)
	for i := 0; i < s.n; i++ {
		out[i] = s.points[(s.start+i)%len(s.points)]
	}
	return out
}

// Values returns the sample values, oldest first.
func (s *Series) Values() []float64 {
	pts := s.Points()
	out := make([]float64, len(pts))
	for i, p := range pts {
		out[i] = p.Value
	}
	return out
}

// Last returns the newest sample.
func (s *Series) Last() (Point, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.n == 0 {
		return Point{}, false
	}
	return s.points[(s.start+s.n-1)%len(s.points)], true
}

// MinMax returns the smallest and largest values, or zeros when empty.
func (s *Series) MinMax() (lo, hi float64) {
	vals := s.Values()
	if len(vals) == 0 {
		return 0, 0
	}
	lo, hi = vals[0], vals[0]
	for _, v := range vals[1:] {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	return lo, hi
}
