package components

import (
	"fmt"
	"math"
	"strings"

	"github.com/caribu66/veruspulse-sub005/pkg/stats"
)

// Sparkline block characters: 8 vertical levels per cell.
var sparkBlocks = [8]rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

// Sparkline renders the last width values as block characters scaled to
// their own min and max.
func Sparkline(data []float64, width int) string {
	if len(data) == 0 || width <= 0 {
		return ""
	}
	if len(data) > width {
		data = data[len(data)-width:]
	}

	lo, hi := data[0], data[0]
	for _, v := range data[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	span := hi - lo

	var b strings.Builder
	for _, v := range data {
		idx := 3 // flat series sit mid-height
		if span > 0 {
			idx = int(math.Round((v - lo) / span * 7))
		}
		b.WriteRune(sparkBlocks[idx])
	}
	return b.String()
}

// SeriesSparkline renders a stats.Series.
func SeriesSparkline(s *stats.Series, width int) string {
	if s == nil {
		return ""
	}
	return Sparkline(s.Values(), width)
}

// Trend describes the change between the last two values as an arrow and
// a percentage, e.g. "↑12.5%".
func Trend(data []float64) string {
	if len(data) < 2 {
		return "→0.0%"
	}
	prev, curr := data[len(data)-2], data[len(data)-1]

	var delta float64
	switch {
	case prev != 0:
		delta = (curr - prev) / math.Abs(prev) * 100
	case curr > 0:
		delta = 100
	case curr < 0:
		delta = -100
	}

	switch {
	case delta > 0:
		return fmt.Sprintf("↑%.1f%%", delta)
	case delta < 0:
		return fmt.Sprintf("↓%.1f%%", -delta)
	default:
		return "→0.0%"
	}
}
