// Package app defines the messages and plumbing shared by the bubbletea
// dashboard: feed events, the focus ring, and the sink that forwards
// synchronizer updates into the program.
package app

import (
	"time"

	"github.com/caribu66/veruspulse-sub005/pkg/api"
)

// FeedEvent carries one feed update into the bubbletea update loop.
// Receivers type-assert Data based on Source.
type FeedEvent struct {
	Source    string // feed key, e.g. "latest_blocks"
	Data      any    // []T for the feed's item type
	Err       error
	Stale     bool // Data is the last good value and Err is set
	FromCache bool
	IsNew     bool // the head changed since the previous update
	Fresh     int
	Timestamp time.Time
}

// HighlightEvent turns the new-data highlight of a feed on or off.
type HighlightEvent struct {
	Source string
	Active bool
}

// TickEvent is sent periodically by the render ticker to refresh relative
// timestamps.
type TickEvent struct {
	Time time.Time
}

// SearchResultEvent is the outcome of one identity lookup. Seq lets the
// receiver drop results of superseded searches.
type SearchResultEvent struct {
	Seq      uint64
	Query    string
	Identity api.VerusID
	Err      error
}
