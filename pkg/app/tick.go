package app

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/caribu66/veruspulse-sub005/pkg/api"
)

// TickCmd returns a bubbletea Cmd that sends a TickEvent after the given
// duration.
func TickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return TickEvent{Time: t}
	})
}

// LookupFunc resolves an identity by name.
type LookupFunc func(ctx context.Context, name string) (api.VerusID, error)

// SearchCmd runs lookup in a goroutine and delivers a SearchResultEvent.
// Cancelling ctx abandons the lookup; the event still arrives carrying the
// cancellation error so the receiver can clear its spinner.
func SearchCmd(ctx context.Context, seq uint64, query string, lookup LookupFunc) tea.Cmd {
	return func() tea.Msg {
		id, err := lookup(ctx, query)
		return SearchResultEvent{Seq: seq, Query: query, Identity: id, Err: err}
	}
}
