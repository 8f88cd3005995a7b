package app

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/caribu66/veruspulse-sub005/pkg/api"
	"github.com/caribu66/veruspulse-sub005/pkg/livesync"
	"github.com/caribu66/veruspulse-sub005/pkg/merge"
)

// Sender delivers a message to a running program. *tea.Program satisfies
// it.
type Sender interface {
	Send(msg tea.Msg)
}

// ProgramSink forwards dashboard updates to a bubbletea program.
type ProgramSink struct {
	to Sender
}

var _ livesync.Sink = ProgramSink{}

// NewProgramSink returns a sink sending to s.
func NewProgramSink(s Sender) ProgramSink {
	return ProgramSink{to: s}
}

// Blocks implements livesync.Sink.
func (p ProgramSink) Blocks(u livesync.Update[api.Block]) { p.to.Send(feedEvent(u)) }

// Mempool implements livesync.Sink.
func (p ProgramSink) Mempool(u livesync.Update[api.Mempool]) { p.to.Send(feedEvent(u)) }

// Activity implements livesync.Sink.
func (p ProgramSink) Activity(u livesync.Update[api.ActivityEvent]) { p.to.Send(feedEvent(u)) }

// Trending implements livesync.Sink.
func (p ProgramSink) Trending(u livesync.Update[api.TrendingIdentity]) { p.to.Send(feedEvent(u)) }

// Featured implements livesync.Sink.
func (p ProgramSink) Featured(u livesync.Update[api.VerusID]) { p.to.Send(feedEvent(u)) }

// Staking implements livesync.Sink.
func (p ProgramSink) Staking(u livesync.Update[merge.ViewModel]) { p.to.Send(feedEvent(u)) }

// Highlight implements livesync.Sink.
func (p ProgramSink) Highlight(key string, active bool) {
	p.to.Send(HighlightEvent{Source: key, Active: active})
}

func feedEvent[T any](u livesync.Update[T]) FeedEvent {
	return FeedEvent{
		Source:    u.Key,
		Data:      u.Items,
		Err:       u.Err,
		Stale:     u.Stale,
		FromCache: u.FromCache,
		IsNew:     u.Delta.IsNew,
		Fresh:     u.Delta.Fresh,
		Timestamp: u.FetchedAt,
	}
}
