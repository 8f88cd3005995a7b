package app

import (
	"context"
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/caribu66/veruspulse-sub005/pkg/api"
	"github.com/caribu66/veruspulse-sub005/pkg/delta"
	"github.com/caribu66/veruspulse-sub005/pkg/livesync"
)

type recorder struct{ msgs []tea.Msg }

func (r *recorder) Send(msg tea.Msg) { r.msgs = append(r.msgs, msg) }

// --- Focus ---

func TestFocusRingWraps(t *testing.T) {
	f := NewFocusRing("blocks", "mempool", "activity")
	if f.Current() != "blocks" {
		t.Fatalf("Current = %q", f.Current())
	}
	f.Prev()
	if f.Current() != "activity" {
		t.Errorf("Prev from first = %q", f.Current())
	}
	f.Next()
	f.Next()
	if f.Current() != "mempool" {
		t.Errorf("Next = %q", f.Current())
	}
	if f.Focus("nope") || f.Current() != "mempool" {
		t.Error("unknown id changed focus")
	}
	if !f.Focus("activity") || f.Current() != "activity" {
		t.Error("Focus(activity) failed")
	}
}

func TestFocusRingEmpty(t *testing.T) {
	f := NewFocusRing()
	f.Next()
	f.Prev()
	if f.Current() != "" {
		t.Errorf("Current = %q", f.Current())
	}
}

// --- Sink ---

func TestProgramSinkForwardsUpdates(t *testing.T) {
	var r recorder
	sink := NewProgramSink(&r)
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	blocks := []api.Block{{Hash: "b2"}, {Hash: "b1"}}

	sink.Blocks(livesync.Update[api.Block]{
		Key:       livesync.KeyBlocks,
		Items:     blocks,
		Delta:     delta.Result[api.Block]{Newest: &blocks[0], IsNew: true, Fresh: 1},
		FetchedAt: at,
	})
	sink.Highlight(livesync.KeyBlocks, true)

	if len(r.msgs) != 2 {
		t.Fatalf("msgs = %d, want 2", len(r.msgs))
	}
	ev, ok := r.msgs[0].(FeedEvent)
	if !ok {
		t.Fatalf("first msg = %T", r.msgs[0])
	}
	if ev.Source != livesync.KeyBlocks || !ev.IsNew || ev.Fresh != 1 || !ev.Timestamp.Equal(at) {
		t.Errorf("event = %+v", ev)
	}
	if got, ok := ev.Data.([]api.Block); !ok || len(got) != 2 {
		t.Errorf("Data = %#v", ev.Data)
	}
	if hl := r.msgs[1].(HighlightEvent); hl.Source != livesync.KeyBlocks || !hl.Active {
		t.Errorf("highlight = %+v", hl)
	}
}

func TestProgramSinkCarriesErrors(t *testing.T) {
	var r recorder
	boom := errors.New("boom")
	NewProgramSink(&r).Mempool(livesync.Update[api.Mempool]{
		Key:   livesync.KeyMempool,
		Items: []api.Mempool{{Size: 3}},
		Err:   boom,
		Stale: true,
	})
	ev := r.msgs[0].(FeedEvent)
	if !errors.Is(ev.Err, boom) || !ev.Stale {
		t.Errorf("event = %+v", ev)
	}
}

// --- Commands ---

func TestSearchCmd(t *testing.T) {
	lookup := func(_ context.Context, name string) (api.VerusID, error) {
		return api.VerusID{Name: name, Address: "iAddr"}, nil
	}
	msg := SearchCmd(context.Background(), 7, "alice", lookup)()
	res, ok := msg.(SearchResultEvent)
	if !ok {
		t.Fatalf("msg = %T", msg)
	}
	if res.Seq != 7 || res.Query != "alice" || res.Identity.Address != "iAddr" || res.Err != nil {
		t.Errorf("result = %+v", res)
	}
}

func TestSearchCmdCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	lookup := func(ctx context.Context, _ string) (api.VerusID, error) {
		return api.VerusID{}, ctx.Err()
	}
	res := SearchCmd(ctx, 1, "bob", lookup)().(SearchResultEvent)
	if !errors.Is(res.Err, context.Canceled) {
		t.Errorf("Err = %v", res.Err)
	}
}
