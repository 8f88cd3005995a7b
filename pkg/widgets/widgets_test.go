package widgets

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/ansi"
	"github.com/shopspring/decimal"

	"github.com/caribu66/veruspulse-sub005/pkg/api"
	"github.com/caribu66/veruspulse-sub005/pkg/app"
	"github.com/caribu66/veruspulse-sub005/pkg/components"
	"github.com/caribu66/veruspulse-sub005/pkg/errs"
	"github.com/caribu66/veruspulse-sub005/pkg/livesync"
	"github.com/caribu66/veruspulse-sub005/pkg/merge"
	"github.com/caribu66/veruspulse-sub005/pkg/stats"
)

var now = time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)

func view(w app.Widget, width, height int) string {
	return ansi.Strip(w.View(width, height))
}

func testBlocks() []api.Block {
	return []api.Block{
		{Hash: "00000000000000aa11", Height: 101, Time: now.Add(-30 * time.Second).Unix(), TxCount: 3, Type: "pos"},
		{Hash: "00000000000000bb22", Height: 100, Time: now.Add(-2 * time.Minute).Unix(), TxCount: 1, Type: "pow"},
	}
}

func blocksPanel() *Panel[api.Block] {
	p := NewBlocksPanel()
	p.nowFunc = func() time.Time { return now }
	return p
}

// --- Panel ---

func TestPanelLoading(t *testing.T) {
	out := view(blocksPanel(), 40, 3)
	if !strings.Contains(out, "loading") {
		t.Errorf("view = %q", out)
	}
	if lines := strings.Split(out, "\n"); len(lines) != 3 || components.VisibleLen(lines[0]) != 40 {
		t.Errorf("frame not 40x3: %q", out)
	}
}

func TestPanelRendersItems(t *testing.T) {
	p := blocksPanel()
	p.Update(app.FeedEvent{Source: livesync.KeyBlocks, Data: testBlocks(), Timestamp: now.Add(-5 * time.Second)})

	out := view(p, 60, 4)
	for _, want := range []string{"updated 5s ago", "#101", "3 tx", "pos", "30s", "#100", "2m"} {
		if !strings.Contains(out, want) {
			t.Errorf("view missing %q:\n%s", want, out)
		}
	}
}

func TestPanelIgnoresOtherFeeds(t *testing.T) {
	p := blocksPanel()
	p.Update(app.FeedEvent{Source: livesync.KeyMempool, Data: testBlocks()})
	p.Update(app.HighlightEvent{Source: livesync.KeyMempool, Active: true})
	if len(p.Items()) != 0 || p.Highlighted() {
		t.Error("panel reacted to another feed")
	}
}

func TestPanelFirstLoadError(t *testing.T) {
	p := blocksPanel()
	p.Update(app.FeedEvent{Source: livesync.KeyBlocks, Err: errs.Network("latest blocks", errors.New("refused"))})
	out := view(p, 60, 3)
	if !strings.Contains(out, "network error") || !strings.Contains(out, "r to retry") {
		t.Errorf("view = %q", out)
	}
}

func TestPanelStaleKeepsData(t *testing.T) {
	p := blocksPanel()
	p.Update(app.FeedEvent{Source: livesync.KeyBlocks, Data: testBlocks(), Timestamp: now})
	p.Update(app.FeedEvent{
		Source: livesync.KeyBlocks,
		Data:   testBlocks(),
		Err:    errs.Timeout("latest blocks", errors.New("slow")),
		Stale:  true,
	})
	out := view(p, 60, 4)
	if !strings.Contains(out, "stale: timed out") || !strings.Contains(out, "#101") {
		t.Errorf("view = %q", out)
	}
}

func TestPanelHighlightAndCache(t *testing.T) {
	p := blocksPanel()
	p.Update(app.FeedEvent{Source: livesync.KeyBlocks, Data: testBlocks(), FromCache: true, Timestamp: now.Add(-time.Minute)})
	if out := view(p, 60, 2); !strings.Contains(out, "cached") {
		t.Errorf("cached view = %q", out)
	}
	p.Update(app.HighlightEvent{Source: livesync.KeyBlocks, Active: true})
	if !p.Highlighted() || !strings.Contains(view(p, 60, 2), "new") {
		t.Error("highlight not shown")
	}
	p.Update(app.HighlightEvent{Source: livesync.KeyBlocks, Active: false})
	if p.Highlighted() {
		t.Error("highlight not cleared")
	}
}

func TestPanelScroll(t *testing.T) {
	p := blocksPanel()
	p.Update(app.FeedEvent{Source: livesync.KeyBlocks, Data: testBlocks(), Timestamp: now})
	p.HandleKey(keyMsg("j"))
	out := view(p, 60, 2)
	if strings.Contains(out, "#101") || !strings.Contains(out, "#100") {
		t.Errorf("scrolled view = %q", out)
	}
	p.HandleKey(keyMsg("k"))
	p.HandleKey(keyMsg("k"))
	if out := view(p, 60, 2); !strings.Contains(out, "#101") {
		t.Errorf("scrolled back view = %q", out)
	}
}

// --- Mempool ---

func TestMempoolPanelSparkline(t *testing.T) {
	history := stats.NewSeries(10)
	for i, v := range []float64{2, 4} {
		history.Add(now.Add(time.Duration(i)*time.Second), v)
	}
	p := NewMempoolPanel(history)
	p.nowFunc = func() time.Time { return now }
	p.Update(app.FeedEvent{
		Source:    livesync.KeyMempool,
		Data:      []api.Mempool{{Size: 4, Bytes: 2048, Transactions: []api.MempoolTx{{Txid: "abcdef0123456789", Fee: decimal.RequireFromString("0.0001")}}}},
		Timestamp: now,
	})
	out := view(p, 60, 5)
	for _, want := range []string{"4 txs · 2.0 KiB", "▁█", "↑100.0%", "0.00010000"} {
		if !strings.Contains(out, want) {
			t.Errorf("view missing %q:\n%s", want, out)
		}
	}
}

// --- Staking ---

func stakingEvent(id string, vm merge.ViewModel, err error) app.FeedEvent {
	ev := app.FeedEvent{Source: livesync.StakingKey(id), Err: err, Timestamp: now}
	if err == nil {
		ev.Data = []merge.ViewModel{vm}
	}
	return ev
}

func TestStakingPanel(t *testing.T) {
	p := NewStakingPanel()
	p.nowFunc = func() time.Time { return now }

	live := map[string]any{"identity": "alice@", "balance": "120.5", "eligible": "100", "height": float64(42)}
	hist := map[string]any{"apy": 7.25, "stakeCount": float64(12)}
	vm := merge.Merge(live, hist, livesync.StakingTable)
	p.Update(stakingEvent("alice@", vm, nil))
	p.Update(stakingEvent("bob@", merge.ViewModel{}, errors.New("down")))

	if _, ok := p.Identity("alice@"); !ok {
		t.Fatal("alice@ view missing")
	}
	out := view(p, 80, 3)
	for _, want := range []string{"alice@", "120.5", "100 eligible", "7.25% apy", "12 stakes"} {
		if !strings.Contains(out, want) {
			t.Errorf("view missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "down") {
		t.Errorf("one failing identity should not put the panel in error:\n%s", out)
	}
}

func TestStakingPanelAllFailing(t *testing.T) {
	p := NewStakingPanel()
	p.Update(stakingEvent("alice@", merge.ViewModel{}, errors.New("down")))
	if out := view(p, 60, 2); !strings.Contains(out, "down") {
		t.Errorf("view = %q", out)
	}
}

func TestAge(t *testing.T) {
	tests := map[time.Duration]string{
		-time.Second:     "0s",
		42 * time.Second: "42s",
		5 * time.Minute:  "5m",
		3 * time.Hour:    "3h",
		50 * time.Hour:   "2d",
	}
	for d, want := range tests {
		if got := age(d); got != want {
			t.Errorf("age(%s) = %q, want %q", d, got, want)
		}
	}
}

func TestBytesText(t *testing.T) {
	for n, want := range map[int64]string{512: "512 B", 1536: "1.5 KiB", 3 << 20: "3.0 MiB"} {
		if got := bytesText(n); got != want {
			t.Errorf("bytesText(%d) = %q, want %q", n, got, want)
		}
	}
}

func keyMsg(k string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)}
}
