package widgets

import (
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/caribu66/veruspulse-sub005/pkg/api"
	"github.com/caribu66/veruspulse-sub005/pkg/app"
	"github.com/caribu66/veruspulse-sub005/pkg/components"
	"github.com/caribu66/veruspulse-sub005/pkg/livesync"
	"github.com/caribu66/veruspulse-sub005/pkg/merge"
	"github.com/caribu66/veruspulse-sub005/pkg/stats"
)

// NewBlocksPanel lists the latest blocks, newest first.
func NewBlocksPanel() *Panel[api.Block] {
	return NewPanel(livesync.KeyBlocks, "Latest Blocks", func(blocks []api.Block, now time.Time) []string {
		rows := make([][]string, 0, len(blocks))
		for _, b := range blocks {
			kind := b.Type
			if kind == "" {
				kind = "-"
			}
			rows = append(rows, []string{
				fmt.Sprintf("#%d", b.Height),
				components.ShortHash(b.Hash, 6),
				fmt.Sprintf("%d tx", b.TxCount),
				kind,
				age(now.Sub(b.Timestamp())),
			})
		}
		return tableLines(rows)
	})
}

// NewMempoolPanel shows the mempool summary and a sparkline of its size.
func NewMempoolPanel(history *stats.Series) *Panel[api.Mempool] {
	return NewPanel(livesync.KeyMempool, "Mempool", func(m []api.Mempool, _ time.Time) []string {
		cur := m[0]
		lines := []string{
			fmt.Sprintf("%d txs · %s", cur.Size, bytesText(cur.Bytes)),
		}
		if history != nil && history.Len() > 0 {
			values := history.Values()
			lines = append(lines, components.SeriesSparkline(history, 30)+" "+components.Trend(values))
		}
		for _, tx := range cur.Transactions {
			lines = append(lines, fmt.Sprintf("%s  %s", components.ShortHash(tx.Txid, 6), tx.Fee.StringFixed(8)))
		}
		return lines
	})
}

// NewActivityPanel lists recent chain activity.
func NewActivityPanel() *Panel[api.ActivityEvent] {
	return NewPanel(livesync.KeyActivity, "Live Activity", func(events []api.ActivityEvent, now time.Time) []string {
		rows := make([][]string, 0, len(events))
		for _, e := range events {
			who := e.Identity
			if who == "" {
				who = "-"
			}
			rows = append(rows, []string{e.Type, who, e.Amount.StringFixed(4), age(now.Sub(time.Unix(e.Time, 0)))})
		}
		return tableLines(rows)
	})
}

// NewTrendingPanel lists trending identities by rank.
func NewTrendingPanel() *Panel[api.TrendingIdentity] {
	return NewPanel(livesync.KeyTrending, "Trending", func(ts []api.TrendingIdentity, _ time.Time) []string {
		rows := make([][]string, 0, len(ts))
		for _, t := range ts {
			rows = append(rows, []string{
				fmt.Sprintf("%d.", t.Rank),
				t.Name,
				fmt.Sprintf("%.1f", t.Score),
				fmt.Sprintf("%d stakes", t.StakeCount),
			})
		}
		return tableLines(rows)
	})
}

// NewFeaturedPanel lists featured identities.
func NewFeaturedPanel() *Panel[api.VerusID] {
	return NewPanel(livesync.KeyFeatured, "Featured VerusIDs", func(ids []api.VerusID, _ time.Time) []string {
		rows := make([][]string, 0, len(ids))
		for _, id := range ids {
			rows = append(rows, []string{id.Name, id.Balance.StringFixed(2) + " VRSC", fmt.Sprintf("@%d", id.BlockHeight)})
		}
		return tableLines(rows)
	})
}

func tableLines(rows [][]string) []string {
	out := components.Table{Rows: rows}.Render()
	if out == "" {
		return nil
	}
	return strings.Split(out, "\n")
}

func bytesText(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	}
	return fmt.Sprintf("%d B", n)
}

// StakingPanelID is the widget id of the staking panel. It covers every
// staking feed.
const StakingPanelID = "staking"

// StakingPanel shows the merged staking view of every tracked identity.
type StakingPanel struct {
	feedState
	views  map[string]merge.ViewModel
	errors map[string]error // keyed by feed key
}

var _ app.Widget = (*StakingPanel)(nil)

// NewStakingPanel returns an empty staking panel.
func NewStakingPanel() *StakingPanel {
	return &StakingPanel{
		feedState: feedState{id: StakingPanelID, title: "Staking", nowFunc: time.Now},
		views:     make(map[string]merge.ViewModel),
		errors:    make(map[string]error),
	}
}

// Identity returns the merged view for identity id.
func (p *StakingPanel) Identity(id string) (merge.ViewModel, bool) {
	vm, ok := p.views[livesync.StakingKey(id)]
	return vm, ok
}

// Update handles FeedEvents of every staking feed.
func (p *StakingPanel) Update(msg tea.Msg) tea.Cmd {
	switch msg := msg.(type) {
	case app.FeedEvent:
		if !strings.HasPrefix(msg.Source, livesync.StakingKey("")) {
			return nil
		}
		p.observe(msg)
		p.errors[msg.Source] = msg.Err
		if vms, ok := msg.Data.([]merge.ViewModel); ok && len(vms) > 0 {
			p.views[msg.Source] = vms[0]
		}
		// The panel is in error only while every identity is.
		p.err = nil
		for _, err := range p.errors {
			if err == nil {
				p.err = nil
				break
			}
			p.err = err
		}
		p.stale = p.err != nil && len(p.views) > 0
	case app.HighlightEvent:
		if strings.HasPrefix(msg.Source, livesync.StakingKey("")) {
			p.highlight = msg.Active
		}
	}
	return nil
}

// View renders one row per identity.
func (p *StakingPanel) View(width, height int) string {
	keys := make([]string, 0, len(p.views))
	for k := range p.views {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rows := make([][]string, 0, len(keys))
	for _, k := range keys {
		vm := p.views[k]
		id := strings.TrimPrefix(k, livesync.StakingKey(""))
		rows = append(rows, []string{
			id,
			valueText(vm, "balance"),
			valueText(vm, "eligible") + " eligible",
			valueText(vm, "apy") + "% apy",
			valueText(vm, "stakeCount") + " stakes",
		})
	}
	var body []string
	if len(rows) > 0 {
		body = tableLines(rows)
	} else if p.loaded {
		body = []string{dimStyle.Render("No identities tracked")}
	}
	return p.frame(body, width, height)
}

// valueText formats a merged field, marking values that fell back to the
// default.
func valueText(vm merge.ViewModel, field string) string {
	v := vm.Get(field)
	if v == nil || vm.Source(field) == merge.SourceDefault {
		return "-"
	}
	switch v := v.(type) {
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%.2f", v)
	case bool:
		if v {
			return "yes"
		}
		return "no"
	}
	return fmt.Sprint(v)
}
