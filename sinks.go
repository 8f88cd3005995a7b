package main

import (
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/caribu66/veruspulse-sub005/pkg/api"
	"github.com/caribu66/veruspulse-sub005/pkg/components"
	"github.com/caribu66/veruspulse-sub005/pkg/livesync"
	"github.com/caribu66/veruspulse-sub005/pkg/merge"
	"github.com/caribu66/veruspulse-sub005/pkg/stats"
)

// logSink reports feed updates through the logger. It backs daemon mode
// and the non-terminal fallback of -tui.
type logSink struct {
	log *slog.Logger
}

func logUpdate[T any](log *slog.Logger, u livesync.Update[T]) {
	switch {
	case u.Err != nil:
		log.Warn("feed update failed", "feed", u.Key, "error", u.Err, "stale", u.Stale)
	case u.Delta.IsNew:
		log.Info("feed has new data", "feed", u.Key, "fresh", u.Delta.Fresh, "items", len(u.Items))
	default:
		log.Debug("feed unchanged", "feed", u.Key, "items", len(u.Items), "cached", u.FromCache)
	}
}

func (s logSink) Blocks(u livesync.Update[api.Block])              { logUpdate(s.log, u) }
func (s logSink) Mempool(u livesync.Update[api.Mempool])           { logUpdate(s.log, u) }
func (s logSink) Activity(u livesync.Update[api.ActivityEvent])    { logUpdate(s.log, u) }
func (s logSink) Trending(u livesync.Update[api.TrendingIdentity]) { logUpdate(s.log, u) }
func (s logSink) Featured(u livesync.Update[api.VerusID])          { logUpdate(s.log, u) }
func (s logSink) Staking(u livesync.Update[merge.ViewModel])       { logUpdate(s.log, u) }

func (s logSink) Highlight(key string, active bool) {
	s.log.Debug("highlight", "feed", key, "active", active)
}

// summarySink keeps the latest items of every feed for the one-shot
// summary.
type summarySink struct {
	mu       sync.Mutex
	blocks   []api.Block
	mempool  []api.Mempool
	activity []api.ActivityEvent
	trending []api.TrendingIdentity
	featured []api.VerusID
	staking  map[string]merge.ViewModel
	errs     map[string]error
}

func newSummarySink() *summarySink {
	return &summarySink{
		staking: make(map[string]merge.ViewModel),
		errs:    make(map[string]error),
	}
}

func keep[T any](s *summarySink, dst *[]T, u livesync.Update[T]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.Err != nil {
		s.errs[u.Key] = u.Err
	} else {
		delete(s.errs, u.Key)
	}
	if len(u.Items) > 0 || u.Err == nil {
		*dst = u.Items
	}
}

func (s *summarySink) Blocks(u livesync.Update[api.Block])              { keep(s, &s.blocks, u) }
func (s *summarySink) Mempool(u livesync.Update[api.Mempool])           { keep(s, &s.mempool, u) }
func (s *summarySink) Activity(u livesync.Update[api.ActivityEvent])    { keep(s, &s.activity, u) }
func (s *summarySink) Trending(u livesync.Update[api.TrendingIdentity]) { keep(s, &s.trending, u) }
func (s *summarySink) Featured(u livesync.Update[api.VerusID])          { keep(s, &s.featured, u) }

func (s *summarySink) Staking(u livesync.Update[merge.ViewModel]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.Err != nil {
		s.errs[u.Key] = u.Err
		return
	}
	delete(s.errs, u.Key)
	if len(u.Items) > 0 {
		s.staking[u.Key] = u.Items[0]
	}
}

func (s *summarySink) Highlight(string, bool) {}

// print writes the summary tables to w.
func (s *summarySink) print(w io.Writer, act stats.ActivitySnapshot, sizes *stats.Series, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	section := func(title string, t components.Table) {
		fmt.Fprintf(w, "%s\n%s\n\n", title, t.Render())
	}

	blocks := components.Table{Headers: []string{"HEIGHT", "HASH", "TXS", "TYPE", "AGE"}}
	for _, b := range s.blocks {
		blocks.Rows = append(blocks.Rows, []string{
			strconv.FormatInt(b.Height, 10),
			components.ShortHash(b.Hash, 8),
			strconv.Itoa(b.TxCount),
			b.Type,
			now.Sub(b.Timestamp()).Truncate(time.Second).String(),
		})
	}
	section("Latest blocks", blocks)

	if len(s.mempool) > 0 {
		m := s.mempool[0]
		fmt.Fprintf(w, "Mempool  %d txs  %d bytes  %s\n\n", m.Size, m.Bytes, components.SeriesSparkline(sizes, 20))
	}

	activity := components.Table{Headers: []string{"TYPE", "IDENTITY", "AMOUNT", "HEIGHT"}}
	for _, e := range s.activity {
		activity.Rows = append(activity.Rows, []string{e.Type, e.Identity, e.Amount.String(), strconv.FormatInt(e.Height, 10)})
	}
	section("Live activity", activity)

	fmt.Fprintf(w, "Activity  ~%d events  ~%d identities  volume %s\n\n", act.Events, act.Identities, act.Volume.StringFixed(2))

	trending := components.Table{Headers: []string{"#", "NAME", "STAKES", "REWARDS"}}
	for _, t := range s.trending {
		trending.Rows = append(trending.Rows, []string{strconv.Itoa(t.Rank), t.Name, strconv.Itoa(t.StakeCount), t.Rewards.String()})
	}
	section("Trending", trending)

	featured := components.Table{Headers: []string{"NAME", "ADDRESS", "BALANCE"}}
	for _, v := range s.featured {
		featured.Rows = append(featured.Rows, []string{v.Name, components.ShortHash(v.Address, 10), v.Balance.String()})
	}
	section("Featured VerusIDs", featured)

	if len(s.staking) > 0 {
		staking := components.Table{Headers: []string{"IDENTITY", "BALANCE", "REWARDS", "STAKES"}}
		for _, key := range slices.Sorted(maps.Keys(s.staking)) {
			vm := s.staking[key]
			staking.Rows = append(staking.Rows, []string{
				fmt.Sprint(vm.Get("identity")),
				fmt.Sprint(vm.Get("balance")),
				fmt.Sprint(vm.Get("totalRewards")),
				fmt.Sprint(vm.Get("stakeCount")),
			})
		}
		section("Staking", staking)
	}

	for _, key := range slices.Sorted(maps.Keys(s.errs)) {
		fmt.Fprintf(w, "error: %s: %v\n", key, s.errs[key])
	}
}
