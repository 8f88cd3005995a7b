package livesync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/caribu66/veruspulse-sub005/pkg/api"
	"github.com/caribu66/veruspulse-sub005/pkg/cache"
	"github.com/caribu66/veruspulse-sub005/pkg/merge"
	"github.com/caribu66/veruspulse-sub005/pkg/poll"
	"github.com/caribu66/veruspulse-sub005/pkg/stats"
)

// Cache keys of the dashboard feeds.
const (
	KeyBlocks   = "latest_blocks"
	KeyMempool  = "mempool"
	KeyActivity = "live_activity_events"
	KeyTrending = "trending_data"
	KeyFeatured = "featured_verusids"
)

// StakingKey returns the feed key for an identity's staking view.
func StakingKey(id string) string { return "staking_" + id }

// StakingTable decides which source wins for each staking field. Balances
// and staking state come from the node; accumulated history comes from
// the indexer.
var StakingTable = merge.MustTable(
	merge.Live("identity", ""),
	merge.Live("balance", "0"),
	merge.Live("eligible", "0"),
	merge.Live("stakingEnabled", false),
	merge.Live("height", 0),
	merge.Historical("totalRewards", "0"),
	merge.Historical("stakeCount", 0),
	merge.Historical("firstStake", nil),
	merge.Historical("lastStake", nil),
	merge.Historical("apy", nil),
)

// Intervals are the poll periods of the dashboard feeds.
type Intervals struct {
	Blocks   time.Duration
	Mempool  time.Duration
	Activity time.Duration
	Trending time.Duration
	Featured time.Duration
	Staking  time.Duration
}

// DefaultIntervals returns the standard poll periods.
func DefaultIntervals() Intervals {
	return Intervals{
		Blocks:   10 * time.Second,
		Mempool:  10 * time.Second,
		Activity: 15 * time.Second,
		Trending: 60 * time.Second,
		Featured: 5 * time.Minute,
		Staking:  30 * time.Second,
	}
}

// Sink receives dashboard updates. Implementations must not block for
// long; each method is called from a feed's cycle goroutine.
type Sink interface {
	Blocks(Update[api.Block])
	Mempool(Update[api.Mempool])
	Activity(Update[api.ActivityEvent])
	Trending(Update[api.TrendingIdentity])
	Featured(Update[api.VerusID])
	Staking(Update[merge.ViewModel])
	Highlight(key string, active bool)
}

// DashboardConfig configures NewDashboard.
type DashboardConfig struct {
	Client        *api.Client
	Cache         *cache.Store
	Clock         Clock
	Logger        *slog.Logger
	Registry      *poll.Registry
	Intervals     Intervals
	MinInterval   time.Duration
	CacheTTL      time.Duration
	HighlightFor  time.Duration
	BlockLimit    int
	ActivityLimit int
	// Staking lists identities whose staking view is tracked.
	Staking []string
	Sink    Sink
	// MempoolHistory receives mempool size samples. Nil allocates a
	// 60-sample series.
	MempoolHistory *stats.Series
}

// Dashboard is the full set of VerusPulse feeds plus the statistics they
// feed.
type Dashboard struct {
	*Group

	Blocks   *Feed[api.Block]
	Mempool  *Feed[api.Mempool]
	Activity *Feed[api.ActivityEvent]
	Trending *Feed[api.TrendingIdentity]
	Featured *Feed[api.VerusID]
	Staking  map[string]*Feed[merge.ViewModel]

	Stats        *stats.Activity
	MempoolSizes *stats.Series
}

// NewDashboard builds every feed. Nothing runs until Start.
func NewDashboard(cfg DashboardConfig) (*Dashboard, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("dashboard: nil api client")
	}
	if cfg.Intervals == (Intervals{}) {
		cfg.Intervals = DefaultIntervals()
	}
	if cfg.BlockLimit <= 0 {
		cfg.BlockLimit = 10
	}
	if cfg.ActivityLimit <= 0 {
		cfg.ActivityLimit = 20
	}
	if cfg.Sink == nil {
		cfg.Sink = nopSink{}
	}
	if cfg.MempoolHistory == nil {
		cfg.MempoolHistory = stats.NewSeries(60)
	}

	d := &Dashboard{
		Group:        NewGroup(cfg.Registry),
		Staking:      make(map[string]*Feed[merge.ViewModel]),
		Stats:        stats.NewActivity(),
		MempoolSizes: cfg.MempoolHistory,
	}
	c := cfg.Client

	var err error
	if d.Blocks, err = NewFeed(feedConfig(cfg, KeyBlocks, cfg.Intervals.Blocks, Config[api.Block]{
		Fetch:    func(ctx context.Context) ([]api.Block, error) { return c.LatestBlocks(ctx, cfg.BlockLimit) },
		ID:       api.BlockKey,
		OnUpdate: cfg.Sink.Blocks,
	})); err != nil {
		return nil, err
	}

	if d.Mempool, err = NewFeed(feedConfig(cfg, KeyMempool, cfg.Intervals.Mempool, Config[api.Mempool]{
		Fetch: func(ctx context.Context) ([]api.Mempool, error) {
			m, err := c.Mempool(ctx)
			if err != nil {
				return nil, err
			}
			return []api.Mempool{m}, nil
		},
		OnUpdate: func(u Update[api.Mempool]) {
			if u.Err == nil && len(u.Items) > 0 && !u.FromCache {
				d.MempoolSizes.Add(u.FetchedAt, float64(u.Items[0].Size))
			}
			cfg.Sink.Mempool(u)
		},
	})); err != nil {
		return nil, err
	}

	if d.Activity, err = NewFeed(feedConfig(cfg, KeyActivity, cfg.Intervals.Activity, Config[api.ActivityEvent]{
		Fetch:    func(ctx context.Context) ([]api.ActivityEvent, error) { return c.Activity(ctx, cfg.ActivityLimit) },
		ID:       api.ActivityKey,
		OnUpdate: d.recordActivity(cfg.Sink),
	})); err != nil {
		return nil, err
	}

	if d.Trending, err = NewFeed(feedConfig(cfg, KeyTrending, cfg.Intervals.Trending, Config[api.TrendingIdentity]{
		Fetch:    c.Trending,
		ID:       api.TrendingKey,
		OnUpdate: cfg.Sink.Trending,
	})); err != nil {
		return nil, err
	}

	if d.Featured, err = NewFeed(feedConfig(cfg, KeyFeatured, cfg.Intervals.Featured, Config[api.VerusID]{
		Fetch:    c.FeaturedIdentities,
		OnUpdate: cfg.Sink.Featured,
	})); err != nil {
		return nil, err
	}

	for _, id := range cfg.Staking {
		f, err := NewHybridFeed(HybridConfig[api.StakingLive, api.StakingHistorical]{
			Feed: feedConfig(cfg, StakingKey(id), cfg.Intervals.Staking, Config[merge.ViewModel]{
				OnUpdate: cfg.Sink.Staking,
			}),
			Live:       func(ctx context.Context) (api.StakingLive, error) { return c.StakingLive(ctx, id) },
			Historical: func(ctx context.Context) (api.StakingHistorical, error) { return c.StakingHistorical(ctx, id) },
			Table:      StakingTable,
		})
		if err != nil {
			return nil, err
		}
		d.Staking[id] = f
	}

	runners := []Runner{d.Blocks, d.Mempool, d.Activity, d.Trending, d.Featured}
	for _, id := range cfg.Staking {
		runners = append(runners, d.Staking[id])
	}
	for _, r := range runners {
		if err := d.Add(r); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// recordActivity feeds fresh events into the statistics before handing
// the update on. On the first observation every event counts as fresh.
// Updates arrive serially, so seeded needs no lock.
func (d *Dashboard) recordActivity(sink Sink) func(Update[api.ActivityEvent]) {
	seeded := false
	return func(u Update[api.ActivityEvent]) {
		if u.Err == nil {
			fresh := u.Items
			switch {
			case u.Delta.IsNew:
				fresh = u.Items[:u.Delta.Fresh]
			case seeded:
				fresh = nil
			}
			for _, e := range fresh {
				d.Stats.Record(e.ID, e.Type, e.Identity, e.Amount)
			}
			seeded = seeded || len(u.Items) > 0
		}
		sink.Activity(u)
	}
}

// feedConfig fills the shared settings into a per-feed config.
func feedConfig[T any](cfg DashboardConfig, key string, interval time.Duration, fc Config[T]) Config[T] {
	fc.Key = key
	fc.Interval = interval
	fc.MinInterval = min(cfg.MinInterval, interval)
	fc.TTL = cfg.CacheTTL
	fc.HighlightFor = cfg.HighlightFor
	fc.Cache = cfg.Cache
	fc.Clock = cfg.Clock
	fc.Logger = cfg.Logger
	fc.OnHighlight = cfg.Sink.Highlight
	return fc
}

type nopSink struct{}

func (nopSink) Blocks(Update[api.Block]) {}
func (nopSink) Mempool(Update[api.Mempool]) {}
func (nopSink) Activity(Update[api.ActivityEvent]) {}
func (nopSink) Trending(Update[api.TrendingIdentity]) {}
func (nopSink) Featured(Update[api.VerusID]) {}
func (nopSink) Staking(Update[merge.ViewModel]) {}
func (nopSink) Highlight(string, bool) {}
