package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Config is the top-level veruspulse configuration.
type Config struct {
	API     APIConfig     `toml:"api" yaml:"api"`
	Cache   CacheConfig   `toml:"cache" yaml:"cache"`
	Feeds   FeedsConfig   `toml:"feeds" yaml:"feeds"`
	Staking StakingConfig `toml:"staking" yaml:"staking"`
	Sync    SyncConfig    `toml:"sync" yaml:"sync"`
	Notify  NotifyConfig  `toml:"notify" yaml:"notify"`
	Daemon  DaemonConfig  `toml:"daemon" yaml:"daemon"`
	Log     LogConfig     `toml:"log" yaml:"log"`
}

// APIConfig describes the explorer API.
type APIConfig struct {
	URL               string   `toml:"url" yaml:"url"`
	Timeout           Duration `toml:"timeout" yaml:"timeout"`
	UserAgent         string   `toml:"user_agent" yaml:"user_agent"`
	IdentityCacheSize int      `toml:"identity_cache_size" yaml:"identity_cache_size"`
	IdentityCacheTTL  Duration `toml:"identity_cache_ttl" yaml:"identity_cache_ttl"`
}

// CacheConfig controls the on-disk TTL cache.
type CacheConfig struct {
	Dir           string   `toml:"dir" yaml:"dir"`
	TTL           Duration `toml:"ttl" yaml:"ttl"`
	SweepInterval Duration `toml:"sweep_interval" yaml:"sweep_interval"`
}

// FeedsConfig holds poll periods and display tuning for every feed.
type FeedsConfig struct {
	// Preset names a set of intervals ("default", "fast", "quiet").
	// Explicit intervals below override the preset.
	Preset        string   `toml:"preset" yaml:"preset"`
	Blocks        Duration `toml:"blocks" yaml:"blocks"`
	Mempool       Duration `toml:"mempool" yaml:"mempool"`
	Activity      Duration `toml:"activity" yaml:"activity"`
	Trending      Duration `toml:"trending" yaml:"trending"`
	Featured      Duration `toml:"featured" yaml:"featured"`
	Staking       Duration `toml:"staking" yaml:"staking"`
	MinInterval   Duration `toml:"min_interval" yaml:"min_interval"`
	Highlight     Duration `toml:"highlight" yaml:"highlight"`
	BlockLimit    int      `toml:"block_limit" yaml:"block_limit"`
	ActivityLimit int      `toml:"activity_limit" yaml:"activity_limit"`
}

// StakingConfig lists the identities whose staking view is tracked.
type StakingConfig struct {
	Identities []string `toml:"identities" yaml:"identities"`
}

// SyncConfig bounds the background sync wait.
type SyncConfig struct {
	Poll    Duration `toml:"poll" yaml:"poll"`
	Ceiling Duration `toml:"ceiling" yaml:"ceiling"`
}

// NotifyConfig enables node ZMQ notifications. An empty endpoint disables
// them.
type NotifyConfig struct {
	ZMQ string `toml:"zmq" yaml:"zmq"`
}

// DaemonConfig holds paths used in daemon mode.
type DaemonConfig struct {
	PIDFile        string   `toml:"pid_file" yaml:"pid_file"`
	HealthFile     string   `toml:"health_file" yaml:"health_file"`
	Socket         string   `toml:"socket" yaml:"socket"`
	HealthInterval Duration `toml:"health_interval" yaml:"health_interval"`
}

// LogConfig controls the rotating log file.
type LogConfig struct {
	Level      string `toml:"level" yaml:"level"`
	File       string `toml:"file" yaml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" yaml:"max_age_days"`
}

// Interval presets.
const (
	PresetDefault = "default"
	PresetFast    = "fast"
	PresetQuiet   = "quiet"
)

// FeedPreset returns the intervals of a named preset. Unknown names get
// the default preset.
func FeedPreset(name string) FeedsConfig {
	switch name {
	case PresetFast:
		return FeedsConfig{
			Preset:   PresetFast,
			Blocks:   Duration{5 * time.Second},
			Mempool:  Duration{5 * time.Second},
			Activity: Duration{10 * time.Second},
			Trending: Duration{30 * time.Second},
			Featured: Duration{2 * time.Minute},
			Staking:  Duration{15 * time.Second},
		}
	case PresetQuiet:
		return FeedsConfig{
			Preset:   PresetQuiet,
			Blocks:   Duration{30 * time.Second},
			Mempool:  Duration{30 * time.Second},
			Activity: Duration{60 * time.Second},
			Trending: Duration{5 * time.Minute},
			Featured: Duration{15 * time.Minute},
			Staking:  Duration{2 * time.Minute},
		}
	default:
		return FeedsConfig{
			Preset:   PresetDefault,
			Blocks:   Duration{10 * time.Second},
			Mempool:  Duration{10 * time.Second},
			Activity: Duration{15 * time.Second},
			Trending: Duration{60 * time.Second},
			Featured: Duration{5 * time.Minute},
			Staking:  Duration{30 * time.Second},
		}
	}
}

// applyPreset fills zero intervals from the configured preset.
func (f *FeedsConfig) applyPreset() {
	p := FeedPreset(f.Preset)
	fill := func(dst *Duration, src Duration) {
		if dst.Duration == 0 {
			*dst = src
		}
	}
	fill(&f.Blocks, p.Blocks)
	fill(&f.Mempool, p.Mempool)
	fill(&f.Activity, p.Activity)
	fill(&f.Trending, p.Trending)
	fill(&f.Featured, p.Featured)
	fill(&f.Staking, p.Staking)
}

// clearIntervals zeroes the poll intervals so a preset named in a file
// can fill them.
func (f *FeedsConfig) clearIntervals() {
	f.Blocks, f.Mempool, f.Activity = Duration{}, Duration{}, Duration{}
	f.Trending, f.Featured, f.Staking = Duration{}, Duration{}, Duration{}
}

// Shortest returns the smallest configured poll interval.
func (f FeedsConfig) Shortest() time.Duration {
	shortest := f.Blocks.Duration
	for _, d := range []Duration{f.Mempool, f.Activity, f.Trending, f.Featured, f.Staking} {
		if d.Duration < shortest {
			shortest = d.Duration
		}
	}
	return shortest
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var errs []error
	u, err := url.Parse(c.API.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("api.url %q must be an absolute http(s) URL", c.API.URL))
	}
	if c.Cache.Dir == "" {
		errs = append(errs, errors.New("cache.dir must be set"))
	}
	if c.Cache.TTL.Duration <= 0 {
		errs = append(errs, errors.New("cache.ttl must be positive"))
	}
	intervals := map[string]Duration{
		"feeds.blocks":   c.Feeds.Blocks,
		"feeds.mempool":  c.Feeds.Mempool,
		"feeds.activity": c.Feeds.Activity,
		"feeds.trending": c.Feeds.Trending,
		"feeds.featured": c.Feeds.Featured,
		"feeds.staking":  c.Feeds.Staking,
	}
	for _, name := range []string{"feeds.blocks", "feeds.mempool", "feeds.activity", "feeds.trending", "feeds.featured", "feeds.staking"} {
		if intervals[name].Duration <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if mi := c.Feeds.MinInterval.Duration; mi > 0 && mi > c.Feeds.Shortest() {
		errs = append(errs, fmt.Errorf("feeds.min_interval %s exceeds the shortest poll interval %s", mi, c.Feeds.Shortest()))
	}
	if c.Feeds.BlockLimit < 1 || c.Feeds.ActivityLimit < 1 {
		errs = append(errs, errors.New("feeds.block_limit and feeds.activity_limit must be at least 1"))
	}
	for i, id := range c.Staking.Identities {
		if id == "" {
			errs = append(errs, fmt.Errorf("staking.identities[%d] is empty", i))
		}
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q must be debug, info, warn or error", c.Log.Level))
	}
	return errors.Join(errs...)
}
