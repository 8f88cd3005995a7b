package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const appName = "veruspulse"

// DefaultAPIURL is the public explorer API.
const DefaultAPIURL = "https://veruspulse.com"

// Format is a config file syntax.
type Format int

const (
	FormatTOML Format = iota
	FormatYAML
)

// FormatFor picks the syntax from a file extension.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatTOML
	}
}

// Load reads configuration from the standard config path.
// Search order:
//  1. $XDG_CONFIG_HOME/veruspulse/config.toml (then config.yaml)
//  2. ~/.config/veruspulse/config.toml (then config.yaml)
//
// If no file exists, returns DefaultConfig() with env overrides applied.
func Load() (*Config, error) {
	for _, p := range configSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return LoadFromFile(p)
		}
	}
	cfg := DefaultConfig()
	applyEnvOverrides(cfg)
	return cfg, nil
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := DefaultConfig()
			applyEnvOverrides(cfg)
			return cfg, nil
		}
		return nil, err
	}
	defer f.Close()
	cfg, err := LoadFromReader(f, FormatFor(path))
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader reads configuration from an io.Reader.
func LoadFromReader(r io.Reader, format Format) (*Config, error) {
	cfg := DefaultConfig()
	cfg.Feeds.clearIntervals()
	switch format {
	case FormatYAML:
		if err := yaml.NewDecoder(r).Decode(cfg); err != nil && err != io.EOF {
			return nil, err
		}
	default:
		if _, err := toml.NewDecoder(r).Decode(cfg); err != nil {
			return nil, err
		}
	}
	cfg.Feeds.applyPreset()
	applyEnvOverrides(cfg)
	return cfg, nil
}

// DefaultConfig returns the default configuration with sensible defaults.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	cacheDir := filepath.Join(xdgCacheHome(home), appName)
	stateDir := filepath.Join(xdgStateHome(home), appName)

	feeds := FeedPreset(PresetDefault)
	feeds.MinInterval = Duration{2 * time.Second}
	feeds.Highlight = Duration{3500 * time.Millisecond}
	feeds.BlockLimit = 10
	feeds.ActivityLimit = 20

	return &Config{
		API: APIConfig{
			URL:               DefaultAPIURL,
			Timeout:           Duration{15 * time.Second},
			UserAgent:         appName,
			IdentityCacheSize: 128,
			IdentityCacheTTL:  Duration{5 * time.Minute},
		},
		Cache: CacheConfig{
			Dir:           cacheDir,
			TTL:           Duration{5 * time.Minute},
			SweepInterval: Duration{10 * time.Minute},
		},
		Feeds: feeds,
		Sync: SyncConfig{
			Poll:    Duration{2 * time.Second},
			Ceiling: Duration{5 * time.Minute},
		},
		Daemon: DaemonConfig{
			PIDFile:        filepath.Join(stateDir, appName+".pid"),
			HealthFile:     filepath.Join(stateDir, "health.json"),
			Socket:         filepath.Join(stateDir, appName+".sock"),
			HealthInterval: Duration{15 * time.Second},
		},
		Log: LogConfig{
			Level:      "info",
			File:       filepath.Join(stateDir, appName+".log"),
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// applyEnvOverrides checks environment variables and overrides config values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("VERUSPULSE_API_URL"); v != "" {
		cfg.API.URL = v
	}
	if v := os.Getenv("VERUSPULSE_CACHE_DIR"); v != "" {
		cfg.Cache.Dir = v
	}
	if v := os.Getenv("VERUSPULSE_ZMQ"); v != "" {
		cfg.Notify.ZMQ = v
	}
	if v := os.Getenv("VERUSPULSE_STAKING"); v != "" {
		var ids []string
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
		cfg.Staking.Identities = ids
	}
}

// configSearchPaths returns the ordered list of config file paths to try.
func configSearchPaths() []string {
	home, _ := os.UserHomeDir()
	var dirs []string

	xdg := xdgConfigHome(home)
	dirs = append(dirs, filepath.Join(xdg, appName))

	// If XDG_CONFIG_HOME was explicitly set, also try the fallback default.
	defaultXDG := filepath.Join(home, ".config")
	if xdg != defaultXDG {
		dirs = append(dirs, filepath.Join(defaultXDG, appName))
	}

	var paths []string
	for _, d := range dirs {
		paths = append(paths,
			filepath.Join(d, "config.toml"),
			filepath.Join(d, "config.yaml"),
			filepath.Join(d, "config.yml"),
		)
	}
	return paths
}

// xdgConfigHome returns XDG_CONFIG_HOME or ~/.config as fallback.
func xdgConfigHome(home string) string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return v
	}
	return filepath.Join(home, ".config")
}

// xdgCacheHome returns XDG_CACHE_HOME or ~/.cache as fallback.
func xdgCacheHome(home string) string {
	if v := os.Getenv("XDG_CACHE_HOME"); v != "" {
		return v
	}
	return filepath.Join(home, ".cache")
}

// xdgStateHome returns XDG_STATE_HOME or ~/.local/state as fallback.
func xdgStateHome(home string) string {
	if v := os.Getenv("XDG_STATE_HOME"); v != "" {
		return v
	}
	return filepath.Join(home, ".local", "state")
}
