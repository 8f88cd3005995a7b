// Package daemon runs the feeds in the background, publishes a health file,
// and accepts control commands over a unix socket.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/caribu66/veruspulse-sub005/pkg/api"
	"github.com/caribu66/veruspulse-sub005/pkg/cache"
	"github.com/caribu66/veruspulse-sub005/pkg/errs"
	"github.com/caribu66/veruspulse-sub005/pkg/poll"
)

// DefaultHealthInterval is how often the health file is rewritten.
const DefaultHealthInterval = 15 * time.Second

// Feeds is the set of polled feeds the daemon drives.
type Feeds interface {
	Start(ctx context.Context) error
	Stop()
	Refresh(name string) error
	RefreshAll(ctx context.Context) error
	Registry() *poll.Registry
}

// Syncer starts and follows the server-side sync job.
type Syncer interface {
	StartSync(ctx context.Context) (alreadyRunning bool, err error)
	WaitSync(ctx context.Context, every, ceiling time.Duration) (api.SyncProgress, error)
}

// Config holds daemon paths and timings. Empty paths disable the matching
// feature.
type Config struct {
	PIDFile        string
	HealthFile     string
	Socket         string
	HealthInterval time.Duration
	SyncPoll       time.Duration
	SyncCeiling    time.Duration
	Clock          clock.WithTicker
	Logger         *slog.Logger
}

// Daemon owns the feed lifecycle for a long-running process.
type Daemon struct {
	cfg    Config
	feeds  Feeds
	syncer Syncer
	store  *cache.Store
	clock  clock.WithTicker
	log    *slog.Logger

	started time.Time

	mu       sync.Mutex
	runCtx   context.Context
	syncing  bool
	lastSync *api.SyncProgress
	wg       sync.WaitGroup
}

// New returns a daemon over feeds. syncer may be nil, which disables SYNC.
func New(cfg Config, feeds Feeds, syncer Syncer, store *cache.Store) (*Daemon, error) {
	if feeds == nil {
		return nil, errors.New("daemon: feeds are required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = DefaultHealthInterval
	}
	if cfg.SyncPoll <= 0 {
		cfg.SyncPoll = api.DefaultSyncPoll
	}
	if cfg.SyncCeiling <= 0 {
		cfg.SyncCeiling = api.DefaultSyncCeiling
	}
	return &Daemon{
		cfg:     cfg,
		feeds:   feeds,
		syncer:  syncer,
		store:   store,
		clock:   cfg.Clock,
		log:     cfg.Logger,
		started: cfg.Clock.Now(),
	}, nil
}

// Run starts the feeds and blocks until ctx is done.
func (d *Daemon) Run(ctx context.Context) error {
	if d.cfg.PIDFile != "" {
		if err := AcquirePID(d.cfg.PIDFile); err != nil {
			return err
		}
		defer func() {
			if err := ReleasePID(d.cfg.PIDFile); err != nil {
				d.log.Warn("release pid file", "error", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	d.mu.Lock()
	d.started = d.clock.Now()
	d.runCtx = ctx
	d.mu.Unlock()

	if err := d.feeds.Start(ctx); err != nil {
		return fmt.Errorf("start feeds: %w", err)
	}
	defer d.feeds.Stop()

	if d.cfg.Socket != "" {
		srv := NewIPCServer(d.cfg.Socket, d)
		if err := srv.Start(ctx); err != nil {
			return err
		}
		defer srv.Stop()
		d.log.Info("ipc listening", "socket", d.cfg.Socket)
	}

	d.writeHealth()
	ticker := d.clock.NewTicker(d.cfg.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.wg.Wait()
			d.writeHealth()
			d.log.Info("daemon stopped")
			return nil
		case <-ticker.C():
			d.writeHealth()
		}
	}
}

// Health returns the current health snapshot.
func (d *Daemon) Health() *HealthStatus {
	d.mu.Lock()
	started, last := d.started, d.lastSync
	d.mu.Unlock()
	return newHealthStatus(os.Getpid(), started, d.clock.Now(),
		d.feeds.Registry().Sessions(), d.store.Stats(), last)
}

func (d *Daemon) writeHealth() {
	if d.cfg.HealthFile == "" {
		return
	}
	if err := WriteHealthFile(d.cfg.HealthFile, d.Health()); err != nil {
		d.log.Warn("write health file", "error", err)
	}
}

// FeedState is the reply to PAUSE and RESUME.
type FeedState struct {
	Feed  string `json:"feed"`
	State string `json:"state"`
}

// RefreshResult lists the feeds a REFRESH triggered.
type RefreshResult struct {
	Refreshed []string `json:"refreshed"`
}

// SyncResult is the reply to SYNC.
type SyncResult struct {
	Started        bool `json:"started"`
	AlreadyRunning bool `json:"alreadyRunning"`
}

// HandleCommand implements IPCHandler. Feed names are checked against the
// registry before anything runs.
func (d *Daemon) HandleCommand(ctx context.Context, cmd Command) (any, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	op := strings.ToLower(string(cmd.Verb))
	reg := d.feeds.Registry()
	if cmd.Feed != "" {
		if _, ok := reg.Get(cmd.Feed); !ok {
			return nil, errs.Invalidf(op, "unknown feed %q", cmd.Feed)
		}
	}

	switch cmd.Verb {
	case VerbHealth:
		return d.Health(), nil
	case VerbPause, VerbResume:
		control := reg.Pause
		if cmd.Verb == VerbResume {
			control = reg.Resume
		}
		if err := control(cmd.Feed); err != nil {
			return nil, errs.New(errs.KindInvalid, op, err)
		}
		s, _ := reg.Get(cmd.Feed)
		return FeedState{Feed: cmd.Feed, State: s.State().String()}, nil
	case VerbRefresh:
		names := reg.List()
		if cmd.Feed != "" {
			names = []string{cmd.Feed}
		}
		for _, name := range names {
			if err := d.feeds.Refresh(name); err != nil {
				return nil, fmt.Errorf("refresh %s: %w", name, err)
			}
		}
		return RefreshResult{Refreshed: names}, nil
	default:
		already, err := d.startSync()
		if err != nil {
			return nil, err
		}
		return SyncResult{Started: true, AlreadyRunning: already}, nil
	}
}

// startSync kicks off the server job and follows it in the background.
// When the job completes every feed is refreshed.
func (d *Daemon) startSync() (bool, error) {
	if d.syncer == nil {
		return false, errs.Invalidf("sync", "sync is not available")
	}

	d.mu.Lock()
	if d.syncing {
		d.mu.Unlock()
		return true, nil
	}
	ctx := d.runCtx
	if ctx == nil {
		ctx = context.Background()
	}
	d.syncing = true
	d.mu.Unlock()

	already, err := d.syncer.StartSync(ctx)
	if err != nil {
		d.mu.Lock()
		d.syncing = false
		d.mu.Unlock()
		return false, err
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		p, err := d.syncer.WaitSync(ctx, d.cfg.SyncPoll, d.cfg.SyncCeiling)

		d.mu.Lock()
		d.syncing = false
		if err == nil || p.Status != "" {
			d.lastSync = &p
		}
		d.mu.Unlock()

		if err != nil {
			d.log.Warn("sync did not complete", "error", err)
			return
		}
		d.log.Info("sync completed", "processed", p.Processed, "failed", p.Failed)
		if err := d.feeds.RefreshAll(ctx); err != nil {
			d.log.Warn("refresh after sync", "error", err)
		}
	}()
	return already, nil
}
