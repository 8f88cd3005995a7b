// veruspulse is a live terminal dashboard for the VerusPulse explorer.
//
// It polls the explorer API for blocks, mempool, live activity, trending
// and featured identities, and per-identity staking views, caching every
// feed on disk and highlighting new chain heads. Node ZMQ notifications,
// when configured, trigger refreshes between polls.
//
// Usage:
//
//	veruspulse [flags]
//
// Flags:
//
//	-config string   Path to configuration file (default: $XDG_CONFIG_HOME/veruspulse/config.toml)
//	-tui             Launch interactive Bubbletea dashboard
//	-daemon          Run background polling daemon with IPC control socket
//	-ctl string      Send a command to a running daemon (HEALTH, PAUSE <feed>, RESUME <feed>, REFRESH [feed], SYNC)
//	-sync            Start a backend sync job and wait for it to finish
//	-search string   Look up one VerusID and print it as JSON
//	-use-mocks       Serve a deterministic mock explorer on localhost
//	-mock-seed int   Random seed for mock data (default: 1)
//	-verbose         Enable verbose logging
//	-version         Print version and exit
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"

	"github.com/caribu66/veruspulse-sub005/pkg/api"
	"github.com/caribu66/veruspulse-sub005/pkg/app"
	"github.com/caribu66/veruspulse-sub005/pkg/cache"
	"github.com/caribu66/veruspulse-sub005/pkg/config"
	"github.com/caribu66/veruspulse-sub005/pkg/daemon"
	"github.com/caribu66/veruspulse-sub005/pkg/livesync"
	"github.com/caribu66/veruspulse-sub005/pkg/logging"
	"github.com/caribu66/veruspulse-sub005/pkg/mockapi"
	"github.com/caribu66/veruspulse-sub005/pkg/notify"
	"github.com/caribu66/veruspulse-sub005/pkg/stats"
	"github.com/caribu66/veruspulse-sub005/pkg/tui"
	"github.com/caribu66/veruspulse-sub005/pkg/widgets"
)

var (
	version = "0.1.0"
	commit  = "dev"
	date    = "unknown"
)

// oneShotTimeout bounds the default single refresh pass.
const oneShotTimeout = 30 * time.Second

func main() {
	var (
		configPath  = flag.String("config", "", "Path to configuration file")
		runTUI      = flag.Bool("tui", false, "Launch interactive Bubbletea dashboard")
		runDaemon   = flag.Bool("daemon", false, "Run background polling daemon")
		ctlCommand  = flag.String("ctl", "", "Send a command to a running daemon")
		runSync     = flag.Bool("sync", false, "Start a backend sync job and wait for it")
		searchQuery = flag.String("search", "", "Look up one VerusID and print it")
		useMocks    = flag.Bool("use-mocks", false, "Serve a deterministic mock explorer on localhost")
		mockSeed    = flag.Uint64("mock-seed", 1, "Random seed for mock data")
		verbose     = flag.Bool("verbose", false, "Enable verbose logging")
		showVersion = flag.Bool("version", false, "Print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("veruspulse %s (%s) built %s\n", version, commit, date)
		os.Exit(0)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	// The daemon client only needs the socket path.
	if *ctlCommand != "" {
		cmd, err := daemon.ParseCommand(*ctlCommand)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(2)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		out, err := daemon.NewIPCClient(cfg.Daemon.Socket).Send(ctx, cmd)
		cancel()
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
		fmt.Println(string(out))
		return
	}

	interactive := *runTUI && isatty.IsTerminal(os.Stdout.Fd())
	var stderr io.Writer
	if interactive {
		stderr = io.Discard
	}
	lg, err := logging.New(logging.Options{
		Level:      cfg.Log.Level,
		Verbose:    *verbose,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Stderr:     stderr,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	defer lg.Close()
	logger := lg.Logger

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		for sig := range sigChan {
			if sig == syscall.SIGHUP {
				if err := lg.Rotate(); err != nil {
					logger.Warn("log rotation failed", "error", err)
				}
				continue
			}
			logger.Info("received shutdown signal", "signal", sig)
			cancel()
			return
		}
	}()

	if *useMocks {
		srv := mockapi.New(mockapi.WithSeed(*mockSeed), mockapi.WithLogger(logger.With("component", "mockapi")))
		base, err := srv.ListenAndServe(ctx, "127.0.0.1:0")
		if err != nil {
			logger.Error("mock api failed", "error", err)
			os.Exit(1)
		}
		go srv.AutoAdvance(ctx, cfg.Feeds.Blocks.Duration)
		logger.Info("using mock explorer", "url", base, "seed", *mockSeed)
		cfg.API.URL = base
	}

	client, err := api.NewClient(cfg.API.URL,
		api.WithLogger(logger.With("component", "api")),
		api.WithUserAgent(cfg.API.UserAgent),
		api.WithIdentityCache(cfg.API.IdentityCacheSize, cfg.API.IdentityCacheTTL.Duration),
		api.WithHTTPClient(&http.Client{Timeout: cfg.API.Timeout.Duration}),
	)
	if err != nil {
		logger.Error("api client init failed", "error", err)
		os.Exit(1)
	}

	switch {
	case *searchQuery != "":
		if err := searchIdentity(ctx, client, *searchQuery, os.Stdout); err != nil {
			logger.Error("search failed", "query", *searchQuery, "error", err)
			os.Exit(1)
		}
		return
	case *runSync:
		if err := syncOnce(ctx, client, cfg, logger, os.Stdout); err != nil {
			logger.Error("sync failed", "error", err)
			os.Exit(1)
		}
		return
	}

	store, err := cache.NewStore(cache.StoreConfig{
		Dir:           cfg.Cache.Dir,
		SweepInterval: cfg.Cache.SweepInterval.Duration,
		Logger:        logger.With("component", "cache"),
	})
	if err != nil {
		logger.Error("cache init failed", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	switch {
	case interactive:
		err = runDashboard(ctx, cfg, client, store, logger)
	case *runDaemon:
		err = runDaemonMode(ctx, cfg, client, store, logger)
	case *runTUI:
		logger.Warn("stdout is not a terminal, logging feed updates instead of drawing the dashboard")
		err = runFeeds(ctx, cfg, client, store, logger)
	default:
		err = runOnce(ctx, cfg, client, store, logger, os.Stdout)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("veruspulse failed", "error", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// newDashboard builds the feed set from the configuration.
func newDashboard(cfg *config.Config, client *api.Client, store *cache.Store, logger *slog.Logger, sink livesync.Sink, history *stats.Series) (*livesync.Dashboard, error) {
	f := cfg.Feeds
	return livesync.NewDashboard(livesync.DashboardConfig{
		Client: client,
		Cache:  store,
		Logger: logger.With("component", "livesync"),
		Intervals: livesync.Intervals{
			Blocks:   f.Blocks.Duration,
			Mempool:  f.Mempool.Duration,
			Activity: f.Activity.Duration,
			Trending: f.Trending.Duration,
			Featured: f.Featured.Duration,
			Staking:  f.Staking.Duration,
		},
		MinInterval:    f.MinInterval.Duration,
		CacheTTL:       cfg.Cache.TTL.Duration,
		HighlightFor:   f.Highlight.Duration,
		BlockLimit:     f.BlockLimit,
		ActivityLimit:  f.ActivityLimit,
		Staking:        cfg.Staking.Identities,
		Sink:           sink,
		MempoolHistory: history,
	})
}

// subscribeNotifications refreshes feeds on node ZMQ events until ctx is
// done. It does nothing when no endpoint is configured.
func subscribeNotifications(ctx context.Context, endpoint string, dash *livesync.Dashboard, logger *slog.Logger) {
	if endpoint == "" {
		return
	}
	log := logger.With("component", "notify")
	sub := notify.NewSubscriber(endpoint, log)
	refresh := func(keys ...string) notify.Handler {
		return func(e notify.Event) {
			log.Debug("notification", "topic", e.Topic, "hash", e.Hash, "seq", e.Seq)
			for _, k := range keys {
				if err := dash.Refresh(k); err != nil {
					log.Debug("refresh failed", "feed", k, "error", err)
				}
			}
		}
	}
	sub.On(notify.TopicHashBlock, refresh(livesync.KeyBlocks, livesync.KeyActivity))
	sub.On(notify.TopicHashTx, refresh(livesync.KeyMempool))

	go func() {
		if err := sub.Run(ctx); err != nil {
			log.Error("zmq subscriber stopped", "error", err)
		}
	}()
}

// runDashboard runs the interactive dashboard until the user quits or ctx
// is done.
func runDashboard(ctx context.Context, cfg *config.Config, client *api.Client, store *cache.Store, logger *slog.Logger) error {
	history := stats.NewSeries(60)
	stakingIDs := make([]string, 0, len(cfg.Staking.Identities))
	for _, id := range cfg.Staking.Identities {
		stakingIDs = append(stakingIDs, livesync.StakingKey(id))
	}

	var dash *livesync.Dashboard
	refresh := func(id string) error {
		if dash == nil {
			return errors.New("feeds not started")
		}
		if id != widgets.StakingPanelID {
			return dash.Refresh(id)
		}
		var errs []error
		for _, key := range stakingIDs {
			errs = append(errs, dash.Refresh(key))
		}
		return errors.Join(errs...)
	}

	model := tui.New(tui.Options{
		Widgets: []app.Widget{
			widgets.NewBlocksPanel(),
			widgets.NewMempoolPanel(history),
			widgets.NewActivityPanel(),
			widgets.NewTrendingPanel(),
			widgets.NewFeaturedPanel(),
			widgets.NewStakingPanel(),
		},
		Lookup:  client.Identity,
		Refresh: refresh,
		Logger:  logger.With("component", "tui"),
	})
	p := tui.NewProgram(ctx, model)

	var err error
	dash, err = newDashboard(cfg, client, store, logger, app.NewProgramSink(p), history)
	if err != nil {
		return err
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	// Start primes from the cache through the program, so it must not run
	// before the program loop is reading messages.
	started := make(chan error, 1)
	go func() { started <- dash.Start(runCtx) }()
	subscribeNotifications(runCtx, cfg.Notify.ZMQ, dash, logger)

	_, runErr := p.Run()
	stop()
	if err := <-started; err == nil {
		dash.Stop()
	} else if runErr == nil {
		runErr = err
	}
	if errors.Is(runErr, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return runErr
}

// runDaemonMode runs the feeds behind the daemon's PID file, health file
// and control socket.
func runDaemonMode(ctx context.Context, cfg *config.Config, client *api.Client, store *cache.Store, logger *slog.Logger) error {
	dash, err := newDashboard(cfg, client, store, logger, logSink{log: logger.With("component", "feeds")}, nil)
	if err != nil {
		return err
	}
	d, err := daemon.New(daemon.Config{
		PIDFile:        cfg.Daemon.PIDFile,
		HealthFile:     cfg.Daemon.HealthFile,
		Socket:         cfg.Daemon.Socket,
		HealthInterval: cfg.Daemon.HealthInterval.Duration,
		SyncPoll:       cfg.Sync.Poll.Duration,
		SyncCeiling:    cfg.Sync.Ceiling.Duration,
		Logger:         logger.With("component", "daemon"),
	}, dash, client, store)
	if err != nil {
		return err
	}
	subscribeNotifications(ctx, cfg.Notify.ZMQ, dash, logger)
	logger.Info("starting veruspulse daemon", "api", client.BaseURL(), "feeds", strings.Join(dash.Names(), ","))
	return d.Run(ctx)
}

// runFeeds polls every feed and logs updates until ctx is done.
func runFeeds(ctx context.Context, cfg *config.Config, client *api.Client, store *cache.Store, logger *slog.Logger) error {
	dash, err := newDashboard(cfg, client, store, logger, logSink{log: logger.With("component", "feeds")}, nil)
	if err != nil {
		return err
	}
	if err := dash.Start(ctx); err != nil {
		return err
	}
	defer dash.Stop()
	subscribeNotifications(ctx, cfg.Notify.ZMQ, dash, logger)
	<-ctx.Done()
	return nil
}

// runOnce fetches every feed once and prints a summary.
func runOnce(ctx context.Context, cfg *config.Config, client *api.Client, store *cache.Store, logger *slog.Logger, w io.Writer) error {
	sink := newSummarySink()
	dash, err := newDashboard(cfg, client, store, logger, sink, nil)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, oneShotTimeout)
	defer cancel()
	err = dash.RefreshAll(ctx)
	sink.print(w, dash.Stats.Snapshot(), dash.MempoolSizes, time.Now())
	return err
}

func searchIdentity(ctx context.Context, client *api.Client, query string, w io.Writer) error {
	id, err := client.Identity(ctx, query)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(id)
}

// syncOnce starts a backend sync job, or joins the running one, and
// reports its final progress.
func syncOnce(ctx context.Context, client *api.Client, cfg *config.Config, logger *slog.Logger, w io.Writer) error {
	already, err := client.StartSync(ctx)
	if err != nil {
		return err
	}
	logger.Info("sync started", "already_running", already)

	progress, err := client.WaitSync(ctx, cfg.Sync.Poll.Duration, cfg.Sync.Ceiling.Duration)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "sync %s: %d/%d processed, %d failed\n", progress.Status, progress.Processed, progress.Total, progress.Failed)
	return nil
}
