// missiond tracks Elite Dangerous missions from the game journal and serves
// their progress.
//
//	missiond                      Run with the default configuration
//	missiond -config cfg.toml     Run with a specific configuration file
//	missiond -journal <dir>       Override the journal directory
//	missiond -debug               Log at debug level and dump typed stores
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"missiond/internal/config"
	"missiond/internal/eventbus"
	"missiond/internal/health"
	"missiond/internal/host"
	"missiond/internal/journal"
	"missiond/internal/logging"
	"missiond/internal/metrics"
	"missiond/internal/notify"
	"missiond/internal/overlay"
	"missiond/internal/plugin"
	"missiond/internal/store"
	"missiond/internal/versioncheck"
	"missiond/internal/watcher"
)

// Version is the running release, set at build time with
// -ldflags "-X main.Version=...".
var Version = "1.0.0"

type options struct {
	config    string
	journal   string
	debug     bool
	fromStart bool
}

func main() {
	var opts options
	flag.StringVar(&opts.config, "config", "", "path to config file")
	flag.StringVar(&opts.journal, "journal", "", "journal directory (overrides config)")
	flag.BoolVar(&opts.debug, "debug", false, "enable debug mode")
	flag.BoolVar(&opts.fromStart, "from-start", false, "read the current journal from its beginning")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		fmt.Printf("missiond %s\n", Version)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "missiond: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `missiond - Mission progress tracker for Elite Dangerous

Usage: missiond [options]

Options:
  -config <path>    Path to config file (default: config.toml in the config directory)
  -journal <dir>    Journal directory (overrides config)
  -debug            Log at debug level and dump typed mission stores
  -from-start       Read the current journal from its beginning
  -version          Print version and exit

Endpoints (when http.enabled):
  /dashboard        Current mission rollups as JSON (?format=text for plain text)
  /version          Last release check
  /metrics          Prometheus metrics
  /healthz /livez /readyz
  /overlay          Overlay line feed (websocket)`)
}

// applyFlags layers command line overrides over cfg. It runs again after
// every reload so the overrides survive.
func applyFlags(cfg *config.Config, opts options) {
	if opts.journal != "" {
		cfg.Journal.Dir = opts.journal
	}
	if opts.debug {
		cfg.DebugMode = true
	}
}

func newLogger(cfg *config.Config) (*logging.Logger, error) {
	lc := logging.DefaultConfig()
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(cfg.Logging.Format)
	if err != nil {
		return nil, err
	}
	lc.Level = level
	lc.Format = format
	lc.Output = cfg.Logging.Output
	lc.FilePath = cfg.Logging.FilePath
	lc.MaxSize = int64(cfg.Logging.MaxSizeMB)
	lc.MaxBackups = cfg.Logging.MaxBackups
	lc.MaxAge = cfg.Logging.MaxAgeDays
	lc.Compress = cfg.Logging.Compress

	l, err := logging.New(lc)
	if err != nil {
		return nil, err
	}
	l.SetDebug(cfg.DebugMode)
	return l, nil
}

func millis(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

type countingNotifier struct {
	notify.Notifier
	sent *metrics.Counter
}

func (n countingNotifier) Notify(summary, body string) error {
	if err := n.Notifier.Notify(summary, body); err != nil {
		return err
	}
	n.sent.Inc()
	return nil
}

func run(ctx context.Context, opts options) error {
	path := opts.config
	if path == "" {
		path = config.FindConfigFile()
	}
	loader := config.NewLoader(path)
	defer loader.Close()

	cfg, err := loader.Load()
	if err != nil {
		return err
	}
	applyFlags(cfg, opts)
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer logger.Close()
	logging.SetDefault(logger)
	log := logger.WithComponent("missiond")

	for _, w := range config.Check(cfg).Warnings() {
		log.Warn("config warning", "field", w.Field, "message", w.Message)
	}

	registry := metrics.NewRegistry("missiond")
	m := metrics.NewMissions(registry)
	bus := eventbus.New()

	hub := overlay.NewHub(cfg.Overlay.Enabled, cfg.OverlayTTL(), overlay.WithLogger(logger.Logger))
	defer hub.Close()

	pluginOpts := []plugin.Option{
		plugin.WithLogger(logger.Logger),
		plugin.WithBus(bus),
		plugin.WithMetrics(m),
		plugin.WithOverlay(hub),
	}

	var db *store.Store
	if cfg.Storage.Enabled {
		db, err = store.Open(cfg.Storage.Path, millis(cfg.Storage.BusyTimeoutMs))
		if err != nil {
			return fmt.Errorf("open archive: %w", err)
		}
		defer db.Close()
		pluginOpts = append(pluginOpts, plugin.WithArchive(plugin.NewArchive(db, logger.Logger)))
	}

	if cfg.Notifications.Enabled {
		n, err := notify.NewDBus(millis(cfg.Notifications.TimeoutMs))
		if err != nil {
			log.Warn("desktop notifications unavailable", "error", err)
		} else {
			defer n.Close()
			alerts := notify.NewAlerts(bus, countingNotifier{n, m.Notifications}, notify.WithLogger(logger.Logger))
			defer alerts.Close()
		}
	}

	p := plugin.New(cfg, pluginOpts...)
	defer p.Close()
	if err := p.Start(ctx); err != nil {
		return err
	}

	hostOpts := []host.Option{
		host.WithLogger(logger.Logger),
		host.WithMetrics(m),
		host.WithPlayer(p.History().LastPlayer),
	}
	if cfg.Journal.ValidateEvents {
		v, err := journal.NewValidator()
		if err != nil {
			return fmt.Errorf("load schemas: %w", err)
		}
		hostOpts = append(hostOpts, host.WithValidator(v))
	}
	dispatcher := host.New(p, hostOpts...)

	loader.OnChange(func(next *config.Config) {
		applyFlags(next, opts)
		logger.SetDebug(next.DebugMode)
		log.Info("configuration reloaded")
		dispatcher.Reconfigure(next)
	})
	if err := loader.Watch(); err != nil {
		log.Warn("config hot reload disabled", "error", err)
	}

	watchOpts := []watcher.Option{
		watcher.WithPollInterval(cfg.PollInterval()),
		watcher.WithLogger(logger.Logger),
	}
	if opts.fromStart {
		watchOpts = append(watchOpts, watcher.FromStart())
	}
	w, err := watcher.New(cfg.Journal.Dir, watchOpts...)
	if err != nil {
		return err
	}
	if err := w.Start(); err != nil {
		return fmt.Errorf("watch journal: %w", err)
	}
	defer w.Stop()

	checker := health.NewChecker()
	checker.Register("journal_dir", true, health.DirCheck(cfg.Journal.Dir))
	checker.Register("repository", true, health.FuncCheck(p.Started, "mission repository not started"))
	checker.Register("journal_activity", false, health.FreshnessCheck(w.LastRead, 2*time.Hour))
	if db != nil {
		checker.Register("archive", false, health.PingCheck(db.Ping))
	}
	checker.SetReady(true)

	if cfg.VersionCheck.Enabled {
		versioncheck.New(versioncheck.Config{
			Current:     Version,
			URL:         cfg.VersionCheck.URL,
			DownloadURL: cfg.VersionCheck.DownloadURL,
			Timeout:     cfg.VersionCheckTimeout(),
			Logger:      logger.Logger,
		}).Start(ctx, bus.VersionInfo.Publish)
	} else {
		log.Info("version check disabled")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return dispatcher.Run(gctx, w.Lines())
	})
	g.Go(func() error {
		return drainErrors(gctx, log, w.Errors(), loader.Errors())
	})
	g.Go(func() error {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			m.UpdateUptime()
			m.OverlayPeers.Set(int64(hub.Clients()))
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	})
	switch {
	case cfg.HTTP.Enabled:
		srv := newServer(cfg.HTTP.ListenAddr, p, registry, checker, hub)
		g.Go(func() error { return serve(gctx, srv) })
		log.Info("http listening", "addr", cfg.HTTP.ListenAddr)
	case cfg.Overlay.Enabled:
		g.Go(func() error { return hub.Serve(gctx, cfg.Overlay.ListenAddr) })
		log.Info("overlay listening", "addr", cfg.Overlay.ListenAddr)
	}

	log.Info("missiond started",
		"version", Version,
		"journal", cfg.Journal.Dir,
		"current", w.Current(),
		"commander", dispatcher.Player(),
	)
	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	log.Info("missiond stopped")
	return err
}

func drainErrors(ctx context.Context, log interface{ Warn(string, ...any) }, watchErrs, configErrs <-chan error) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-watchErrs:
			if !ok {
				watchErrs = nil
				continue
			}
			log.Warn("journal watcher error", "error", err)
		case err := <-configErrs:
			log.Warn("config error", "error", err)
		}
	}
}
