// nat64stated -- the BIB/session state-tracking daemon for a stateful
// NAT64 translator.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/dantte-lp/nat64stated/internal/config"
	"github.com/dantte-lp/nat64stated/internal/engine"
	nat64metrics "github.com/dantte-lp/nat64stated/internal/metrics"
	"github.com/dantte-lp/nat64stated/internal/server"
	appversion "github.com/dantte-lp/nat64stated/internal/version"
)

// shutdownTimeout is the maximum time to wait for HTTP servers to drain
// active connections during graceful shutdown.
const shutdownTimeout = 10 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to configuration file (YAML)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()))
		return 1
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLoggerWithLevel(cfg.Log, logLevel)

	logger.Info("nat64stated starting",
		slog.String("version", appversion.Version),
		slog.String("admin_addr", cfg.Admin.Addr),
		slog.String("metrics_addr", cfg.Metrics.Addr),
	)

	reg := prometheus.NewRegistry()
	collector := nat64metrics.NewCollector(reg)

	established := engine.NewStaticTimeout(cfg.Engine.EstablishedTimeout)
	transitory := engine.NewStaticTimeout(cfg.Engine.TransitoryTimeout)

	eng := newEngine(logger, cfg, established, transitory, collector)
	defer eng.Close()

	if err := runServers(cfg, eng, reg, logger, *configPath, logLevel, established, transitory, collector); err != nil {
		logger.Error("nat64stated exited with error", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("nat64stated stopped")
	return 0
}

// newEngine constructs an Engine with one table pair per protocol, all
// sharing the config-backed timeout providers and the trivial AlwaysDie
// classifier (the TCP state machine that would override it is out of
// scope; see spec's Non-goals). collector is wired in as the Observer so
// BIB/session churn counters increment as the tables mutate.
func newEngine(
	logger *slog.Logger,
	cfg *config.Config,
	established, transitory engine.TimeoutProvider,
	collector *nat64metrics.Collector,
) *engine.Engine {
	protoCfg := engine.ProtoConfig{
		LogChanges:         cfg.Engine.LogChanges,
		Classifier:         engine.AlwaysDie,
		EstablishedTimeout: established,
		TransitoryTimeout:  transitory,
		Observer:           collector,
	}

	return engine.New(logger, map[engine.L4Proto]engine.ProtoConfig{
		engine.ProtoTCP:  protoCfg,
		engine.ProtoUDP:  protoCfg,
		engine.ProtoICMP: protoCfg,
	})
}

// snapshotGaugeInterval is how often reportSnapshots refreshes the table
// size gauges. Churn counters don't need this — they're driven directly
// by the engine's Observer callbacks — but the current table sizes are
// only available via a point-in-time Snapshot.
const snapshotGaugeInterval = 15 * time.Second

// reportSnapshots periodically pushes the engine's current table sizes
// into the metrics collector's gauges, until ctx is canceled.
func reportSnapshots(ctx context.Context, eng *engine.Engine, collector *nat64metrics.Collector) {
	refresh := func() {
		for _, snap := range eng.Snapshot() {
			collector.SetBibEntries(snap.Proto.String(), float64(snap.BibCount))
			collector.SetSessions(snap.Proto.String(), float64(snap.SessionCount))
		}
	}

	refresh()

	ticker := time.NewTicker(snapshotGaugeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refresh()
		}
	}
}

// runServers sets up and runs the admin and metrics HTTP servers using an
// errgroup with a signal-aware context for graceful shutdown.
func runServers(
	cfg *config.Config,
	eng *engine.Engine,
	reg *prometheus.Registry,
	logger *slog.Logger,
	configPath string,
	logLevel *slog.LevelVar,
	established, transitory *engine.StaticTimeout,
	collector *nat64metrics.Collector,
) error {
	adminSrv := newAdminServer(cfg.Admin, eng, logger)
	metricsSrv := newMetricsServer(cfg.Metrics, reg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	lc := net.ListenConfig{}
	g.Go(func() error {
		logger.Info("admin server listening", slog.String("addr", cfg.Admin.Addr))
		return listenAndServe(gCtx, &lc, adminSrv, cfg.Admin.Addr)
	})
	g.Go(func() error {
		logger.Info("metrics server listening",
			slog.String("addr", cfg.Metrics.Addr),
			slog.String("path", cfg.Metrics.Path))
		return listenAndServe(gCtx, &lc, metricsSrv, cfg.Metrics.Addr)
	})
	g.Go(func() error {
		reportSnapshots(gCtx, eng, collector)
		return nil
	})

	sigHUP := make(chan os.Signal, 1)
	signal.Notify(sigHUP, syscall.SIGHUP)
	g.Go(func() error {
		defer signal.Stop(sigHUP)
		handleSIGHUP(gCtx, sigHUP, configPath, logLevel, established, transitory, logger)
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		return gracefulShutdown(gCtx, logger, adminSrv, metricsSrv)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run servers: %w", err)
	}
	return nil
}

// handleSIGHUP listens for SIGHUP and reloads the log level and per-class
// timeouts from configuration. Table structure (which protocols exist) is
// fixed at startup; only the live-tunable TimeoutProviders change.
func handleSIGHUP(
	ctx context.Context,
	sigHUP <-chan os.Signal,
	configPath string,
	logLevel *slog.LevelVar,
	established, transitory *engine.StaticTimeout,
	logger *slog.Logger,
) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sigHUP:
			logger.Info("received SIGHUP, reloading configuration")
			reloadConfig(configPath, logLevel, established, transitory, logger)
		}
	}
}

func reloadConfig(
	configPath string,
	logLevel *slog.LevelVar,
	established, transitory *engine.StaticTimeout,
	logger *slog.Logger,
) {
	newCfg, err := loadConfig(configPath)
	if err != nil {
		logger.Error("failed to reload configuration, keeping current settings",
			slog.String("error", err.Error()))
		return
	}

	oldLevel := logLevel.Level()
	newLevel := config.ParseLogLevel(newCfg.Log.Level)
	logLevel.Set(newLevel)

	established.Set(newCfg.Engine.EstablishedTimeout)
	transitory.Set(newCfg.Engine.TransitoryTimeout)

	logger.Info("configuration reloaded",
		slog.String("old_log_level", oldLevel.String()),
		slog.String("new_log_level", newLevel.String()),
		slog.Duration("established_timeout", newCfg.Engine.EstablishedTimeout),
		slog.Duration("transitory_timeout", newCfg.Engine.TransitoryTimeout),
	)
}

func gracefulShutdown(ctx context.Context, logger *slog.Logger, servers ...*http.Server) error {
	logger.Info("initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	var shutdownErr error
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown server: %w", err))
		}
	}
	return shutdownErr
}

func listenAndServe(ctx context.Context, lc *net.ListenConfig, srv *http.Server, addr string) error {
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve on %s: %w", addr, err)
	}
	return nil
}

func newAdminServer(cfg config.AdminConfig, eng *engine.Engine, logger *slog.Logger) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.New(eng, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
		return cfg, nil
	}
	return config.DefaultConfig(), nil
}

func newLoggerWithLevel(cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
