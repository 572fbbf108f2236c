package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/reelpool/internal/catalog"
	"github.com/jmylchreest/reelpool/internal/config"
	internalhttp "github.com/jmylchreest/reelpool/internal/http"
	"github.com/jmylchreest/reelpool/internal/http/handlers"
	"github.com/jmylchreest/reelpool/internal/metrics"
	"github.com/jmylchreest/reelpool/internal/observability"
	"github.com/jmylchreest/reelpool/internal/playback"
	"github.com/jmylchreest/reelpool/internal/player"
	"github.com/jmylchreest/reelpool/internal/preload"
	"github.com/jmylchreest/reelpool/internal/pressure"
	"github.com/jmylchreest/reelpool/internal/session"
	"github.com/jmylchreest/reelpool/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the reelpool session and control API",
	Long: `Start a playback session backed by the catalog, plus its HTTP API.

The server provides:
- Control endpoints standing in for the UI (navigation, playing, signals)
- Pool, pressure and session status
- Health checks and Prometheus metrics
- OpenAPI documentation at /docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "127.0.0.1", "Host to bind to")
	serveCmd.Flags().Int("port", 8085, "Port to listen on")
	serveCmd.Flags().String("database", "reelpool.db", "Catalog database DSN")
	serveCmd.Flags().Int("capacity", 5, "Default pool capacity")
	serveCmd.Flags().Bool("sampler", true, "Poll system memory for pressure signals")

	mustBindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	mustBindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	mustBindPFlag("database.dsn", serveCmd.Flags().Lookup("database"))
	mustBindPFlag("pool.capacity", serveCmd.Flags().Lookup("capacity"))
	mustBindPFlag("pressure.sampler.enabled", serveCmd.Flags().Lookup("sampler"))
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := slog.Default()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := catalog.Open(ctx, cfg.Database, cfg.Storage.CacheDir, observability.WithComponent(logger, "catalog"))
	if err != nil {
		return fmt.Errorf("opening catalog: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("closing catalog", slog.String("error", err.Error()))
		}
	}()

	m := metrics.New()
	coordinator := newSession(cfg, store, m, logger)

	if err := m.Register(metrics.NewSessionCollector(coordinator)); err != nil {
		return fmt.Errorf("registering session metrics: %w", err)
	}

	if feed, err := coordinator.ReloadFeed(ctx); err != nil {
		logger.Warn("initial feed load failed", slog.String("error", err.Error()))
	} else {
		logger.Info("feed loaded",
			slog.Int("threads", len(feed.Threads)),
			slog.Int("items", feed.Len()),
		)
	}

	server := internalhttp.NewServer(internalhttp.ServerConfigFrom(cfg.Server), logger, version.Version)
	server.Handle("/metrics", m.Handler())

	handlers.NewHealthHandler(version.Version).WithCatalog(store).Register(server.API())
	handlers.NewPoolHandler(coordinator).Register(server.API())
	handlers.NewControlHandler(coordinator).Register(server.API())

	sessionErr := make(chan error, 1)
	go func() {
		sessionErr <- coordinator.Run(ctx)
	}()

	logger.Info("starting reelpool server",
		slog.String("address", server.Addr()),
		slog.Int("capacity", cfg.Pool.Capacity),
		slog.String("version", version.Version),
	)

	serveErr := server.ListenAndServe(ctx)
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := coordinator.Shutdown(shutdownCtx); err != nil {
		logger.Error("session shutdown incomplete", slog.String("error", err.Error()))
	}
	if err := <-sessionErr; err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, session.ErrClosed) {
		logger.Error("session stopped", slog.String("error", err.Error()))
	}

	logger.Info("reelpool stopped")
	return serveErr
}

// newSession wires the pool, monitor, scheduler and optional sampler into a
// session coordinator.
func newSession(cfg *config.Config, store *catalog.Store, m *metrics.Metrics, logger *slog.Logger) *session.Coordinator {
	opener := player.NewStreamOpener(player.OpenerConfig{
		HTTPTimeout:      cfg.Player.HTTPTimeout,
		MaxBufferSeconds: cfg.Player.MaxBufferSeconds,
		MaxPlaylistSize:  cfg.Player.MaxPlaylistSize.Bytes(),
		UserAgent:        userAgent(cfg.Player.UserAgent),
	}).WithLogger(observability.WithComponent(logger, "player"))

	pool := playback.NewPool(playback.Config{
		Capacity:         cfg.Pool.Capacity,
		MaxConcurrent:    cfg.Pool.MaxConcurrent,
		FailureBackoff:   cfg.Pool.FailureBackoff,
		StrictInvariants: cfg.Pool.StrictInvariants,
		Probe: playback.ProbeConfig{
			Interval:           cfg.Probe.Interval,
			MaxAttempts:        cfg.Probe.MaxAttempts,
			MinBufferedSeconds: cfg.Probe.MinBufferedSeconds,
		},
	}, opener, store).
		WithLogger(observability.WithComponent(logger, "pool")).
		WithObserver(m)

	monitorLogger := observability.WithComponent(logger, "pressure")
	monitor := pressure.NewMonitor(pressure.MonitorConfig{
		ElevatedCapacity:  cfg.Pressure.ElevatedCapacity,
		CriticalCapacity:  cfg.Pressure.CriticalCapacity,
		EmergencyCapacity: cfg.Pressure.EmergencyCapacity,
		BurstThreshold:    cfg.Pressure.BurstThreshold,
		BurstWindow:       cfg.Pressure.BurstWindow,
		QuietPeriod:       cfg.Pressure.QuietPeriod,
		OnLevelChange: func(from, to pressure.Level) {
			monitorLogger.Info("memory pressure level changed",
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	}, pool).WithLogger(monitorLogger)
	pool.WithLevelSource(monitor)

	scheduler := preload.NewScheduler(pool, monitor).
		WithLogger(observability.WithComponent(logger, "preload"))

	coordinator := session.New(session.Config{EventBuffer: cfg.Preload.EventBuffer}, pool, monitor, scheduler).
		WithLogger(observability.WithComponent(logger, "session")).
		WithFeedSource(store)

	if cfg.Pressure.Sampler.Enabled {
		sampler := pressure.NewSampler(pressure.SamplerConfig{
			Schedule:          cfg.Pressure.Sampler.Schedule,
			WarningAvailable:  uint64(cfg.Pressure.Sampler.WarningAvailable.Bytes()),
			CriticalAvailable: uint64(cfg.Pressure.Sampler.CriticalAvailable.Bytes()),
			Timeout:           cfg.Pressure.Sampler.Timeout,
		}, monitor).WithLogger(monitorLogger)
		coordinator.WithSampler(sampler)
	}

	return coordinator
}

func userAgent(configured string) string {
	if configured != "" {
		return configured
	}
	return version.UserAgent()
}
