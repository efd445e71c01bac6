package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/juny6654/longplan/internal/admin"
	"github.com/juny6654/longplan/internal/alert"
	"github.com/juny6654/longplan/internal/cache"
	"github.com/juny6654/longplan/internal/canbus"
	"github.com/juny6654/longplan/internal/config"
	"github.com/juny6654/longplan/internal/domain/model"
	"github.com/juny6654/longplan/internal/fcw"
	"github.com/juny6654/longplan/internal/lead"
	"github.com/juny6654/longplan/internal/metrics"
	"github.com/juny6654/longplan/internal/planner"
	"github.com/juny6654/longplan/internal/publish"
	"github.com/juny6654/longplan/internal/reconciliation"
	"github.com/juny6654/longplan/internal/replay"
	"github.com/juny6654/longplan/internal/smoother"
	"github.com/juny6654/longplan/internal/store"
	"github.com/juny6654/longplan/internal/store/postgres"
	"github.com/juny6654/longplan/internal/tracing"
	"github.com/juny6654/longplan/internal/tuning"
)

// adminCacheSize holds ten minutes of plans for cycle lookups.
const adminCacheSize = 12000

// poolStatsInterval is how often the archive pool gauges are sampled.
const poolStatsInterval = 15 * time.Second

// sourceRuntime bundles the planning input for the selected mode: the cycle
// source itself, an optional background pump, an optional extra plan sink
// (replay feeds plans back into the script), and the vehicle parameters and
// tuning the planner runs with.
type sourceRuntime struct {
	source planner.CycleSource
	run    func(context.Context) error
	sink   planner.PlanSink
	params model.VehicleParams
	tuning planner.TuningSource
}

func buildSource(ctx context.Context, cfg *config.Config, logger *slog.Logger) (sourceRuntime, error) {
	switch cfg.Source.Mode {
	case config.SourceCAN:
		reader, err := canbus.NewSocketReader(ctx, cfg.Source.CANInterface)
		if err != nil {
			return sourceRuntime{}, fmt.Errorf("open CAN interface %s: %w", cfg.Source.CANInterface, err)
		}
		src := canbus.NewSource(reader, logger)
		return sourceRuntime{
			source: src,
			run:    src.Run,
			params: cfg.Vehicle.Params(),
			tuning: tuning.NewStore(cfg.Tuning.Path, logger),
		}, nil

	case config.SourceReplay:
		sc, err := replay.Load(cfg.Source.ScenarioPath)
		if err != nil {
			return sourceRuntime{}, err
		}
		logger.Info("replay scenario loaded",
			"scenario", sc.Name,
			"segments", len(sc.Segments),
			"cycles", sc.TotalCycles(),
			"drive_time", sc.Duration(),
		)
		src := replay.NewSource(sc, logger)
		// A replayed drive runs with the scenario's own vehicle and tuning:
		// the same file must produce the same plans on any host.
		return sourceRuntime{
			source: src,
			sink:   src,
			params: sc.VehicleParams(),
			tuning: tuning.Fixed(sc.PlannerTuning()),
		}, nil

	default:
		return sourceRuntime{}, fmt.Errorf("unsupported source mode %q", cfg.Source.Mode)
	}
}

func buildAlerter(cfg config.AlertConfig, logger *slog.Logger) alert.Alerter {
	var channels []alert.Alerter
	if cfg.SlackWebhookURL != "" {
		channels = append(channels, alert.NewSlackAlerter(cfg.SlackWebhookURL))
	}
	if cfg.WebhookURL != "" {
		channels = append(channels, alert.NewWebhookAlerter(cfg.WebhookURL))
	}
	if len(channels) == 0 {
		return &alert.NoopAlerter{}
	}
	return alert.NewMultiAlerter(cfg.Cooldown, logger, channels...)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	switch cfg.Log.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	logger.Info("starting longplan daemon",
		"source", cfg.Source.Mode,
		"can_interface", cfg.Source.CANInterface,
		"scenario", cfg.Source.ScenarioPath,
		"tuning_path", cfg.Tuning.Path,
		"publish_url", cfg.Redis.URL,
		"drive_log", cfg.DB.URL != "",
		"health_port", cfg.Server.HealthPort,
		"admin_port", cfg.Server.AdminPort,
	)

	// Initialize OpenTelemetry tracing
	tracingEndpoint := ""
	if cfg.Tracing.Enabled {
		tracingEndpoint = cfg.Tracing.Endpoint
	}
	shutdownTracing, err := tracing.Init(context.Background(), "longplan", tracingEndpoint, cfg.Tracing.Insecure, cfg.Tracing.SampleRatio)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown error", "error", err)
		}
	}()
	if cfg.Tracing.Enabled {
		logger.Info("tracing enabled", "endpoint", cfg.Tracing.Endpoint, "sample_ratio", cfg.Tracing.SampleRatio)
	}

	// Context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := buildSource(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build input source", "error", err)
		os.Exit(1)
	}

	publisher, err := publish.New(cfg.Redis.URL, cfg.Redis.Stream, logger)
	if err != nil {
		logger.Error("failed to initialize plan publisher", "error", err)
		os.Exit(1)
	}
	defer publisher.Close()

	alerter := buildAlerter(cfg.Alert, logger)
	monitor := alert.NewMonitor(alerter, cfg.Alert.StaleCycles, logger)

	sinks := []planner.PlanSink{publisher, monitor}
	if rt.sink != nil {
		sinks = append(sinks, rt.sink)
	}

	// The admin API is optional and meant for the bench network. Its
	// recorder rides along as one more sink.
	var recorder *admin.Recorder
	if cfg.Server.AdminPort != 0 {
		recorder = admin.NewRecorder(0, cache.NewPlanCache(adminCacheSize, 15*time.Minute))
		sinks = append(sinks, recorder)
	}

	// Drive log is optional: without a database the daemon still plans,
	// publishes, and alerts.
	var driveLogRun func(context.Context) error
	var sweepRun func(context.Context) error
	var poolStatsRun func(context.Context) error
	var adminOpts []admin.ServerOption
	if cfg.DB.URL != "" {
		db, err := postgres.New(postgres.Config{
			URL:                cfg.DB.URL,
			MaxOpenConns:       cfg.DB.MaxOpenConns,
			MaxIdleConns:       cfg.DB.MaxIdleConns,
			ConnMaxLifetime:    cfg.DB.ConnMaxLifetime,
			StatementTimeoutMS: cfg.DB.StatementTimeoutMS,
		})
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		repo := postgres.NewDriveLogRepo(db)
		if err := repo.EnsureSchema(ctx); err != nil {
			logger.Error("failed to ensure drive log schema", "error", err)
			os.Exit(1)
		}
		logger.Info("drive log enabled")

		writer := store.NewWriter(repo, logger)
		sinks = append(sinks, writer)
		driveLogRun = writer.Run

		sweeper := reconciliation.NewService(repo, alerter, logger)
		adminOpts = append(adminOpts, admin.WithSweeper(sweeper), admin.WithDriveLog(repo))
		if cfg.Reconcile.Interval > 0 {
			interval, drives := cfg.Reconcile.Interval, cfg.Reconcile.Drives
			sweepRun = func(ctx context.Context) error {
				return sweeper.RunPeriodic(ctx, interval, drives)
			}
		}
		poolStatsRun = func(ctx context.Context) error {
			return runPoolStats(ctx, db, poolStatsInterval, logger)
		}
	}

	p := planner.New(
		rt.params,
		smoother.New(),
		lead.New(),
		lead.New(),
		fcw.New(),
		rt.tuning,
		logger,
	)
	loop := planner.NewLoop(p, rt.source, sinks, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	g, gCtx := errgroup.WithContext(ctx)

	// Health check server
	g.Go(func() error {
		return runHealthServer(gCtx, cfg.Server.HealthPort, logger)
	})

	if rt.run != nil {
		g.Go(func() error {
			return rt.run(gCtx)
		})
	}

	if driveLogRun != nil {
		g.Go(func() error {
			return driveLogRun(gCtx)
		})
	}

	if sweepRun != nil {
		g.Go(func() error {
			return sweepRun(gCtx)
		})
	}

	if poolStatsRun != nil {
		g.Go(func() error {
			return poolStatsRun(gCtx)
		})
	}

	if cfg.Server.AdminPort != 0 {
		srv := admin.NewServer(recorder, rt.tuning, logger, adminOpts...)
		g.Go(func() error {
			return runAdminServer(gCtx, cfg.Server.AdminPort, srv, logger)
		})
	}

	g.Go(func() error {
		return loop.Run(gCtx)
	})

	// Signal handler
	g.Go(func() error {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		logger.Error("planner daemon exited with error", "error", err)
		os.Exit(1)
	}

	logger.Info("planner daemon shut down gracefully")
}

func runHealthServer(ctx context.Context, port int, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok")); err != nil {
			logger.Warn("failed to write health response", "error", err)
		}
	})
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			logger.Warn("health server shutdown error", "error", err)
		}
	}()

	logger.Info("health server started", "port", port)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("health server: %w", err)
	}
	return nil
}

func runAdminServer(ctx context.Context, port int, srv *admin.Server, logger *slog.Logger) error {
	limiter := admin.NewRateLimitMiddleware(logger)
	defer limiter.Stop()

	handler := admin.AuditMiddleware(logger, limiter.Wrap(srv.Handler()))

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: handler,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			logger.Warn("admin server shutdown error", "error", err)
		}
	}()

	logger.Info("admin server started", "port", port)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("admin server: %w", err)
	}
	return nil
}

type dbStatsProvider interface {
	Stats() sql.DBStats
}

// collectPoolStats pushes one sample of the archive pool into the gauges.
// A panicking driver is recovered so a bad sample never takes the daemon
// down with it.
func collectPoolStats(db dbStatsProvider) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("db pool stats collection panicked: %v", r)
		}
	}()
	if db == nil {
		return fmt.Errorf("db stats provider is nil")
	}

	stats := db.Stats()
	metrics.DBPoolOpen.Set(float64(stats.OpenConnections))
	metrics.DBPoolInUse.Set(float64(stats.InUse))
	metrics.DBPoolIdle.Set(float64(stats.Idle))
	metrics.DBPoolWaitCount.Set(float64(stats.WaitCount))
	metrics.DBPoolWaitSeconds.Set(stats.WaitDuration.Seconds())
	return nil
}

// runPoolStats samples the archive pool gauges until the context ends.
func runPoolStats(ctx context.Context, db dbStatsProvider, interval time.Duration, logger *slog.Logger) error {
	if err := collectPoolStats(db); err != nil {
		logger.Warn("failed to collect db pool stats", "error", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := collectPoolStats(db); err != nil {
				logger.Warn("failed to collect db pool stats", "error", err)
			}
		}
	}
}
