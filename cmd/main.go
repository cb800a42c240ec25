package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/okian/geoheat/internal/adapters/http/api"
	"github.com/okian/geoheat/internal/adapters/http/swagger"
	"github.com/okian/geoheat/internal/adapters/kafka"
	app "github.com/okian/geoheat/internal/app"
	"github.com/okian/geoheat/internal/config"
	"github.com/okian/geoheat/internal/domain/aggregate"
	"github.com/okian/geoheat/internal/domain/model"
	"github.com/okian/geoheat/internal/testevents"
	"github.com/okian/geoheat/pkg/logger"
	"github.com/okian/geoheat/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout               = 10 * time.Second
	writeTimeout              = 10 * time.Second
	idleTimeout               = 60 * time.Second
	readHeaderTimeout         = 5 * time.Second
	nanosecondsPerMillisecond = 1e6
)

func main() {
	// Disable default Go metrics collection to avoid duplicate metrics
	prometheus.Unregister(collectors.NewGoCollector())
	prometheus.Unregister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	_ = godotenv.Load(".env")

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		// Use stderr for initialization errors since logger isn't available yet
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return
	}

	if err := logger.InitWithOptions(logger.Options{Format: cfg.LogFormat, Level: cfg.LogLevel}); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		return
	}
	defer func() { _ = logger.Sync() }()

	loggerInstance := logger.Get()

	svc := newService(cfg, loggerInstance)
	if err := svc.Start(ctx); err != nil {
		loggerInstance.Error(ctx, "failed to start service", logger.Error(err))
		return
	}
	defer svc.Stop()

	events, source, err := bootstrapEvents(cfg, time.Now().UTC())
	if err != nil {
		loggerInstance.Error(ctx, "failed to load bootstrap events", logger.Error(err))
		return
	}
	counts, err := svc.Bootstrap(ctx, events)
	if err != nil {
		loggerInstance.Error(ctx, "bootstrap failed", logger.Error(err))
		return
	}
	loggerInstance.Info(ctx, "bootstrap metrics",
		logger.String("source", source),
		logger.Int("raw", counts.Raw),
		logger.Int("normalized", counts.Normalized),
		logger.Int("deltas", counts.Deltas),
	)

	if cfg.AutoIngest {
		if err := svc.StartBackgroundIngestion(cfg.IngestInterval, cfg.IngestBatchSize); err != nil {
			loggerInstance.Error(ctx, "failed to start background ingestion", logger.Error(err))
			return
		}
	}

	metrics.SetRefreshInterval(cfg.MetricsInterval)
	go startSystemMetricsUpdater(ctx, metrics.RefreshInterval())
	go startServiceMetricsUpdater(ctx, svc, metrics.RefreshInterval())

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newMux(ctx, svc),
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		loggerInstance.Info(ctx, "serving heatmap tiles", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			loggerInstance.Error(ctx, "HTTP server failed", logger.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	loggerInstance.Info(context.Background(), "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		loggerInstance.Error(shutdownCtx, "server shutdown failed", logger.Error(err))
	}

	loggerInstance.Info(shutdownCtx, "server stopped")
}

// newService builds the service from configuration.
func newService(cfg *config.Config, log logger.Logger) *app.Service {
	opts := []app.Option{
		app.WithLogger(log.Named("service")),
		app.WithZoomLevels(cfg.ZoomLevels...),
		app.WithWindowSizes(cfg.WindowSizes...),
		app.WithBaseCellSize(cfg.BaseCellSize),
		app.WithDedupeRetention(cfg.DedupeRetention),
		app.WithDedupeSize(cfg.DedupeSize),
		app.WithQueueSize(cfg.QueueSize),
	}
	if cfg.RetentionMaxAge > 0 {
		opts = append(opts, app.WithRetention(aggregate.MaxAge{Age: cfg.RetentionMaxAge}))
	}
	if len(cfg.KafkaBrokers) > 0 {
		opts = append(opts, app.WithDeltaSink(kafka.NewWriter(cfg.KafkaBrokers, cfg.KafkaTopic)))
	}
	return app.New(opts...)
}

// bootstrapEvents loads the fixture directory when enabled and present,
// otherwise generates synthetic events. It also names the source used.
func bootstrapEvents(cfg *config.Config, now time.Time) ([]model.Event, string, error) {
	if cfg.UseFixtures && cfg.FixtureDir != "" {
		if info, err := os.Stat(cfg.FixtureDir); err == nil && info.IsDir() {
			events, err := testevents.LoadEventsFromDirectory(cfg.FixtureDir)
			if err != nil {
				return nil, "", fmt.Errorf("load fixtures: %w", err)
			}
			return events, "fixtures:" + filepath.Clean(cfg.FixtureDir), nil
		}
	}
	return testevents.GenerateSampleEvents(now, testevents.DefaultCityID, cfg.BootstrapEvents), "synthetic", nil
}

// newMux registers the docs and business API routes.
func newMux(ctx context.Context, svc *app.Service) *http.ServeMux {
	mux := http.NewServeMux()
	swagger.Register(ctx, mux)
	api.NewServer(svc, svc).Register(ctx, mux)
	return mux
}

// startSystemMetricsUpdater updates system metrics every interval until ctx ends.
func startSystemMetricsUpdater(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

// startServiceMetricsUpdater refreshes the service gauges exposed on /healthz.
func startServiceMetricsUpdater(ctx context.Context, svc *app.Service, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = svc.GetStats()
		}
	}
}

// updateSystemMetrics updates system-level metrics.
func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())

	if m.NumGC > 0 {
		avgPauseMs := float64(m.PauseTotalNs) / float64(m.NumGC) / nanosecondsPerMillisecond
		metrics.RecordSystemGCPauseTime(avgPauseMs)
	}
}
