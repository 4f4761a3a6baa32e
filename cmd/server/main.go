package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Priya8975/commerce-pulse/internal/aggregate"
	"github.com/Priya8975/commerce-pulse/internal/api"
	"github.com/Priya8975/commerce-pulse/internal/config"
	"github.com/Priya8975/commerce-pulse/internal/engine"
	"github.com/Priya8975/commerce-pulse/internal/metrics"
	"github.com/Priya8975/commerce-pulse/internal/normalize"
	"github.com/Priya8975/commerce-pulse/internal/store"
	ws "github.com/Priya8975/commerce-pulse/internal/websocket"
	"github.com/Priya8975/commerce-pulse/migrations"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize PostgreSQL
	pgStore, err := store.NewPostgres(ctx, cfg.DatabaseURL, int32(cfg.NumWorkers+4))
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pgStore.Close()
	logger.Info("connected to PostgreSQL")

	if err := pgStore.RunMigrations(ctx, migrations.FS); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	logger.Info("database migrations applied")

	normalizer, err := buildNormalizer(cfg.MatcherCatalog)
	if err != nil {
		logger.Error("failed to load matcher catalog", "error", err)
		os.Exit(1)
	}

	m := metrics.New()
	hub := ws.NewHub(logger)
	go hub.Run(ctx)

	opts := engine.Options{
		Publisher:  hub,
		Normalizer: normalizer,
		Policy:     aggregate.Policy{RequireTerminalDelivery: cfg.RequireTerminalDelivery},
		Retry: engine.RetryPolicy{
			MaxAttempts:     cfg.RetryMaxAttempts,
			InitialInterval: cfg.RetryInitialInterval,
			MaxInterval:     cfg.RetryMaxInterval,
		},
		NumWorkers: cfg.NumWorkers,
		Metrics:    m,
	}
	deps := api.Deps{
		Store:       pgStore,
		Hub:         hub,
		Metrics:     m,
		IngestLimit: cfg.IngestRateLimit,
		Logger:      logger,
	}

	// Redis is optional: it adds the fingerprint cache, the order lock and
	// the ingest rate limiter.
	if cfg.RedisURL != "" {
		redisStore, err := store.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer redisStore.Close()
		logger.Info("connected to Redis")

		opts.Cache = redisStore
		opts.Locker = redisStore
		deps.Limiter = engine.NewRateLimiter(redisStore.Client(), time.Second, logger)
		deps.Checks = map[string]api.Pinger{"redis": redisStore}
	}

	pipeline := engine.New(pgStore, opts, logger)
	deps.Pipeline = pipeline

	if cfg.PipelineInterval > 0 {
		go schedule(ctx, pipeline, hub, cfg.PipelineInterval, logger)
	}

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      api.NewRouter(deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

func buildNormalizer(catalogPath string) (*normalize.Normalizer, error) {
	if catalogPath == "" {
		return normalize.New(), nil
	}
	catalog, err := normalize.LoadCatalog(catalogPath)
	if err != nil {
		return nil, err
	}
	return normalize.FromCatalog(catalog)
}

// schedule refreshes aggregates every interval until ctx is done.
func schedule(ctx context.Context, p *engine.Pipeline, hub *ws.Hub, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := p.Refresh(ctx)
			if errors.Is(err, engine.ErrRunInProgress) {
				logger.Info("skipping scheduled run, previous run still active")
				continue
			}
			if err != nil {
				logger.Error("scheduled pipeline run failed", "run_id", report.RunID, "error", err)
			}
			hub.PublishRunCompleted(report)
		}
	}
}
