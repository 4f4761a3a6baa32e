// Command pipeline runs the batch flow once: load the historical bootstrap
// and the live event files, then transform and build order metrics.
//
// Without DATABASE_URL it runs against an in-memory store and prints the
// resulting aggregates as JSON lines.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Priya8975/commerce-pulse/internal/aggregate"
	"github.com/Priya8975/commerce-pulse/internal/config"
	"github.com/Priya8975/commerce-pulse/internal/domain"
	"github.com/Priya8975/commerce-pulse/internal/engine"
	"github.com/Priya8975/commerce-pulse/internal/loader"
	"github.com/Priya8975/commerce-pulse/internal/normalize"
	"github.com/Priya8975/commerce-pulse/internal/store"
	"github.com/Priya8975/commerce-pulse/migrations"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	cfg, err := config.LoadLocal()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	skipBootstrap := flag.Bool("skip-bootstrap", false, "do not load the historical bootstrap files")
	skipLive := flag.Bool("skip-live", false, "do not load the live event files")
	flag.StringVar(&cfg.BootstrapDir, "bootstrap-dir", cfg.BootstrapDir, "directory holding the historical exports")
	flag.StringVar(&cfg.LiveEventsDir, "live-dir", cfg.LiveEventsDir, "directory holding <date>/events.jsonl files")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *skipBootstrap, *skipLive, logger); err != nil {
		logger.Error("pipeline failed", "error", err)
		os.Exit(1)
	}
}

type runStore interface {
	engine.Store
	ListOrderAggregates(ctx context.Context, limit int) ([]domain.OrderAggregate, error)
}

func run(ctx context.Context, cfg *config.Config, skipBootstrap, skipLive bool, logger *slog.Logger) error {
	var st runStore
	if cfg.DatabaseURL != "" {
		pg, err := store.NewPostgres(ctx, cfg.DatabaseURL, int32(cfg.NumWorkers+4))
		if err != nil {
			return err
		}
		defer pg.Close()
		if err := pg.RunMigrations(ctx, migrations.FS); err != nil {
			return err
		}
		st = pg
	} else {
		logger.Info("DATABASE_URL not set, using in-memory store")
		st = store.NewMemory()
	}

	normalizer := normalize.New()
	if cfg.MatcherCatalog != "" {
		catalog, err := normalize.LoadCatalog(cfg.MatcherCatalog)
		if err != nil {
			return err
		}
		if normalizer, err = normalize.FromCatalog(catalog); err != nil {
			return err
		}
	}

	opts := engine.Options{
		Normalizer: normalizer,
		Policy:     aggregate.Policy{RequireTerminalDelivery: cfg.RequireTerminalDelivery},
		Retry: engine.RetryPolicy{
			MaxAttempts:     cfg.RetryMaxAttempts,
			InitialInterval: cfg.RetryInitialInterval,
			MaxInterval:     cfg.RetryMaxInterval,
		},
		NumWorkers: cfg.NumWorkers,
	}
	if cfg.RedisURL != "" {
		rs, err := store.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer rs.Close()
		opts.Cache = rs
		opts.Locker = rs
	}
	p := engine.New(st, opts, logger)
	files := loader.New(logger)

	if !skipBootstrap {
		events, err := files.Bootstrap(cfg.BootstrapDir)
		if err != nil {
			return err
		}
		res, err := p.IngestAll(ctx, events)
		if err != nil {
			return err
		}
		logger.Info("bootstrap ingested", "received", res.Received, "inserted", res.Inserted, "duplicates", res.Duplicates, "rejected", res.Rejected)
	}

	if !skipLive {
		events, err := files.LiveEvents(cfg.LiveEventsDir)
		if err != nil {
			return err
		}
		res, err := p.IngestAll(ctx, events)
		if err != nil {
			return err
		}
		logger.Info("live events ingested", "received", res.Received, "inserted", res.Inserted, "duplicates", res.Duplicates, "rejected", res.Rejected)
	}

	if _, err := p.Refresh(ctx); err != nil {
		return err
	}

	if cfg.DatabaseURL == "" {
		aggs, err := st.ListOrderAggregates(ctx, 0)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		for _, agg := range aggs {
			if err := enc.Encode(agg); err != nil {
				return err
			}
		}
	}
	return nil
}
