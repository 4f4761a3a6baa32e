// Package engine runs the pipeline stages: idempotent ingestion, raw to
// curated normalization and per-order aggregate materialization.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Priya8975/commerce-pulse/internal/aggregate"
	"github.com/Priya8975/commerce-pulse/internal/domain"
	"github.com/Priya8975/commerce-pulse/internal/metrics"
	"github.com/Priya8975/commerce-pulse/internal/normalize"
	"github.com/Priya8975/commerce-pulse/internal/worker"
)

const defaultBatchSize = 500

// ErrRunInProgress is returned by Refresh while another run is active.
var ErrRunInProgress = errors.New("pipeline run already in progress")

// Options wires the optional collaborators of a Pipeline. Nil fields are
// either defaulted or disable the feature they back.
type Options struct {
	Cache      FingerprintCache
	Locker     OrderLocker
	Publisher  Publisher
	Normalizer *normalize.Normalizer
	Policy     aggregate.Policy
	Retry      RetryPolicy
	NumWorkers int
	BatchSize  int
	Metrics    *metrics.Metrics
}

type Pipeline struct {
	store        Store
	cache        FingerprintCache
	normalizer   *normalize.Normalizer
	materializer *Materializer
	policy       aggregate.Policy
	retry        RetryPolicy
	numWorkers   int
	batchSize    int
	concurrency  int
	metrics      *metrics.Metrics
	logger       *slog.Logger

	runMu sync.Mutex
}

func New(store Store, opts Options, logger *slog.Logger) *Pipeline {
	if opts.Normalizer == nil {
		opts.Normalizer = normalize.New()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.Retry == (RetryPolicy{}) {
		opts.Retry = DefaultRetryPolicy
	}
	if opts.NumWorkers < 1 {
		opts.NumWorkers = 1
	}
	if opts.BatchSize < 1 {
		opts.BatchSize = defaultBatchSize
	}

	return &Pipeline{
		store:        store,
		cache:        opts.Cache,
		normalizer:   opts.Normalizer,
		materializer: NewMaterializer(store, opts.Locker, opts.Publisher, opts.Retry, opts.Metrics, logger),
		policy:       opts.Policy,
		retry:        opts.Retry,
		numWorkers:   opts.NumWorkers,
		batchSize:    opts.BatchSize,
		concurrency:  runtime.GOMAXPROCS(0),
		metrics:      opts.Metrics,
		logger:       logger,
	}
}

// BuildResult counts one metrics materialization pass.
type BuildResult struct {
	Orders       int `json:"orders"`
	Materialized int `json:"materialized"`
	Failed       int `json:"failed"`
}

// BuildMetrics recomputes every order aggregate from the curated events and
// upserts them. Orders are spread over the worker pool by partition; a
// failing order is reported in the joined error and never stops the others.
func (p *Pipeline) BuildMetrics(ctx context.Context) (BuildResult, error) {
	start := time.Now()
	defer func() {
		p.metrics.StageDuration.WithLabelValues("build_metrics").Observe(time.Since(start).Seconds())
	}()

	var result BuildResult
	events, err := retry(ctx, p.retry, p.metrics, p.logger, "list_curated", func() ([]domain.CuratedEvent, error) {
		return p.store.ListAttributedEvents(ctx)
	})
	if err != nil {
		return result, fmt.Errorf("listing attributed events: %w", err)
	}

	groups := aggregate.GroupByOrder(events)
	result.Orders = len(groups)

	pool := worker.NewPool(p.numWorkers, func(ctx context.Context, job worker.Job) error {
		return p.materializer.Upsert(ctx, aggregate.Fold(job.OrderRef, job.Events, p.policy))
	}, p.logger)
	pool.Start(ctx)

	var submitErr error
	for _, ref := range aggregate.SortedRefs(groups) {
		if err := pool.Submit(ctx, worker.Job{OrderRef: ref, Events: groups[ref]}); err != nil {
			submitErr = err
			break
		}
	}
	runErr := pool.Stop()

	stats := pool.Stats()
	result.Materialized = int(stats.Processed)
	result.Failed = int(stats.Failed)

	if submitErr == nil {
		submitErr = ctx.Err()
	}
	if submitErr != nil {
		return result, fmt.Errorf("building metrics: %w", errors.Join(submitErr, runErr))
	}
	if runErr != nil {
		return result, fmt.Errorf("building metrics: %w", runErr)
	}

	p.logger.Info("metrics built", "orders", result.Orders, "materialized", result.Materialized)
	return result, nil
}

// RunReport summarizes one Refresh.
type RunReport struct {
	RunID     uuid.UUID       `json:"run_id"`
	StartedAt time.Time       `json:"started_at"`
	Duration  string          `json:"duration"`
	Transform TransformResult `json:"transform"`
	Build     BuildResult     `json:"build"`
}

// Refresh runs transform then metrics over everything currently stored.
// Only one Refresh runs at a time; a concurrent call gets ErrRunInProgress.
func (p *Pipeline) Refresh(ctx context.Context) (RunReport, error) {
	if !p.runMu.TryLock() {
		return RunReport{}, ErrRunInProgress
	}
	defer p.runMu.Unlock()

	report := RunReport{RunID: uuid.New(), StartedAt: time.Now().UTC()}
	logger := p.logger.With("run_id", report.RunID.String())
	logger.Info("pipeline run started")

	var err error
	report.Transform, err = p.Transform(ctx)
	if err != nil {
		report.Duration = time.Since(report.StartedAt).String()
		logger.Error("transform failed", "error", err)
		return report, err
	}

	report.Build, err = p.BuildMetrics(ctx)
	report.Duration = time.Since(report.StartedAt).String()
	if err != nil {
		logger.Error("metrics build finished with errors", "error", err, "failed", report.Build.Failed)
		return report, err
	}

	logger.Info("pipeline run complete",
		"duration", report.Duration,
		"orders", report.Build.Orders,
		"unattributable", report.Transform.Unattributable,
	)
	return report, nil
}
