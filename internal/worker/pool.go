package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/Priya8975/commerce-pulse/internal/aggregate"
	"github.com/Priya8975/commerce-pulse/internal/domain"
)

// Job is the full curated event set of one order.
type Job struct {
	OrderRef string
	Events   []domain.CuratedEvent
}

// Handler processes one order. Errors are collected, never fatal to the pool.
type Handler func(ctx context.Context, job Job) error

// Stats counts pool outcomes.
type Stats struct {
	Processed int64
	Failed    int64
}

// Pool runs a fixed number of workers, each owning one partition of the
// order space. Jobs for the same order always land on the same worker, so
// writes to one order key are serialized within a run.
type Pool struct {
	numWorkers int
	queues     []chan Job
	handler    Handler
	logger     *slog.Logger
	wg         sync.WaitGroup

	processed atomic.Int64
	failed    atomic.Int64

	mu   sync.Mutex
	errs []error
}

// NewPool creates a pool with numWorkers partitions.
func NewPool(numWorkers int, handler Handler, logger *slog.Logger) *Pool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	queues := make([]chan Job, numWorkers)
	for i := range queues {
		queues[i] = make(chan Job, 16)
	}
	return &Pool{
		numWorkers: numWorkers,
		queues:     queues,
		handler:    handler,
		logger:     logger,
	}
}

// Start launches one goroutine per partition.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	p.logger.Info("worker pool started", "num_workers", p.numWorkers)
}

// Submit routes the job to its order's partition. It returns the context
// error if the run is cancelled while waiting for queue space.
func (p *Pool) Submit(ctx context.Context, job Job) error {
	q := p.queues[aggregate.Partition(job.OrderRef, p.numWorkers)]
	select {
	case q <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop closes the queues, waits for the workers and returns every handler
// error joined together.
func (p *Pool) Stop() error {
	for _, q := range p.queues {
		close(q)
	}
	p.wg.Wait()
	p.logger.Info("worker pool stopped",
		"processed", p.processed.Load(),
		"failed", p.failed.Load(),
	)

	p.mu.Lock()
	defer p.mu.Unlock()
	return errors.Join(p.errs...)
}

// Stats returns the current counters.
func (p *Pool) Stats() Stats {
	return Stats{Processed: p.processed.Load(), Failed: p.failed.Load()}
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	for job := range p.queues[id] {
		// Once cancelled, drain without processing so Submit never blocks.
		if ctx.Err() != nil {
			continue
		}
		if err := p.handler(ctx, job); err != nil {
			p.failed.Add(1)
			p.mu.Lock()
			p.errs = append(p.errs, fmt.Errorf("order %s: %w", job.OrderRef, err))
			p.mu.Unlock()
			p.logger.Warn("order processing failed", "order_ref", job.OrderRef, "worker", id, "error", err)
			continue
		}
		p.processed.Add(1)
	}
}
