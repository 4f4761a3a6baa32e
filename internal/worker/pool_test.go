package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/Priya8975/commerce-pulse/internal/aggregate"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestPool_ProcessesAllJobs(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[string]int)

	pool := NewPool(3, func(ctx context.Context, job Job) error {
		mu.Lock()
		seen[job.OrderRef]++
		mu.Unlock()
		return nil
	}, testLogger())

	ctx := context.Background()
	pool.Start(ctx)
	for i := 0; i < 50; i++ {
		if err := pool.Submit(ctx, Job{OrderRef: fmt.Sprintf("ORD-%d", i)}); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	if err := pool.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}

	if len(seen) != 50 {
		t.Errorf("expected 50 orders processed, got %d", len(seen))
	}
	if stats := pool.Stats(); stats.Processed != 50 || stats.Failed != 0 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestPool_SameOrderSameWorker(t *testing.T) {
	const workers = 4
	var mu sync.Mutex
	var active = make(map[string]int)
	overlap := false

	pool := NewPool(workers, func(ctx context.Context, job Job) error {
		mu.Lock()
		active[job.OrderRef]++
		if active[job.OrderRef] > 1 {
			overlap = true
		}
		mu.Unlock()

		mu.Lock()
		active[job.OrderRef]--
		mu.Unlock()
		return nil
	}, testLogger())

	ctx := context.Background()
	pool.Start(ctx)
	for i := 0; i < 100; i++ {
		pool.Submit(ctx, Job{OrderRef: fmt.Sprintf("ORD-%d", i%5)})
	}
	pool.Stop()

	if overlap {
		t.Error("two workers processed the same order concurrently")
	}
	for i := 0; i < 5; i++ {
		ref := fmt.Sprintf("ORD-%d", i)
		if p := aggregate.Partition(ref, workers); p < 0 || p >= workers {
			t.Errorf("partition out of range for %s", ref)
		}
	}
}

func TestPool_CollectsErrorsWithoutStopping(t *testing.T) {
	boom := errors.New("store unavailable")
	pool := NewPool(2, func(ctx context.Context, job Job) error {
		if strings.HasSuffix(job.OrderRef, "-bad") {
			return boom
		}
		return nil
	}, testLogger())

	ctx := context.Background()
	pool.Start(ctx)
	for _, ref := range []string{"ORD-1", "ORD-2-bad", "ORD-3", "ORD-4-bad", "ORD-5"} {
		pool.Submit(ctx, Job{OrderRef: ref})
	}
	err := pool.Stop()

	if !errors.Is(err, boom) {
		t.Fatalf("expected joined error wrapping the handler error, got %v", err)
	}
	if !strings.Contains(err.Error(), "ORD-2-bad") || !strings.Contains(err.Error(), "ORD-4-bad") {
		t.Errorf("error should name the failed orders: %v", err)
	}
	if stats := pool.Stats(); stats.Processed != 3 || stats.Failed != 2 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestPool_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pool := NewPool(1, func(ctx context.Context, job Job) error { return nil }, testLogger())
	pool.Start(ctx)
	cancel()

	// Either the job is queued and drained unprocessed, or Submit reports
	// the cancellation; it must never block.
	for i := 0; i < 100; i++ {
		if err := pool.Submit(ctx, Job{OrderRef: "ORD-1"}); err != nil {
			if !errors.Is(err, context.Canceled) {
				t.Fatalf("unexpected error %v", err)
			}
			break
		}
	}
	if err := pool.Stop(); err != nil {
		t.Errorf("stop: %v", err)
	}
}
