package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Priya8975/commerce-pulse/internal/domain"
	"github.com/Priya8975/commerce-pulse/internal/metrics"
)

const lockTTL = 30 * time.Second

// ErrOrderLocked is returned when another writer holds an order's lock for
// longer than the retry budget allows.
var ErrOrderLocked = errors.New("order lock held by another writer")

// Materializer writes folded aggregates. Each write replaces the stored
// document wholesale, so it is safe to repeat.
type Materializer struct {
	store     AggregateStore
	locker    OrderLocker
	publisher Publisher
	retry     RetryPolicy
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

func NewMaterializer(store AggregateStore, locker OrderLocker, publisher Publisher, retry RetryPolicy, m *metrics.Metrics, logger *slog.Logger) *Materializer {
	return &Materializer{
		store:     store,
		locker:    locker,
		publisher: publisher,
		retry:     retry,
		metrics:   m,
		logger:    logger,
	}
}

// Upsert replaces the stored aggregate for agg.OrderRef.
func (m *Materializer) Upsert(ctx context.Context, agg domain.OrderAggregate) error {
	if m.locker != nil {
		token, err := retry(ctx, m.retry, m.metrics, m.logger, "lock_order", func() (string, error) {
			token, ok, err := m.locker.LockOrder(ctx, agg.OrderRef, lockTTL)
			if err != nil {
				return "", err
			}
			if !ok {
				return "", ErrOrderLocked
			}
			return token, nil
		})
		if err != nil {
			m.metrics.MaterializeFailures.Inc()
			return fmt.Errorf("locking order %s: %w", agg.OrderRef, err)
		}
		defer func() {
			// Released on a fresh context so a cancelled run still frees the key.
			unlockCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := m.locker.UnlockOrder(unlockCtx, agg.OrderRef, token); err != nil {
				m.logger.Warn("releasing order lock failed", "order_ref", agg.OrderRef, "error", err)
			}
		}()
	}

	err := retryErr(ctx, m.retry, m.metrics, m.logger, "upsert_aggregate", func() error {
		return m.store.UpsertOrderAggregate(ctx, agg)
	})
	if err != nil {
		m.metrics.MaterializeFailures.Inc()
		return fmt.Errorf("upserting aggregate %s: %w", agg.OrderRef, err)
	}
	m.metrics.OrdersMaterialized.Inc()

	if m.publisher != nil {
		m.publisher.PublishOrderUpdate(agg)
	}
	return nil
}
