package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/Priya8975/commerce-pulse/internal/metrics"
)

// RetryPolicy bounds the exponential backoff applied to store I/O.
type RetryPolicy struct {
	MaxAttempts     uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:     5,
	InitialInterval: 100 * time.Millisecond,
	MaxInterval:     5 * time.Second,
}

func (p RetryPolicy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	return b
}

// retry runs op until it succeeds, the attempts are exhausted or ctx is
// done. The last error is returned unchanged so callers can errors.Is it.
func retry[T any](ctx context.Context, p RetryPolicy, m *metrics.Metrics, logger *slog.Logger, operation string, op func() (T, error)) (T, error) {
	attempts := p.MaxAttempts
	if attempts == 0 {
		attempts = 1
	}
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxTries(attempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			m.StoreRetries.WithLabelValues(operation).Inc()
			logger.Warn("store operation failed, retrying",
				"operation", operation,
				"retry_in", next,
				"error", err,
			)
		}),
	)
}

// retryErr is retry for operations without a result.
func retryErr(ctx context.Context, p RetryPolicy, m *metrics.Metrics, logger *slog.Logger, operation string, op func() error) error {
	_, err := retry(ctx, p, m, logger, operation, func() (struct{}, error) {
		return struct{}{}, op()
	})
	return err
}
