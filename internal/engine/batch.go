package engine

import (
	"context"
)

// writeRows stores rows through write with retries. If the batch still
// fails, each row is written on its own exactly once so that a single row
// the store refuses does not sink the rest. failed marks rows that could
// not be written. When no row can be written the batch error is returned.
func writeRows[T any](ctx context.Context, p *Pipeline, operation string, rows []T, write func(context.Context, []T) ([]bool, error)) (flags, failed []bool, err error) {
	flags, err = retry(ctx, p.retry, p.metrics, p.logger, operation, func() ([]bool, error) {
		return write(ctx, rows)
	})
	if err == nil {
		return flags, make([]bool, len(rows)), nil
	}
	if len(rows) < 2 || ctx.Err() != nil {
		return nil, nil, err
	}

	p.logger.Warn("batch write failed, writing rows one at a time",
		"operation", operation,
		"rows", len(rows),
		"error", err,
	)
	flags = make([]bool, len(rows))
	failed = make([]bool, len(rows))
	written := 0
	for i := range rows {
		got, rowErr := write(ctx, rows[i:i+1])
		if rowErr != nil || len(got) != 1 {
			failed[i] = true
			continue
		}
		flags[i] = got[0]
		written++
	}
	if written == 0 {
		return nil, nil, err
	}
	p.metrics.RowsFailed.WithLabelValues(operation).Add(float64(len(rows) - written))
	return flags, failed, nil
}
