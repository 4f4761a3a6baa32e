package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Priya8975/commerce-pulse/internal/domain"
)

// UpsertOrderAggregate replaces the stored metrics for the order wholesale.
func (s *PostgresStore) UpsertOrderAggregate(ctx context.Context, agg domain.OrderAggregate) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO order_metrics (order_ref, created_at, paid_at, delivered_at, refund_count)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (order_ref) DO UPDATE SET
			created_at = EXCLUDED.created_at,
			paid_at = EXCLUDED.paid_at,
			delivered_at = EXCLUDED.delivered_at,
			refund_count = EXCLUDED.refund_count
	`, agg.OrderRef, agg.CreatedAt, agg.PaidAt, agg.DeliveredAt, agg.RefundCount)
	if err != nil {
		return fmt.Errorf("upserting order metrics for %s: %w", agg.OrderRef, err)
	}
	return nil
}

// GetOrderAggregate returns the stored metrics for one order, or nil.
func (s *PostgresStore) GetOrderAggregate(ctx context.Context, orderRef string) (*domain.OrderAggregate, error) {
	agg, err := scanAggregate(s.pool.QueryRow(ctx, `
		SELECT order_ref, created_at, paid_at, delivered_at, refund_count
		FROM order_metrics WHERE order_ref = $1
	`, orderRef))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("querying order metrics: %w", err)
	}
	return &agg, nil
}

// ListOrderAggregates returns stored metrics ordered by order reference.
func (s *PostgresStore) ListOrderAggregates(ctx context.Context, limit int) ([]domain.OrderAggregate, error) {
	query := `SELECT order_ref, created_at, paid_at, delivered_at, refund_count FROM order_metrics ORDER BY order_ref`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying order metrics: %w", err)
	}
	defer rows.Close()

	aggs := []domain.OrderAggregate{}
	for rows.Next() {
		agg, err := scanAggregate(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning order metrics: %w", err)
		}
		aggs = append(aggs, agg)
	}
	return aggs, rows.Err()
}

// QualityReport summarizes the raw and curated collections.
func (s *PostgresStore) QualityReport(ctx context.Context) (*domain.QualityReport, error) {
	r := domain.QualityReport{
		ByType:   map[string]int{},
		ByVendor: map[string]int{},
	}

	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM events_raw`).Scan(&r.TotalEvents)
	if err != nil {
		return nil, fmt.Errorf("counting raw events: %w", err)
	}

	err = s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) AS curated,
			COUNT(*) FILTER (WHERE order_ref IS NULL OR order_ref = '') AS unattributed,
			COUNT(*) FILTER (WHERE occurred_at IS NULL) AS ambiguous,
			COUNT(*) FILTER (WHERE occurred_at > ingested_at) AS future
		FROM events_curated
	`).Scan(&r.CuratedEvents, &r.UnattributedEvents, &r.AmbiguousTimes, &r.FutureEvents)
	if err != nil {
		return nil, fmt.Errorf("querying curated counts: %w", err)
	}

	err = s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM order_metrics`).Scan(&r.OrdersMaterialized)
	if err != nil {
		return nil, fmt.Errorf("counting order metrics: %w", err)
	}

	if err := s.countBy(ctx, "event_type", r.ByType); err != nil {
		return nil, err
	}
	if err := s.countBy(ctx, "vendor", r.ByVendor); err != nil {
		return nil, err
	}

	return &r, nil
}

// countBy fills dst with raw event counts grouped by column. column is
// always one of our own constants, never user input.
func (s *PostgresStore) countBy(ctx context.Context, column string, dst map[string]int) error {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		`SELECT %s, COUNT(*) FROM events_raw GROUP BY %s`, column, column))
	if err != nil {
		return fmt.Errorf("grouping raw events by %s: %w", column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("scanning %s count: %w", column, err)
		}
		dst[key] = n
	}
	return rows.Err()
}

func scanAggregate(row pgx.Row) (domain.OrderAggregate, error) {
	var (
		agg                      domain.OrderAggregate
		created, paid, delivered *time.Time
	)
	if err := row.Scan(&agg.OrderRef, &created, &paid, &delivered, &agg.RefundCount); err != nil {
		return agg, err
	}
	agg.CreatedAt = utcPtr(created)
	agg.PaidAt = utcPtr(paid)
	agg.DeliveredAt = utcPtr(delivered)
	return agg, nil
}
