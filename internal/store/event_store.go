package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Priya8975/commerce-pulse/internal/domain"
)

// InsertRawEvents inserts every event whose fingerprint is not yet stored.
// The batch runs in one transaction; the returned flags report, per event,
// whether this call stored it.
func (s *PostgresStore) InsertRawEvents(ctx context.Context, events []domain.RawEvent) ([]bool, error) {
	if len(events) == 0 {
		return nil, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, ev := range events {
		batch.Queue(`
			INSERT INTO events_raw (event_id, source_event_id, event_type, event_time, vendor, payload, ingested_at, source)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (event_id) DO NOTHING
		`, ev.EventID, nullString(ev.SourceEventID), string(ev.EventType), string(ev.EventTime),
			ev.Vendor, nullJSON(ev.Payload), nullString(string(ev.IngestedAt)), sourceOrDefault(ev.Source))
	}

	inserted, err := execBatch(tx.SendBatch(ctx, batch), len(events))
	if err != nil {
		return nil, fmt.Errorf("inserting raw events: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}
	return inserted, nil
}

// ScanRawEvents calls fn for every stored raw event in fingerprint order.
func (s *PostgresStore) ScanRawEvents(ctx context.Context, fn func(domain.RawEvent) error) error {
	rows, err := s.pool.Query(ctx, `
		SELECT event_id, source_event_id, event_type, event_time, vendor, payload, ingested_at, source
		FROM events_raw ORDER BY event_id
	`)
	if err != nil {
		return fmt.Errorf("querying raw events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		ev, err := scanRawEvent(rows)
		if err != nil {
			return err
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
	return rows.Err()
}

// GetRawEvent returns a single raw event by fingerprint.
func (s *PostgresStore) GetRawEvent(ctx context.Context, id string) (*domain.RawEvent, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT event_id, source_event_id, event_type, event_time, vendor, payload, ingested_at, source
		FROM events_raw WHERE event_id = $1
	`, id)
	ev, err := scanRawEvent(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &ev, nil
}

// ListRawEvents returns the most recently stored raw events.
func (s *PostgresStore) ListRawEvents(ctx context.Context, eventType string, limit int) ([]domain.RawEvent, error) {
	query := `SELECT event_id, source_event_id, event_type, event_time, vendor, payload, ingested_at, source FROM events_raw`
	args := []interface{}{}
	argIdx := 1

	if eventType != "" {
		query += fmt.Sprintf(" WHERE event_type = $%d", argIdx)
		args = append(args, eventType)
		argIdx++
	}

	query += " ORDER BY stored_at DESC, event_id"

	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying raw events: %w", err)
	}
	defer rows.Close()

	events := []domain.RawEvent{}
	for rows.Next() {
		ev, err := scanRawEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// UpsertCuratedEvents writes curated events, replacing every column of rows
// that already exist so a wider normalizer can re-attribute old events.
// Rows whose columns are unchanged are left untouched. The returned flags
// mark rows that did not exist before.
func (s *PostgresStore) UpsertCuratedEvents(ctx context.Context, events []domain.CuratedEvent) ([]bool, error) {
	if len(events) == 0 {
		return nil, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, ev := range events {
		batch.Queue(`
			INSERT INTO events_curated (event_id, event_type, vendor, event_time, occurred_at, order_ref, shipment_status, ingested_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (event_id) DO UPDATE SET
				event_type      = EXCLUDED.event_type,
				vendor          = EXCLUDED.vendor,
				event_time      = EXCLUDED.event_time,
				occurred_at     = EXCLUDED.occurred_at,
				order_ref       = EXCLUDED.order_ref,
				shipment_status = EXCLUDED.shipment_status,
				ingested_at     = EXCLUDED.ingested_at
			WHERE (events_curated.event_type, events_curated.vendor, events_curated.event_time,
				events_curated.occurred_at, events_curated.order_ref, events_curated.shipment_status,
				events_curated.ingested_at)
			IS DISTINCT FROM (EXCLUDED.event_type, EXCLUDED.vendor, EXCLUDED.event_time,
				EXCLUDED.occurred_at, EXCLUDED.order_ref, EXCLUDED.shipment_status,
				EXCLUDED.ingested_at)
			RETURNING (xmax = 0) AS inserted
		`, ev.Fingerprint, string(ev.EventType), ev.Vendor, ev.EventTime, ev.OccurredAt,
			ev.OrderRef, nullString(ev.ShipmentStatus), ev.IngestedAt)
	}

	created, err := upsertBatch(tx.SendBatch(ctx, batch), len(events))
	if err != nil {
		return nil, fmt.Errorf("upserting curated events: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}
	return created, nil
}

// ListAttributedEvents returns every curated event that carries an order reference.
func (s *PostgresStore) ListAttributedEvents(ctx context.Context) ([]domain.CuratedEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT event_id, event_type, vendor, event_time, occurred_at, order_ref, shipment_status, ingested_at
		FROM events_curated
		WHERE order_ref IS NOT NULL AND order_ref <> ''
		ORDER BY order_ref, event_id
	`)
	if err != nil {
		return nil, fmt.Errorf("querying curated events: %w", err)
	}
	defer rows.Close()

	events := []domain.CuratedEvent{}
	for rows.Next() {
		var (
			ev        domain.CuratedEvent
			eventType string
			status    *string
			occurred  *time.Time
			ingested  *time.Time
		)
		err := rows.Scan(&ev.Fingerprint, &eventType, &ev.Vendor, &ev.EventTime,
			&occurred, &ev.OrderRef, &status, &ingested)
		if err != nil {
			return nil, fmt.Errorf("scanning curated event: %w", err)
		}
		ev.EventType = domain.EventType(eventType)
		if status != nil {
			ev.ShipmentStatus = *status
		}
		ev.OccurredAt = utcPtr(occurred)
		ev.IngestedAt = utcPtr(ingested)
		events = append(events, ev)
	}
	return events, rows.Err()
}

func scanRawEvent(row pgx.Row) (domain.RawEvent, error) {
	var (
		ev            domain.RawEvent
		sourceEventID *string
		eventType     string
		eventTime     string
		payload       []byte
		ingestedAt    *string
	)
	err := row.Scan(&ev.EventID, &sourceEventID, &eventType, &eventTime,
		&ev.Vendor, &payload, &ingestedAt, &ev.Source)
	if err != nil {
		if err == pgx.ErrNoRows {
			return ev, err
		}
		return ev, fmt.Errorf("scanning raw event: %w", err)
	}

	ev.EventType = domain.EventType(eventType)
	ev.EventTime = domain.RawTime(eventTime)
	if sourceEventID != nil {
		ev.SourceEventID = *sourceEventID
	}
	if ingestedAt != nil {
		ev.IngestedAt = domain.RawTime(*ingestedAt)
	}
	if payload != nil {
		ev.Payload = json.RawMessage(payload)
	}
	return ev, nil
}

func execBatch(br pgx.BatchResults, n int) ([]bool, error) {
	inserted := make([]bool, n)
	for i := 0; i < n; i++ {
		tag, err := br.Exec()
		if err != nil {
			br.Close()
			return nil, err
		}
		inserted[i] = tag.RowsAffected() == 1
	}
	return inserted, br.Close()
}

// upsertBatch reads one RETURNING (xmax = 0) row per queued upsert. A row
// skipped by the DO UPDATE ... WHERE guard returns nothing and counts as
// existing.
func upsertBatch(br pgx.BatchResults, n int) ([]bool, error) {
	created := make([]bool, n)
	for i := 0; i < n; i++ {
		err := br.QueryRow().Scan(&created[i])
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			br.Close()
			return nil, err
		}
	}
	return created, br.Close()
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullJSON(b json.RawMessage) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func sourceOrDefault(s string) string {
	if s == "" {
		return domain.SourceLive
	}
	return s
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
