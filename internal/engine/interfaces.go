package engine

import (
	"context"
	"time"

	"github.com/Priya8975/commerce-pulse/internal/domain"
)

type RawEventStore interface {
	InsertRawEvents(ctx context.Context, events []domain.RawEvent) ([]bool, error)
	ScanRawEvents(ctx context.Context, fn func(domain.RawEvent) error) error
}

type CuratedEventStore interface {
	UpsertCuratedEvents(ctx context.Context, events []domain.CuratedEvent) ([]bool, error)
	ListAttributedEvents(ctx context.Context) ([]domain.CuratedEvent, error)
}

type AggregateStore interface {
	UpsertOrderAggregate(ctx context.Context, agg domain.OrderAggregate) error
}

// Store is everything a pipeline run reads and writes. Both the Postgres
// and the in-memory store satisfy it.
type Store interface {
	RawEventStore
	CuratedEventStore
	AggregateStore
}

// FingerprintCache short-circuits inserts of fingerprints already known to
// be stored. It is advisory: a miss always falls through to the store.
type FingerprintCache interface {
	Seen(ctx context.Context, fingerprints []string) ([]bool, error)
	Remember(ctx context.Context, fingerprints []string) error
}

// OrderLocker serializes writers of one order key across processes.
type OrderLocker interface {
	LockOrder(ctx context.Context, orderRef string, ttl time.Duration) (string, bool, error)
	UnlockOrder(ctx context.Context, orderRef, token string) error
}

// Publisher receives every aggregate after it has been written.
type Publisher interface {
	PublishOrderUpdate(agg domain.OrderAggregate)
}
