package store

import (
	"context"
	"sort"
	"sync"

	"github.com/Priya8975/commerce-pulse/internal/domain"
)

// insert-if-absent, upsert and full-replace contracts as PostgresStore and backs
// insert-if-absent and full-replace contracts as PostgresStore and backs
// local pipeline runs without a database.
type MemoryStore struct {
	mu       sync.RWMutex
	raw      map[string]domain.RawEvent
	rawOrder []string
	curated  map[string]domain.CuratedEvent
	metrics  map[string]domain.OrderAggregate
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		raw:     make(map[string]domain.RawEvent),
		curated: make(map[string]domain.CuratedEvent),
		metrics: make(map[string]domain.OrderAggregate),
	}
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *MemoryStore) InsertRawEvents(ctx context.Context, events []domain.RawEvent) ([]bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	inserted := make([]bool, len(events))
	for i, ev := range events {
		if _, ok := s.raw[ev.EventID]; ok {
			continue
		}
		ev.Source = sourceOrDefault(ev.Source)
		s.raw[ev.EventID] = ev
		s.rawOrder = append(s.rawOrder, ev.EventID)
		inserted[i] = true
	}
	return inserted, nil
}

func (s *MemoryStore) ScanRawEvents(ctx context.Context, fn func(domain.RawEvent) error) error {
	s.mu.RLock()
	ids := make([]string, 0, len(s.raw))
	for id := range s.raw {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	events := make([]domain.RawEvent, 0, len(ids))
	for _, id := range ids {
		events = append(events, s.raw[id])
	}
	s.mu.RUnlock()

	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryStore) GetRawEvent(ctx context.Context, id string) (*domain.RawEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.raw[id]
	if !ok {
		return nil, nil
	}
	return &ev, nil
}

func (s *MemoryStore) ListRawEvents(ctx context.Context, eventType string, limit int) ([]domain.RawEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := []domain.RawEvent{}
	for i := len(s.rawOrder) - 1; i >= 0; i-- {
		ev := s.raw[s.rawOrder[i]]
		if eventType != "" && string(ev.EventType) != eventType {
			continue
		}
		events = append(events, ev)
		if limit > 0 && len(events) == limit {
			break
		}
	}
	return events, nil
}

// UpsertCuratedEvents replaces stored curated events wholesale and flags the
// ones that were not present before.
func (s *MemoryStore) UpsertCuratedEvents(ctx context.Context, events []domain.CuratedEvent) ([]bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	created := make([]bool, len(events))
	for i, ev := range events {
		_, exists := s.curated[ev.Fingerprint]
		s.curated[ev.Fingerprint] = ev
		created[i] = !exists
	}
	return created, nil
}

func (s *MemoryStore) ListAttributedEvents(ctx context.Context) ([]domain.CuratedEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := []domain.CuratedEvent{}
	for _, ev := range s.curated {
		if ev.Attributed() {
			events = append(events, ev)
		}
	}
	sort.Slice(events, func(i, j int) bool {
		if *events[i].OrderRef != *events[j].OrderRef {
			return *events[i].OrderRef < *events[j].OrderRef
		}
		return events[i].Fingerprint < events[j].Fingerprint
	})
	return events, nil
}

func (s *MemoryStore) UpsertOrderAggregate(ctx context.Context, agg domain.OrderAggregate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics[agg.OrderRef] = agg
	return nil
}

func (s *MemoryStore) GetOrderAggregate(ctx context.Context, orderRef string) (*domain.OrderAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	agg, ok := s.metrics[orderRef]
	if !ok {
		return nil, nil
	}
	return &agg, nil
}

func (s *MemoryStore) ListOrderAggregates(ctx context.Context, limit int) ([]domain.OrderAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	refs := make([]string, 0, len(s.metrics))
	for ref := range s.metrics {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	if limit > 0 && len(refs) > limit {
		refs = refs[:limit]
	}

	aggs := make([]domain.OrderAggregate, 0, len(refs))
	for _, ref := range refs {
		aggs = append(aggs, s.metrics[ref])
	}
	return aggs, nil
}

func (s *MemoryStore) QualityReport(ctx context.Context) (*domain.QualityReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r := domain.QualityReport{
		TotalEvents:        len(s.raw),
		CuratedEvents:      len(s.curated),
		OrdersMaterialized: len(s.metrics),
		ByType:             map[string]int{},
		ByVendor:           map[string]int{},
	}
	for _, ev := range s.raw {
		r.ByType[string(ev.EventType)]++
		r.ByVendor[ev.Vendor]++
	}
	for _, ev := range s.curated {
		if !ev.Attributed() {
			r.UnattributedEvents++
		}
		if ev.OccurredAt == nil {
			r.AmbiguousTimes++
		} else if ev.IngestedAt != nil && ev.OccurredAt.After(*ev.IngestedAt) {
			r.FutureEvents++
		}
	}
	return &r, nil
}
