// Package aggregate folds curated events into per-order aggregates.
//
// The fold is commutative, associative and idempotent: every field is
// chosen by an earliest/latest/distinct rule keyed on event content, never
// by iteration order, so any permutation or replay of the same event set
// yields the same aggregate.
package aggregate

import (
	"sort"
	"time"

	"github.com/Priya8975/commerce-pulse/internal/domain"
)

// StatusDelivered is the terminal shipment status.
const StatusDelivered = "DELIVERED"

// Policy tunes the fold.
type Policy struct {
	// RequireTerminalDelivery makes delivered_at consider only shipment
	// updates whose status is DELIVERED. When false any shipment update
	// counts.
	RequireTerminalDelivery bool
}

// pick tracks a candidate timestamp along with the fingerprint that produced
// it, so ties resolve the same way regardless of input order.
type pick struct {
	at          time.Time
	fingerprint string
	set         bool
}

func (p *pick) earliest(at time.Time, fp string) {
	if !p.set || at.Before(p.at) || (at.Equal(p.at) && fp < p.fingerprint) {
		*p = pick{at: at, fingerprint: fp, set: true}
	}
}

func (p *pick) latest(at time.Time, fp string) {
	if !p.set || at.After(p.at) || (at.Equal(p.at) && fp > p.fingerprint) {
		*p = pick{at: at, fingerprint: fp, set: true}
	}
}

func (p pick) value() *time.Time {
	if !p.set {
		return nil
	}
	t := p.at.UTC()
	return &t
}

// Fold computes the aggregate for orderRef from events. Events attributed to
// other orders, or to none, are ignored.
func Fold(orderRef string, events []domain.CuratedEvent, policy Policy) domain.OrderAggregate {
	var created, paid, delivered pick
	refunds := make(map[string]struct{})
	seen := make(map[string]struct{}, len(events))

	for _, ev := range events {
		if !ev.Attributed() || *ev.OrderRef != orderRef {
			continue
		}
		if _, dup := seen[ev.Fingerprint]; dup {
			continue
		}
		seen[ev.Fingerprint] = struct{}{}

		switch ev.EventType {
		case domain.EventOrderCreated:
			if ev.OccurredAt != nil {
				created.earliest(*ev.OccurredAt, ev.Fingerprint)
			}
		case domain.EventPaymentSucceeded:
			if ev.OccurredAt != nil {
				paid.latest(*ev.OccurredAt, ev.Fingerprint)
			}
		case domain.EventShipmentUpdated:
			if policy.RequireTerminalDelivery && ev.ShipmentStatus != StatusDelivered {
				continue
			}
			if ev.OccurredAt != nil {
				delivered.latest(*ev.OccurredAt, ev.Fingerprint)
			}
		case domain.EventRefundIssued:
			refunds[ev.Fingerprint] = struct{}{}
		}
	}

	return domain.OrderAggregate{
		OrderRef:    orderRef,
		CreatedAt:   created.value(),
		PaidAt:      paid.value(),
		DeliveredAt: delivered.value(),
		RefundCount: len(refunds),
	}
}

// GroupByOrder buckets attributable events by order reference. Unattributed
// events are dropped.
func GroupByOrder(events []domain.CuratedEvent) map[string][]domain.CuratedEvent {
	groups := make(map[string][]domain.CuratedEvent)
	for _, ev := range events {
		if !ev.Attributed() {
			continue
		}
		groups[*ev.OrderRef] = append(groups[*ev.OrderRef], ev)
	}
	return groups
}

// SortedRefs returns the keys of groups in lexical order.
func SortedRefs(groups map[string][]domain.CuratedEvent) []string {
	refs := make([]string, 0, len(groups))
	for ref := range groups {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	return refs
}
