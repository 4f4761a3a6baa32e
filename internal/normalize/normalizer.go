// Package normalize maps vendor-specific payload shapes onto canonical
// curated events.
package normalize

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/Priya8975/commerce-pulse/internal/domain"
	"github.com/Priya8975/commerce-pulse/internal/identity"
)

var defaultStatusKeys = []string{"status", "shipment_status", "shipmentStatus", "state"}

// Normalizer tries its matchers in order and returns the first match.
type Normalizer struct {
	matchers   []Matcher
	statusKeys []string
}

// New builds a normalizer. With no matchers it uses DefaultMatchers.
func New(matchers ...Matcher) *Normalizer {
	if len(matchers) == 0 {
		matchers = DefaultMatchers()
	}
	return &Normalizer{matchers: matchers, statusKeys: defaultStatusKeys}
}

// With returns a normalizer that tries extra after the existing matchers.
func (n *Normalizer) With(extra ...Matcher) *Normalizer {
	ms := make([]Matcher, 0, len(n.matchers)+len(extra))
	ms = append(ms, n.matchers...)
	ms = append(ms, extra...)
	return &Normalizer{matchers: ms, statusKeys: n.statusKeys}
}

// Matchers returns the matcher chain in priority order.
func (n *Normalizer) Matchers() []Matcher {
	return append([]Matcher(nil), n.matchers...)
}

// ExtractOrderRef returns the canonical order reference carried by payload.
func (n *Normalizer) ExtractOrderRef(payload json.RawMessage) (string, bool) {
	return n.extract(DecodePayload(payload))
}

func (n *Normalizer) extract(data map[string]any) (string, bool) {
	if len(data) == 0 {
		return "", false
	}
	for _, m := range n.matchers {
		if ref, ok := m.Match(data); ok {
			return ref, true
		}
	}
	return "", false
}

// ExtractShipmentStatus returns the upper-cased shipment status, if any.
func (n *Normalizer) ExtractShipmentStatus(payload json.RawMessage) string {
	return n.shipmentStatus(DecodePayload(payload))
}

func (n *Normalizer) shipmentStatus(data map[string]any) string {
	for _, k := range n.statusKeys {
		if s, ok := data[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.ToUpper(strings.TrimSpace(s))
		}
	}
	return ""
}

// Normalize converts a stored raw event into its curated form. The raw
// event's EventID must already hold its fingerprint.
func (n *Normalizer) Normalize(ev domain.RawEvent) domain.CuratedEvent {
	data := DecodePayload(ev.Payload)

	curated := domain.CuratedEvent{
		Fingerprint: ev.EventID,
		EventType:   ev.EventType,
		Vendor:      ev.Vendor,
		EventTime:   identity.CanonicalEventTime(string(ev.EventTime)),
	}

	// Postgres TIMESTAMPTZ keeps microseconds; every store sees the same value.
	if t, ok := identity.ParseEventTime(string(ev.EventTime)); ok {
		t = t.Truncate(time.Microsecond)
		curated.OccurredAt = &t
	}
	if t, ok := identity.ParseEventTime(string(ev.IngestedAt)); ok {
		t = t.Truncate(time.Microsecond)
		curated.IngestedAt = &t
	}
	if ref, ok := n.extract(data); ok {
		curated.OrderRef = &ref
	}
	if ev.EventType == domain.EventShipmentUpdated {
		curated.ShipmentStatus = n.shipmentStatus(data)
	}

	return curated
}
