package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type EventType string

const (
	EventOrderCreated     EventType = "order_created"
	EventPaymentSucceeded EventType = "payment_succeeded"
	EventRefundIssued     EventType = "refund_issued"
	EventShipmentUpdated  EventType = "shipment_updated"
	EventOrderUpdated     EventType = "order_updated"

	// Historical bootstrap files carry their own event types.
	EventOrderHistorical    EventType = "order_historical"
	EventPaymentHistorical  EventType = "payment_historical"
	EventShipmentHistorical EventType = "shipment_historical"
	EventRefundHistorical   EventType = "refund_historical"
)

// RawTime is a timestamp exactly as a vendor sent it. JSON strings are kept
// verbatim and JSON numbers (Unix epochs) are kept as their literal text.
// Any other JSON value (bool, object, array) is kept as its compact JSON
// text so the event survives and is later treated as an ambiguous time.
type RawTime string

func (t *RawTime) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "" || s == "null" {
		*t = ""
		return nil
	}
	if s[0] == '"' {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return fmt.Errorf("decoding time string: %w", err)
		}
		*t = RawTime(str)
		return nil
	}
	switch s[0] {
	case '{', '[', 't', 'f':
		var buf bytes.Buffer
		if err := json.Compact(&buf, []byte(s)); err != nil {
			return fmt.Errorf("decoding time value: %w", err)
		}
		*t = RawTime(buf.String())
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("decoding time value %s: %w", s, err)
	}
	*t = RawTime(n.String())
	return nil
}

// RawEvent is a vendor event as received, before normalization.
type RawEvent struct {
	EventID       string          `json:"event_id"`
	SourceEventID string          `json:"source_event_id,omitempty"`
	EventType     EventType       `json:"event_type"`
	EventTime     RawTime         `json:"event_time"`
	Vendor        string          `json:"vendor"`
	Payload       json.RawMessage `json:"payload"`
	IngestedAt    RawTime         `json:"ingested_at,omitempty"`
	Source        string          `json:"source,omitempty"`
}

// CuratedEvent is a raw event after order-reference normalization. OrderRef
// is nil when no reference could be extracted.
type CuratedEvent struct {
	Fingerprint    string     `json:"event_id"`
	EventType      EventType  `json:"event_type"`
	Vendor         string     `json:"vendor"`
	EventTime      string     `json:"event_time"`
	OccurredAt     *time.Time `json:"occurred_at,omitempty"`
	OrderRef       *string    `json:"order_ref"`
	ShipmentStatus string     `json:"shipment_status,omitempty"`
	IngestedAt     *time.Time `json:"ingested_at,omitempty"`
}

// Attributed reports whether the event could be tied to an order.
func (e CuratedEvent) Attributed() bool {
	return e.OrderRef != nil && *e.OrderRef != ""
}

// Ingestion sources recorded alongside raw events.
const (
	SourceLive      = "live"
	SourceBootstrap = "historical_bootstrap"
	SourceAPI       = "api"
)
