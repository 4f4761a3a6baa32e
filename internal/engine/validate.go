package engine

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/Priya8975/commerce-pulse/internal/domain"
)

// Column widths of events_raw.
const (
	maxEventTypeLen = 64
	maxVendorLen    = 64
	maxSourceLen    = 32
)

// checkStorable rejects events the raw store would refuse: text with NUL
// bytes or invalid UTF-8, and names wider than their columns.
func checkStorable(ev domain.RawEvent) error {
	fields := []struct {
		name  string
		value string
		max   int
	}{
		{"event_type", string(ev.EventType), maxEventTypeLen},
		{"vendor", ev.Vendor, maxVendorLen},
		{"source", ev.Source, maxSourceLen},
		{"event_time", string(ev.EventTime), 0},
		{"ingested_at", string(ev.IngestedAt), 0},
		{"source_event_id", ev.SourceEventID, 0},
		{"event_id", ev.EventID, 0},
	}
	for _, f := range fields {
		if err := checkText(f.value); err != nil {
			return fmt.Errorf("%w: %s %v", domain.ErrUnstorableEvent, f.name, err)
		}
		if f.max > 0 && utf8.RuneCountInString(f.value) > f.max {
			return fmt.Errorf("%w: %s longer than %d characters", domain.ErrUnstorableEvent, f.name, f.max)
		}
	}

	if len(bytes.TrimSpace(ev.Payload)) == 0 {
		return nil
	}
	if !utf8.Valid(ev.Payload) {
		return fmt.Errorf("%w: payload is not valid UTF-8", domain.ErrUnstorableEvent)
	}
	dec := json.NewDecoder(bytes.NewReader(ev.Payload))
	dec.UseNumber()
	var value any
	if err := dec.Decode(&value); err != nil {
		// Left for fingerprinting to report as malformed.
		return nil
	}
	if err := checkJSONText(value); err != nil {
		return fmt.Errorf("%w: payload %v", domain.ErrUnstorableEvent, err)
	}
	return nil
}

func checkText(s string) error {
	if strings.IndexByte(s, 0) >= 0 {
		return errors.New("contains a NUL byte")
	}
	if !utf8.ValidString(s) {
		return errors.New("is not valid UTF-8")
	}
	return nil
}

// checkJSONText walks a decoded payload; JSONB cannot hold \u0000 in any
// key or string.
func checkJSONText(v any) error {
	switch t := v.(type) {
	case string:
		return checkText(t)
	case map[string]any:
		for k, child := range t {
			if err := checkText(k); err != nil {
				return fmt.Errorf("key %q %v", k, err)
			}
			if err := checkJSONText(child); err != nil {
				return err
			}
		}
	case []any:
		for _, child := range t {
			if err := checkJSONText(child); err != nil {
				return err
			}
		}
	}
	return nil
}

// labelValue makes an arbitrary vendor safe to use as a Prometheus label,
// which must be valid UTF-8.
func labelValue(s string) string {
	return strings.ToValidUTF8(s, "\uFFFD")
}
