package normalize

import (
	"encoding/json"
	"strings"
)

// Matcher recognizes one payload shape that can carry an order reference.
// Match returns the reference and true, or false when the shape is absent.
type Matcher interface {
	Name() string
	Match(payload map[string]any) (string, bool)
}

// FlatKey matches a top-level field holding the reference directly,
// e.g. {"orderRef": "ORD-1"} or {"order_id": "ORD-1"}.
type FlatKey struct {
	Keys []string
}

func (m FlatKey) Name() string { return "flat_key" }

func (m FlatKey) Match(payload map[string]any) (string, bool) {
	for _, k := range m.Keys {
		if ref, ok := refValue(payload[k]); ok {
			return ref, true
		}
	}
	return "", false
}

// NestedObject matches an object field whose id member is the reference,
// e.g. {"order": {"id": "ORD-1"}}.
type NestedObject struct {
	Fields []string
	IDKeys []string
}

func (m NestedObject) Name() string { return "nested_object" }

func (m NestedObject) Match(payload map[string]any) (string, bool) {
	for _, f := range m.Fields {
		obj, ok := payload[f].(map[string]any)
		if !ok {
			continue
		}
		for _, k := range m.IDKeys {
			if ref, ok := refValue(obj[k]); ok {
				return ref, true
			}
		}
	}
	return "", false
}

// NestedString matches a field that would normally be an object but holds
// the bare reference instead, e.g. {"order": "ORD-1"}.
type NestedString struct {
	Fields []string
}

func (m NestedString) Name() string { return "nested_string" }

func (m NestedString) Match(payload map[string]any) (string, bool) {
	for _, f := range m.Fields {
		if s, ok := payload[f].(string); ok {
			if ref := strings.TrimSpace(s); ref != "" {
				return ref, true
			}
		}
	}
	return "", false
}

// refValue accepts non-empty strings and JSON numbers.
func refValue(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		s := strings.TrimSpace(x)
		return s, s != ""
	case json.Number:
		return x.String(), true
	case float64:
		b, err := json.Marshal(x)
		if err != nil {
			return "", false
		}
		return string(b), true
	}
	return "", false
}

// DefaultMatchers covers the three vendor families and their drifted keys,
// in priority order.
func DefaultMatchers() []Matcher {
	return []Matcher{
		FlatKey{Keys: []string{"orderRef", "order_ref", "order_id", "orderId", "orderID", "orderReference", "order_reference"}},
		NestedObject{Fields: []string{"order", "order_info", "orderInfo"}, IDKeys: []string{"id", "order_id", "ref"}},
		NestedString{Fields: []string{"order", "order_info"}},
	}
}
