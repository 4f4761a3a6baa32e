package normalize

import (
	"bytes"
	"encoding/json"
)

// DecodePayload turns a vendor payload into a map. Objects decode directly,
// JSON strings holding an encoded object are parsed once more, and anything
// else (arrays, scalars, null, invalid JSON) yields an empty map.
func DecodePayload(raw json.RawMessage) map[string]any {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return map[string]any{}
	}

	switch trimmed[0] {
	case '{':
		if m, ok := decodeObject(trimmed); ok {
			return m
		}
	case '"':
		var inner string
		if err := json.Unmarshal(trimmed, &inner); err != nil {
			return map[string]any{}
		}
		inner2 := bytes.TrimSpace([]byte(inner))
		if len(inner2) > 0 && inner2[0] == '{' {
			if m, ok := decodeObject(inner2); ok {
				return m
			}
		}
	}
	return map[string]any{}
}

func decodeObject(b []byte) (map[string]any, bool) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil || m == nil {
		return nil, false
	}
	return m, true
}
