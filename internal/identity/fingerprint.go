// Package identity derives deterministic, content-addressed fingerprints for
// raw events. Re-ingesting the same logical event always yields the same
// fingerprint, which is the dedup key for storage.
package identity

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Priya8975/commerce-pulse/internal/domain"
)

const delimiter = "|"

// Fingerprint hashes event_type, the canonical event time, vendor and the
// canonical payload with SHA-256. It fails only with domain.ErrMalformedPayload.
func Fingerprint(eventType domain.EventType, eventTime domain.RawTime, vendor string, payload any) (string, error) {
	canonical, err := CanonicalPayload(payload)
	if err != nil {
		return "", err
	}

	raw := strings.Join([]string{
		string(eventType),
		CanonicalEventTime(string(eventTime)),
		vendor,
		string(canonical),
	}, delimiter)

	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:]), nil
}

// ForEvent fingerprints a raw event.
func ForEvent(ev domain.RawEvent) (string, error) {
	return Fingerprint(ev.EventType, ev.EventTime, ev.Vendor, ev.Payload)
}

// CanonicalPayload serializes payload with sorted object keys and no
// insignificant whitespace. Numbers keep their literal text. Objects that
// repeat a key are rejected: sorting would otherwise silently keep only the
// last value and two different payloads would share a fingerprint.
func CanonicalPayload(payload any) ([]byte, error) {
	var encoded []byte
	switch p := payload.(type) {
	case nil:
		encoded = []byte("null")
	case json.RawMessage:
		encoded = p
	case []byte:
		encoded = p
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
		}
		encoded = b
	}

	if len(bytes.TrimSpace(encoded)) == 0 {
		encoded = []byte("null")
	}

	dec := json.NewDecoder(bytes.NewReader(encoded))
	dec.UseNumber()
	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after payload", domain.ErrMalformedPayload)
	}
	if err := rejectRepeatedKeys(json.NewDecoder(bytes.NewReader(encoded))); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(value); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// rejectRepeatedKeys walks the next JSON value from dec and fails if any
// object in it names the same key twice.
func rejectRepeatedKeys(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	delim, ok := tok.(json.Delim)
	if !ok {
		return nil
	}

	switch delim {
	case '{':
		seen := make(map[string]struct{})
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return err
			}
			key, _ := keyTok.(string)
			if _, dup := seen[key]; dup {
				return fmt.Errorf("repeated key %q", key)
			}
			seen[key] = struct{}{}
			if err := rejectRepeatedKeys(dec); err != nil {
				return err
			}
		}
	case '[':
		for dec.More() {
			if err := rejectRepeatedKeys(dec); err != nil {
				return err
			}
		}
	}
	_, err = dec.Token()
	return err
}
