package identity

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// CanonicalLayout is the single textual form every recognized event time is
// rendered to before hashing: UTC, no zone suffix, fractional seconds only
// when present.
const CanonicalLayout = "2006-01-02T15:04:05.999999999"

// Epoch values above this magnitude are taken to be milliseconds.
const millisecondThreshold = 1e11

// Epochs must land between 0001-01-01T00:00:00Z and 9999-12-31T23:59:59.999Z.
// Anything outside cannot be rendered canonically and is ambiguous.
const (
	minEpochSeconds = -62135596800
	maxEpochSeconds = 253402300799
	minEpochMillis  = minEpochSeconds * 1000
	maxEpochMillis  = maxEpochSeconds*1000 + 999
)

var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006/01/02 15:04:05",
	"2006/01/02 15:04",
	"2006-01-02",
}

// ParseEventTime parses an ISO-8601 style string or a numeric Unix epoch.
// Values matching neither are ambiguous and reported as not ok.
func ParseEventTime(raw string) (time.Time, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, false
	}

	if f, err := strconv.ParseFloat(s, 64); err == nil {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return time.Time{}, false
		}
		return fromEpoch(f)
	}

	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// CanonicalEventTime renders raw in CanonicalLayout. Ambiguous values are
// returned trimmed but otherwise untouched so hashing stays deterministic.
func CanonicalEventTime(raw string) string {
	t, ok := ParseEventTime(raw)
	if !ok {
		return strings.TrimSpace(raw)
	}
	return FormatCanonical(t)
}

// FormatCanonical renders t in CanonicalLayout.
func FormatCanonical(t time.Time) string {
	return t.UTC().Format(CanonicalLayout)
}

func fromEpoch(f float64) (time.Time, bool) {
	if math.Abs(f) > millisecondThreshold {
		ms := math.Round(f)
		if ms < minEpochMillis || ms > maxEpochMillis {
			return time.Time{}, false
		}
		return time.UnixMilli(int64(ms)).UTC(), true
	}
	sec := math.Floor(f)
	if sec < minEpochSeconds || sec > maxEpochSeconds {
		return time.Time{}, false
	}
	nsec := math.Round((f - sec) * 1e9)
	return time.Unix(int64(sec), int64(nsec)).UTC(), true
}
