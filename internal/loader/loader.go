// Package loader reads event files from disk: the newline-delimited live
// feed and the historical bootstrap arrays.
package loader

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Priya8975/commerce-pulse/internal/domain"
)

const maxLineBytes = 4 << 20

// epochText is the event time given to bootstrap records with none.
const epochText = "1970-01-01T00:00:00"

// BootstrapFiles maps each historical export to the event type its records
// are ingested as.
var BootstrapFiles = map[string]domain.EventType{
	"orders_2023.json":    domain.EventOrderHistorical,
	"payments_2023.json":  domain.EventPaymentHistorical,
	"shipments_2023.json": domain.EventShipmentHistorical,
	"refunds_2023.json":   domain.EventRefundHistorical,
}

// LineError reports one unreadable line of a JSONL file.
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *LineError) Unwrap() error { return e.Err }

type Loader struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Loader {
	return &Loader{logger: logger}
}

// LiveFiles lists <dir>/*/events.jsonl in lexical (date) order.
func LiveFiles(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*", "events.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("listing live event files: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

// LiveEvents reads every live event file under dir. Unreadable lines are
// logged and skipped; the rest of the file still loads.
func (l *Loader) LiveEvents(dir string) ([]domain.RawEvent, error) {
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		l.logger.Warn("live events directory not found", "dir", dir)
		return nil, nil
	}

	files, err := LiveFiles(dir)
	if err != nil {
		return nil, err
	}

	var events []domain.RawEvent
	for _, path := range files {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", path, err)
		}
		batch, lineErrs, err := ReadJSONL(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		for _, le := range lineErrs {
			l.logger.Warn("skipping unreadable event line", "file", path, "line", le.Line, "error", le.Err)
		}
		l.logger.Info("loaded live events", "file", path, "events", len(batch), "skipped", len(lineErrs))
		events = append(events, batch...)
	}
	return events, nil
}

// ReadJSONL decodes one raw event per non-blank line. Lines that are not a
// JSON object are returned as LineErrors; err is set only for I/O failures.
func ReadJSONL(r io.Reader) ([]domain.RawEvent, []*LineError, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	var (
		events   []domain.RawEvent
		lineErrs []*LineError
		line     int
	)
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		var ev domain.RawEvent
		if err := json.Unmarshal(text, &ev); err != nil {
			lineErrs = append(lineErrs, &LineError{Line: line, Err: err})
			continue
		}
		if ev.Source == "" {
			ev.Source = domain.SourceLive
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return events, lineErrs, err
	}
	return events, lineErrs, nil
}

// Bootstrap reads every known historical export present in dir. Missing
// files are skipped.
func (l *Loader) Bootstrap(dir string) ([]domain.RawEvent, error) {
	names := make([]string, 0, len(BootstrapFiles))
	for name := range BootstrapFiles {
		names = append(names, name)
	}
	sort.Strings(names)

	var events []domain.RawEvent
	for _, name := range names {
		path := filepath.Join(dir, name)
		f, err := os.Open(path)
		if errors.Is(err, fs.ErrNotExist) {
			l.logger.Info("bootstrap file not present", "file", path)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", path, err)
		}
		batch, err := ReadBootstrap(f, BootstrapFiles[name])
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		l.logger.Info("loaded bootstrap records", "file", path, "events", len(batch))
		events = append(events, batch...)
	}
	return events, nil
}

// ReadBootstrap turns a JSON array of historical records into raw events of
// the given type. The record itself is the payload; its event time comes
// from created_at, then timestamp, then the Unix epoch, and its vendor
// defaults to "unknown".
func ReadBootstrap(r io.Reader, eventType domain.EventType) ([]domain.RawEvent, error) {
	var records []json.RawMessage
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, fmt.Errorf("decoding bootstrap array: %w", err)
	}

	events := make([]domain.RawEvent, 0, len(records))
	for i, rec := range records {
		fields := map[string]json.RawMessage{}
		if err := json.Unmarshal(rec, &fields); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}

		eventTime := domain.RawTime(epochText)
		for _, key := range []string{"created_at", "timestamp"} {
			if t, ok := present(fields[key]); ok {
				eventTime = t
				break
			}
		}

		vendor := "unknown"
		if v, ok := fields["vendor"]; ok {
			var s string
			if err := json.Unmarshal(v, &s); err == nil && s != "" {
				vendor = s
			}
		}

		events = append(events, domain.RawEvent{
			EventType: eventType,
			EventTime: eventTime,
			Vendor:    vendor,
			Payload:   rec,
			Source:    domain.SourceBootstrap,
		})
	}
	return events, nil
}

// present decodes a time field, treating absent, null, empty and zero
// values as missing.
func present(raw json.RawMessage) (domain.RawTime, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var t domain.RawTime
	if err := json.Unmarshal(raw, &t); err != nil {
		return "", false
	}
	s := strings.TrimSpace(string(t))
	if s == "" || s == "0" {
		return "", false
	}
	return t, true
}
