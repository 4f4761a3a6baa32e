package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Priya8975/commerce-pulse/internal/domain"
	"github.com/Priya8975/commerce-pulse/internal/engine"
)

const (
	maxBatchSize = 1000
	maxBodyBytes = 10 << 20
)

type EventHandler struct {
	store    Store
	pipeline *engine.Pipeline
	limiter  *engine.RateLimiter
	limit    int
	logger   *slog.Logger
}

func NewEventHandler(s Store, p *engine.Pipeline, rl *engine.RateLimiter, limit int, logger *slog.Logger) *EventHandler {
	return &EventHandler{store: s, pipeline: p, limiter: rl, limit: limit, logger: logger}
}

// Create ingests a JSON array of raw events, or a single event object.
// The optional ?source= names the feed for rate limiting and provenance.
func (h *EventHandler) Create(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	events, err := decodeBatch(body)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(events) == 0 {
		respondError(w, http.StatusBadRequest, "at least one event is required")
		return
	}
	if len(events) > maxBatchSize {
		respondError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("batch exceeds %d events", maxBatchSize))
		return
	}

	source := r.URL.Query().Get("source")
	if source == "" {
		source = domain.SourceAPI
	}
	for i := range events {
		if events[i].EventType == "" {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("event %d: event_type is required", i))
			return
		}
		if events[i].Vendor == "" {
			events[i].Vendor = "unknown"
		}
		if events[i].Source == "" {
			events[i].Source = source
		}
	}

	if h.limiter != nil && !h.limiter.AllowN(r.Context(), source, len(events), h.limit) {
		w.Header().Set("Retry-After", "1")
		respondError(w, http.StatusTooManyRequests, "ingest rate limit exceeded")
		return
	}

	result, err := h.pipeline.Ingest(r.Context(), events)
	if err != nil {
		h.logger.Error("ingest failed", "error", err, "source", source, "events", len(events))
		respondError(w, http.StatusServiceUnavailable, "failed to store events")
		return
	}

	status := http.StatusAccepted
	if result.Inserted > 0 {
		status = http.StatusCreated
	}
	respondJSON(w, status, result)
}

func decodeBatch(body io.Reader) ([]domain.RawEvent, error) {
	var raw json.RawMessage
	if err := json.NewDecoder(body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("invalid request body")
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var ev domain.RawEvent
		if err := json.Unmarshal(trimmed, &ev); err != nil {
			return nil, fmt.Errorf("invalid event: %v", err)
		}
		return []domain.RawEvent{ev}, nil
	}

	var events []domain.RawEvent
	if err := json.Unmarshal(trimmed, &events); err != nil {
		return nil, fmt.Errorf("invalid event batch: %v", err)
	}
	return events, nil
}

func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	eventType := r.URL.Query().Get("event_type")
	limit := queryLimit(r, 50, 1000)

	events, err := h.store.ListRawEvents(r.Context(), eventType, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list events")
		return
	}

	respondJSON(w, http.StatusOK, events)
}

func (h *EventHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	event, err := h.store.GetRawEvent(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get event")
		return
	}
	if event == nil {
		respondError(w, http.StatusNotFound, "event not found")
		return
	}

	respondJSON(w, http.StatusOK, event)
}
