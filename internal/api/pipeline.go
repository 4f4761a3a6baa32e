package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/Priya8975/commerce-pulse/internal/engine"
	ws "github.com/Priya8975/commerce-pulse/internal/websocket"
)

type PipelineHandler struct {
	pipeline *engine.Pipeline
	hub      *ws.Hub
	logger   *slog.Logger
}

func NewPipelineHandler(p *engine.Pipeline, hub *ws.Hub, logger *slog.Logger) *PipelineHandler {
	return &PipelineHandler{pipeline: p, hub: hub, logger: logger}
}

type runResponse struct {
	engine.RunReport
	Error string `json:"error,omitempty"`
}

// Run triggers a transform and metrics build over everything stored.
func (h *PipelineHandler) Run(w http.ResponseWriter, r *http.Request) {
	report, err := h.pipeline.Refresh(r.Context())
	if errors.Is(err, engine.ErrRunInProgress) {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	if h.hub != nil {
		h.hub.PublishRunCompleted(report)
	}
	if err != nil {
		h.logger.Error("pipeline run failed", "run_id", report.RunID, "error", err)
		respondJSON(w, http.StatusInternalServerError, runResponse{RunReport: report, Error: err.Error()})
		return
	}

	respondJSON(w, http.StatusOK, runResponse{RunReport: report})
}
