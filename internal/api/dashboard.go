package api

import (
	"net/http"

	"github.com/Priya8975/commerce-pulse/internal/domain"
	ws "github.com/Priya8975/commerce-pulse/internal/websocket"
)

type DashboardHandler struct {
	store Store
	hub   *ws.Hub
}

func NewDashboardHandler(s Store, hub *ws.Hub) *DashboardHandler {
	return &DashboardHandler{store: s, hub: hub}
}

// Quality returns the data-quality report for the dashboard.
func (h *DashboardHandler) Quality(w http.ResponseWriter, r *http.Request) {
	report, err := h.store.QualityReport(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to build quality report")
		return
	}

	type qualityResponse struct {
		domain.QualityReport
		WebSocketClients int `json:"websocket_clients"`
	}

	clients := 0
	if h.hub != nil {
		clients = h.hub.ClientCount()
	}
	respondJSON(w, http.StatusOK, qualityResponse{
		QualityReport:    *report,
		WebSocketClients: clients,
	})
}
