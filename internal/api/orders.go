package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type OrderHandler struct {
	store Store
}

func NewOrderHandler(s Store) *OrderHandler {
	return &OrderHandler{store: s}
}

func (h *OrderHandler) List(w http.ResponseWriter, r *http.Request) {
	orders, err := h.store.ListOrderAggregates(r.Context(), queryLimit(r, 100, 5000))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list orders")
		return
	}

	respondJSON(w, http.StatusOK, orders)
}

func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")

	agg, err := h.store.GetOrderAggregate(r.Context(), ref)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get order")
		return
	}
	if agg == nil {
		respondError(w, http.StatusNotFound, "order not found")
		return
	}

	respondJSON(w, http.StatusOK, agg)
}
