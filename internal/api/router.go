// Package api serves the HTTP surface: batch ingestion, read access to raw
// events and order aggregates, pipeline runs and operational endpoints.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Priya8975/commerce-pulse/internal/domain"
	"github.com/Priya8975/commerce-pulse/internal/engine"
	"github.com/Priya8975/commerce-pulse/internal/metrics"
	ws "github.com/Priya8975/commerce-pulse/internal/websocket"
)

// Store is the read side the handlers need.
type Store interface {
	Ping(ctx context.Context) error
	GetRawEvent(ctx context.Context, id string) (*domain.RawEvent, error)
	ListRawEvents(ctx context.Context, eventType string, limit int) ([]domain.RawEvent, error)
	GetOrderAggregate(ctx context.Context, orderRef string) (*domain.OrderAggregate, error)
	ListOrderAggregates(ctx context.Context, limit int) ([]domain.OrderAggregate, error)
	QualityReport(ctx context.Context) (*domain.QualityReport, error)
}

// Deps carries everything NewRouter wires. Limiter and Checks are optional.
type Deps struct {
	Store       Store
	Pipeline    *engine.Pipeline
	Limiter     *engine.RateLimiter
	IngestLimit int
	Hub         *ws.Hub
	Metrics     *metrics.Metrics
	Checks      map[string]Pinger
	Logger      *slog.Logger
}

// NewRouter creates and configures the HTTP router.
func NewRouter(d Deps) http.Handler {
	if d.Metrics == nil {
		d.Metrics = metrics.New()
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}

	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))
	r.Use(instrument(d.Metrics))

	// CORS for dashboard
	r.Use(corsMiddleware)

	eventHandler := NewEventHandler(d.Store, d.Pipeline, d.Limiter, d.IngestLimit, d.Logger)
	orderHandler := NewOrderHandler(d.Store)
	pipelineHandler := NewPipelineHandler(d.Pipeline, d.Hub, d.Logger)
	dashHandler := NewDashboardHandler(d.Store, d.Hub)

	checks := map[string]Pinger{"store": d.Store}
	for name, p := range d.Checks {
		checks[name] = p
	}

	r.Handle("/metrics", d.Metrics.Handler())
	if d.Hub != nil {
		r.Get("/ws", d.Hub.HandleWebSocket)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", HealthHandler(checks))

		r.Route("/events", func(r chi.Router) {
			r.Post("/", eventHandler.Create)
			r.Get("/", eventHandler.List)
			r.Get("/{id}", eventHandler.Get)
		})

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", orderHandler.List)
			r.Get("/{ref}", orderHandler.Get)
		})

		r.Post("/pipeline/run", pipelineHandler.Run)
		r.Get("/quality", dashHandler.Quality)
	})

	return r
}

// instrument counts requests by matched route pattern so path parameters
// do not explode label cardinality.
func instrument(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			m.HTTPRequests.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
		})
	}
}

// corsMiddleware adds CORS headers for dashboard development.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
