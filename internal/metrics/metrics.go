// Package metrics exposes pipeline counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Ingest outcomes used as the "result" label.
const (
	ResultInserted  = "inserted"
	ResultDuplicate = "duplicate"
	ResultRejected  = "rejected"
)

// Metrics owns its registry so several instances can coexist in tests.
type Metrics struct {
	registry *prometheus.Registry

	EventsIngested      *prometheus.CounterVec
	EventsUnattributed  *prometheus.CounterVec
	OrdersMaterialized  prometheus.Counter
	MaterializeFailures prometheus.Counter
	StoreRetries        *prometheus.CounterVec
	RowsFailed          *prometheus.CounterVec
	StageDuration       *prometheus.HistogramVec
	HTTPRequests        *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		EventsIngested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "commercepulse_events_ingested_total",
				Help: "Raw events offered for ingestion, by vendor and outcome",
			},
			[]string{"vendor", "result"},
		),
		EventsUnattributed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "commercepulse_events_unattributed_total",
				Help: "Curated events without an extractable order reference",
			},
			[]string{"vendor"},
		),
		OrdersMaterialized: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "commercepulse_orders_materialized_total",
			Help: "Order aggregates written",
		}),
		MaterializeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "commercepulse_materialize_failures_total",
			Help: "Order aggregates that could not be written",
		}),
		StoreRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "commercepulse_store_retries_total",
				Help: "Retried store operations after a transient failure",
			},
			[]string{"operation"},
		),
		RowsFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "commercepulse_rows_failed_total",
				Help: "Rows the store refused after a batch write fell back to single rows",
			},
			[]string{"operation"},
		),
		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "commercepulse_stage_duration_seconds",
				Help:    "Pipeline stage duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"stage"},
		),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "commercepulse_http_requests_total",
				Help: "HTTP requests by route pattern, method and status",
			},
			[]string{"route", "method", "status"},
		),
	}

	m.registry.MustRegister(
		m.EventsIngested,
		m.EventsUnattributed,
		m.OrdersMaterialized,
		m.MaterializeFailures,
		m.StoreRetries,
		m.RowsFailed,
		m.StageDuration,
		m.HTTPRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
