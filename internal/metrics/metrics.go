// Package metrics exposes the process's prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every collector the pipeline and API report into.
type Metrics struct {
	registry *prometheus.Registry

	TickDuration    prometheus.Histogram
	TicksTotal      *prometheus.CounterVec
	UpstreamErrors  prometheus.Counter
	SnapshotsStored prometheus.Counter
	EventsDetected  *prometheus.CounterVec
	AlertsDelivered prometheus.Counter
	AlertsDropped   *prometheus.CounterVec
	ViewGeneration  prometheus.Gauge
	APIRequests     *prometheus.CounterVec
	APIDuration     *prometheus.HistogramVec
}

// New builds a fresh registry with all collectors registered.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gesniper_tick_duration_seconds",
			Help:    "Wall time of one ingest tick",
			Buckets: prometheus.DefBuckets,
		}),
		TicksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gesniper_ticks_total",
			Help: "Ingest ticks by result",
		}, []string{"result"}),
		UpstreamErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gesniper_upstream_errors_total",
			Help: "Failed upstream fetches",
		}),
		SnapshotsStored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gesniper_snapshots_stored_total",
			Help: "Price snapshots written to the store",
		}),
		EventsDetected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gesniper_events_detected_total",
			Help: "Events the engine produced, by kind",
		}, []string{"kind"}),
		AlertsDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gesniper_alerts_delivered_total",
			Help: "Alerts posted to chat channels",
		}),
		AlertsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gesniper_alerts_dropped_total",
			Help: "Alerts not delivered, by reason",
		}, []string{"reason"}),
		ViewGeneration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gesniper_view_generation",
			Help: "Monotonic generation of the live view",
		}),
		APIRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gesniper_api_requests_total",
			Help: "API requests by route and status",
		}, []string{"route", "status"}),
		APIDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gesniper_api_request_duration_seconds",
			Help:    "API request latency by route",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"route"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.TickDuration, m.TicksTotal, m.UpstreamErrors, m.SnapshotsStored,
		m.EventsDetected, m.AlertsDelivered, m.AlertsDropped,
		m.ViewGeneration, m.APIRequests, m.APIDuration,
	)
	return m
}

// Handler serves the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveDispatch records one alert dispatch outcome set.
func (m *Metrics) ObserveDispatch(delivered, deduped, rateCapped, filtered, failed int) {
	m.AlertsDelivered.Add(float64(delivered))
	m.AlertsDropped.WithLabelValues("dedup").Add(float64(deduped))
	m.AlertsDropped.WithLabelValues("rate_cap").Add(float64(rateCapped))
	m.AlertsDropped.WithLabelValues("filtered").Add(float64(filtered))
	m.AlertsDropped.WithLabelValues("failed").Add(float64(failed))
}
