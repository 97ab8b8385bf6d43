// Package metrics exposes Prometheus instrumentation for the hub.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/grpchub-io/grpchub/internal/hub"
	"github.com/grpchub-io/grpchub/internal/registry"
)

// Metrics bundles the hub's Prometheus collectors on a private registry so
// tests can create isolated instances.
type Metrics struct {
	registry *prometheus.Registry

	// CallsForwarded counts forwarded calls by outcome
	// (success, no_instance, direct_connection_failure, ...).
	CallsForwarded *prometheus.CounterVec

	// CallDuration observes end-to-end forwarded call latency.
	CallDuration prometheus.Histogram

	// EventsStreamed counts events written to SSE and WebSocket clients.
	EventsStreamed *prometheus.CounterVec

	// StreamClients tracks currently connected event stream consumers by
	// transport (sse, websocket, grpc).
	StreamClients *prometheus.GaugeVec
}

// New builds the collector set and registers the per-status service gauge,
// which reads the registry on every scrape.
func New(h *hub.Hub) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(reg)

	m := &Metrics{
		registry: reg,
		CallsForwarded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "grpchub_calls_forwarded_total",
			Help: "Forwarded calls by outcome.",
		}, []string{"outcome"}),
		CallDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "grpchub_call_duration_seconds",
			Help:    "End-to-end duration of forwarded calls.",
			Buckets: prometheus.DefBuckets,
		}),
		EventsStreamed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "grpchub_events_streamed_total",
			Help: "Events delivered to stream consumers by transport.",
		}, []string{"transport"}),
		StreamClients: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "grpchub_stream_clients",
			Help: "Currently connected event stream consumers by transport.",
		}, []string{"transport"}),
	}

	for _, status := range []registry.Status{registry.StatusOnline, registry.StatusBusy, registry.StatusOffline} {
		status := status
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "grpchub_services",
			Help:        "Registered services by current status.",
			ConstLabels: prometheus.Labels{"status": string(status)},
		}, func() float64 {
			var n int
			for _, rec := range h.List("") {
				if rec.Status == status {
					n++
				}
			}
			return float64(n)
		})
	}

	return m
}

// Handler returns the /metrics HTTP handler for this collector set.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
