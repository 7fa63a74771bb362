// Package metrics exposes the Prometheus collectors for tickerfan's
// streaming pipeline: upstream activations, polling cycles, publish
// suppressions, outbound queue drops and plugin errors by kind.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every Prometheus collector tickerfan registers.
type Registry struct {
	StreamActivations *prometheus.CounterVec
	ActiveViews       prometheus.Gauge
	PollCycles        *prometheus.CounterVec
	PublishesTotal    *prometheus.CounterVec
	PluginErrors      *prometheus.CounterVec
	QueueDrops        *prometheus.CounterVec
	ConnectionsActive prometheus.Gauge
}

// NewRegistry builds and registers all tickerfan collectors against reg.
// Passing a fresh prometheus.NewRegistry() keeps tests isolated from the
// global default registry.
func NewRegistry(reg prometheus.Registerer) *Registry {
	m := &Registry{
		StreamActivations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tickerfan_stream_activations_total",
				Help: "Upstream feed activations by view kind and mode (native/polling)",
			},
			[]string{"kind", "mode"},
		),
		ActiveViews: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tickerfan_active_views",
				Help: "Number of distinct views with at least one subscriber",
			},
		),
		PollCycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tickerfan_poll_cycles_total",
				Help: "Polling cycles executed by view kind",
			},
			[]string{"kind"},
		),
		PublishesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tickerfan_publishes_total",
				Help: "Bus publishes by view kind, split by whether the message was suppressed as unchanged",
			},
			[]string{"kind", "suppressed"},
		),
		PluginErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tickerfan_plugin_errors_total",
				Help: "Plugin errors observed during polling, by view kind and error kind",
			},
			[]string{"kind", "error_kind"},
		),
		QueueDrops: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tickerfan_outbound_queue_drops_total",
				Help: "Outbound WebSocket frames dropped or replaced by the backpressure policy",
			},
			[]string{"reason"},
		),
		ConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tickerfan_connections_active",
				Help: "Number of currently connected WebSocket clients",
			},
		),
	}

	reg.MustRegister(
		m.StreamActivations,
		m.ActiveViews,
		m.PollCycles,
		m.PublishesTotal,
		m.PluginErrors,
		m.QueueDrops,
		m.ConnectionsActive,
	)
	return m
}

// Handler returns the HTTP handler that serves metrics in the
// Prometheus text exposition format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// IncConnections, DecConnections and IncQueueDrop satisfy wsfront's
// unexported connMetrics interface so a *Registry can be passed
// directly as wsfront.Config.Metrics.
func (m *Registry) IncConnections() { m.ConnectionsActive.Inc() }
func (m *Registry) DecConnections() { m.ConnectionsActive.Dec() }
func (m *Registry) IncQueueDrop(reason string) {
	m.QueueDrops.WithLabelValues(reason).Inc()
}

// SetActiveViews updates the active-views gauge from a live count,
// typically streaming.Manager.ActiveCount() polled periodically by the
// owning command since Manager has no per-deactivation hook.
func (m *Registry) SetActiveViews(n int) { m.ActiveViews.Set(float64(n)) }
