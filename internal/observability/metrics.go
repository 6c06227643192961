package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service. Each
// instance carries its own registry so independently configured agents (and
// tests) never collide on registration.
type Metrics struct {
	registry *prometheus.Registry

	ActiveSessions    prometheus.Gauge
	SessionEvents     *prometheus.CounterVec
	Turns             *prometheus.CounterVec
	TurnStageLatency  *prometheus.HistogramVec
	ProviderErrors    *prometheus.CounterVec
	MemoryNotes       *prometheus.CounterVec
	ContextBundleSize prometheus.Histogram
}

func NewMetrics(namespace string) *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of active conversation sessions.",
		}),
		SessionEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session lifecycle events by type.",
		}, []string{"event"}),
		Turns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Handled turns by outcome.",
		}, []string{"outcome"}),
		TurnStageLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_stage_latency_ms",
			Help:      "Per-stage turn processing latency in milliseconds.",
			Buckets:   []float64{10, 50, 100, 250, 500, 1000, 2000, 5000, 10000},
		}, []string{"stage"}),
		ProviderErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Capability adapter errors by provider and failure kind.",
		}, []string{"provider", "kind"}),
		MemoryNotes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_notes_total",
			Help:      "Memory note writes by result.",
		}, []string{"result"}),
		ContextBundleSize: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "context_bundle_chars",
			Help:      "Assembled context bundle size in characters.",
			Buckets:   []float64{500, 1000, 2000, 4000, 6000, 8000, 12000},
		}),
	}
}

func (m *Metrics) ObserveStageLatency(stage string, d time.Duration) {
	m.TurnStageLatency.WithLabelValues(stage).Observe(float64(d.Milliseconds()))
}

// Handler serves this instance's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
