package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveCalls       prometheus.Gauge
	CallEvents        *prometheus.CounterVec
	ModelEvents       *prometheus.CounterVec
	RelayedFrames     *prometheus.CounterVec
	CallActions       *prometheus.CounterVec
	PendingOperations *prometheus.CounterVec
	SetupLatency      prometheus.Histogram
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveCalls: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_calls",
			Help:      "Number of calls with a live media bridge.",
		}),
		CallEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_events_total",
			Help:      "Call lifecycle events by type.",
		}, []string{"event"}),
		ModelEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_events_total",
			Help:      "Realtime model events by type tag.",
		}, []string{"type"}),
		RelayedFrames: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relayed_frames_total",
			Help:      "Media frames relayed by direction.",
		}, []string{"direction"}),
		CallActions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_actions_total",
			Help:      "Call-control actions by action and outcome.",
		}, []string{"action", "outcome"}),
		PendingOperations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pending_operations_total",
			Help:      "Deferred call-control operations by kind and outcome.",
		}, []string{"kind", "outcome"}),
		SetupLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "setup_latency_ms",
			Help:      "Latency from media start frame to confirmed model session in milliseconds.",
			Buckets:   []float64{100, 200, 300, 500, 700, 1000, 2000, 5000},
		}),
	}
}

func (m *Metrics) ObserveSetupLatency(d time.Duration) {
	m.SetupLatency.Observe(float64(d.Milliseconds()))
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
