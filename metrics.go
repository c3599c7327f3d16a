package boatrace

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeOK       = "ok"
	outcomeFallback = "fallback"
	outcomeFailed   = "failed"
	outcomeOffline  = "offline"
)

// Metrics holds the Prometheus collectors of a Client. A nil *Metrics
// records nothing.
type Metrics struct {
	requestsTotal *prometheus.CounterVec
	pacingWait    prometheus.Histogram
	offlineQueue  prometheus.Gauge
}

// NewMetrics creates the client collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wavepredictor",
			Subsystem: "client",
			Name:      "requests_total",
			Help:      "API requests by method and outcome (ok, fallback, failed, offline).",
		}, []string{"method", "outcome"}),
		pacingWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "wavepredictor",
			Subsystem: "client",
			Name:      "pacing_wait_seconds",
			Help:      "Time requests spent waiting for the pacing slot.",
			Buckets:   []float64{0, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}),
		offlineQueue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "wavepredictor",
			Subsystem: "client",
			Name:      "offline_queue",
			Help:      "Requests waiting for connectivity.",
		}),
	}
	reg.MustRegister(m.requestsTotal, m.pacingWait, m.offlineQueue)
	return m
}

func (m *Metrics) observeRequest(method, outcome string) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(method, outcome).Inc()
}

func (m *Metrics) observePacing(d time.Duration) {
	if m == nil {
		return
	}
	m.pacingWait.Observe(d.Seconds())
}

func (m *Metrics) setQueueDepth(n int) {
	if m == nil {
		return
	}
	m.offlineQueue.Set(float64(n))
}
