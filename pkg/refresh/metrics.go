package refresh

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts refreshes by trigger and outcome. A nil *Metrics records
// nothing.
type Metrics struct {
	refreshTotal *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		refreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wavepredictor",
			Subsystem: "refresh",
			Name:      "total",
			Help:      "Refreshes by trigger (init, timer, manual) and outcome (ok, failed, skipped).",
		}, []string{"trigger", "outcome"}),
	}
	reg.MustRegister(m.refreshTotal)
	return m
}

func (m *Metrics) observe(trigger Trigger, outcome string) {
	if m == nil {
		return
	}
	m.refreshTotal.WithLabelValues(string(trigger), outcome).Inc()
}
