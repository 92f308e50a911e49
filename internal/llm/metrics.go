package llm

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records per-provider call outcomes. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	calls    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics registers the provider metrics with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		calls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "envinsight",
			Subsystem: "llm",
			Name:      "provider_calls_total",
			Help:      "Completion calls per provider, by outcome",
		}, []string{"provider", "outcome"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "envinsight",
			Subsystem: "llm",
			Name:      "provider_call_duration_seconds",
			Help:      "Completion call latency per provider",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		}, []string{"provider"}),
	}
}

func (m *Metrics) observe(provider string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(provider, Reason(err)).Inc()
	m.duration.WithLabelValues(provider).Observe(time.Since(start).Seconds())
}
