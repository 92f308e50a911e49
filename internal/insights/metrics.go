package insights

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics instruments the engine. A nil *Metrics records nothing.
type Metrics struct {
	cacheLookups *prometheus.CounterVec
	generations  *prometheus.CounterVec
	fallbacks    *prometheus.CounterVec
	duration     *prometheus.HistogramVec
}

// NewMetrics registers the engine metrics with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		cacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "envinsight",
			Subsystem: "insights",
			Name:      "cache_lookups_total",
			Help:      "Insight cache lookups by result",
		}, []string{"result"}),
		generations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "envinsight",
			Subsystem: "insights",
			Name:      "generated_total",
			Help:      "Insights generated, by origin",
		}, []string{"origin"}),
		fallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "envinsight",
			Subsystem: "insights",
			Name:      "fallbacks_total",
			Help:      "Fallback insights, by the reason the model path was skipped or failed",
		}, []string{"reason"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "envinsight",
			Subsystem: "insights",
			Name:      "generation_duration_seconds",
			Help:      "Time to generate an insight on a cache miss",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"origin"}),
	}
}

func (m *Metrics) cacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) generated(origin Origin, start time.Time) {
	if m == nil {
		return
	}
	m.generations.WithLabelValues(string(origin)).Inc()
	m.duration.WithLabelValues(string(origin)).Observe(time.Since(start).Seconds())
}

func (m *Metrics) fallback(reason string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(reason).Inc()
}
