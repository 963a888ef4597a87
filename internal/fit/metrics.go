package fit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records fitting activity.
type Metrics struct {
	// keys counts fitted keys by result (fit, failed, cancelled)
	keys *prometheus.CounterVec

	// duration tracks one fit pass per quantity and pair kind
	duration *prometheus.HistogramVec

	// samples tracks training samples gathered per key
	samples prometheus.Histogram
}

// NewMetrics registers the fit metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		keys: f.NewCounterVec(prometheus.CounterOpts{
			Name: "blockfit_fit_keys_total",
			Help: "Total sub-model keys processed by result",
		}, []string{"result"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "blockfit_fit_duration_seconds",
			Help:    "Fit pass duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10), // 1ms to ~4min
		}, []string{"quantity", "kind"}),
		samples: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "blockfit_fit_samples",
			Help:    "Training samples gathered per sub-model key",
			Buckets: []float64{1, 2, 5, 10, 50, 100, 500, 1000, 10000},
		}),
	}
}

func (m *Metrics) key(result string) {
	if m != nil {
		m.keys.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) sampleCount(n int) {
	if m != nil {
		m.samples.Observe(float64(n))
	}
}

func (m *Metrics) pass(quantity, kind string, seconds float64) {
	if m != nil {
		m.duration.WithLabelValues(quantity, kind).Observe(seconds)
	}
}
