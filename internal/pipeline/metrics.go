package pipeline

import (
	"time"

	"github.com/dunamismax/pixelkit/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	transformsTotal   *prometheus.CounterVec
	transformDuration *prometheus.HistogramVec
	compressAttempts  *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		transformsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pixelkit",
				Subsystem: "pipeline",
				Name:      "transforms_total",
				Help:      "Transforms by operation and outcome (ok or failure kind).",
			},
			[]string{"op", "outcome"},
		),
		transformDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "pixelkit",
				Subsystem: "pipeline",
				Name:      "transform_duration_seconds",
				Help:      "Transform latency by operation.",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"op"},
		),
		compressAttempts: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "pixelkit",
				Subsystem: "pipeline",
				Name:      "compress_to_size_calls",
				Help:      "Backend compress calls per compress-to-size request.",
				Buckets:   prometheus.LinearBuckets(1, 1, maxIterations+1),
			},
			[]string{"hit_target"},
		),
	}

	reg.MustRegister(m.transformsTotal, m.transformDuration, m.compressAttempts)
	return m
}

func (m *Metrics) ObserveTransform(op domain.Op, outcome string, elapsed time.Duration) {
	m.transformsTotal.WithLabelValues(string(op), outcome).Inc()
	m.transformDuration.WithLabelValues(string(op)).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveCompressAttempts(attempts int, hitTarget bool) {
	label := "false"
	if hitTarget {
		label = "true"
	}
	m.compressAttempts.WithLabelValues(label).Observe(float64(attempts))
}
