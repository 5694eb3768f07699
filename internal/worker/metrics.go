package worker

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	jobsTotal            *prometheus.CounterVec
	jobDuration          *prometheus.HistogramVec
	activeJobs           prometheus.Gauge
	bytesSavedTotal      prometheus.Counter
	computeTimeMSTotal   prometheus.Counter
	webhookFailuresTotal prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelkit_worker_jobs_total",
			Help: "Total worker jobs by operation and final status.",
		}, []string{"op", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pixelkit_worker_job_duration_seconds",
			Help:    "Total processing duration for each worker job.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op", "status"}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pixelkit_worker_active_jobs",
			Help: "Current number of active transform jobs in the worker.",
		}),
		bytesSavedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelkit_usage_bytes_saved_total",
			Help: "Total bytes saved across all successful jobs.",
		}),
		computeTimeMSTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelkit_usage_compute_time_ms_total",
			Help: "Total compute time in milliseconds across successful jobs.",
		}),
		webhookFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelkit_worker_webhook_failures_total",
			Help: "Webhook deliveries that failed after all attempts.",
		}),
	}

	reg.MustRegister(
		m.jobsTotal,
		m.jobDuration,
		m.activeJobs,
		m.bytesSavedTotal,
		m.computeTimeMSTotal,
		m.webhookFailuresTotal,
	)
	return m
}
