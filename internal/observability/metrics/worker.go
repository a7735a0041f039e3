package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// WorkerMetrics covers the scheduled reconciliation job on top of the
// lifecycle signals.
type WorkerMetrics struct {
	*LifecycleMetrics

	registry *prometheus.Registry

	jobTotal    *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
	jobInFlight prometheus.Gauge
	lastSuccess prometheus.Gauge
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	jobTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "job_runs_total",
			Help:      "Scheduled job runs by job and status.",
		},
		[]string{"service", "job", "status"},
	)
	jobDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "job_duration_seconds",
			Help:      "Scheduled job duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"service", "job", "status"},
	)
	jobInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "jobs_in_flight",
			Help:      "Scheduled jobs currently running.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	lastSuccess := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last fully successful reconciliation sweep.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)

	registry.MustRegister(
		jobTotal,
		jobDuration,
		jobInFlight,
		lastSuccess,
	)

	return &WorkerMetrics{
		LifecycleMetrics: newLifecycleMetrics(service, registry),
		registry:         registry,
		jobTotal:         jobTotal,
		jobDuration:      jobDuration,
		jobInFlight:      jobInFlight,
		lastSuccess:      lastSuccess,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartJob() {
	m.jobInFlight.Inc()
}

func (m *WorkerMetrics) FinishJob(service, job string, duration time.Duration, err error) {
	m.jobInFlight.Dec()

	status := resultLabel(err)
	m.jobTotal.WithLabelValues(service, job, status).Inc()
	m.jobDuration.WithLabelValues(service, job, status).Observe(duration.Seconds())
	if err == nil {
		m.lastSuccess.SetToCurrentTime()
	}
}
