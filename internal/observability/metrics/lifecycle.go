package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker/v2"

	"github.com/kirillkom/docvault/internal/core/cache"
	"github.com/kirillkom/docvault/internal/core/domain"
)

const namespace = "docvault"

// LifecycleMetrics records change-feed, reconciliation and dispatch signals.
// It satisfies the use case observer interfaces.
type LifecycleMetrics struct {
	service string

	feedEvents    *prometheus.CounterVec
	feedDropped   *prometheus.CounterVec
	resyncs       *prometheus.CounterVec
	activeScopes  *prometheus.GaugeVec
	reconcileRuns *prometheus.CounterVec
	reconcileTime prometheus.Histogram
	transitions   *prometheus.CounterVec
	persistFails  prometheus.Counter
	dispatches    *prometheus.CounterVec
	breakerState  *prometheus.GaugeVec
}

func newLifecycleMetrics(service string, registry *prometheus.Registry) *LifecycleMetrics {
	m := &LifecycleMetrics{
		service: service,
		feedEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "events_total",
			Help:      "Change-feed events applied to scoped caches by type and outcome.",
		}, []string{"service", "stream", "event_type", "outcome"}),
		feedDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "dropped_total",
			Help:      "Change-feed payloads dropped at the transport boundary.",
		}, []string{"service", "stream", "reason"}),
		resyncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "resyncs_total",
			Help:      "Full scope refetches by reason and result.",
		}, []string{"service", "stream", "reason", "result"}),
		activeScopes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "active_scopes",
			Help:      "Scopes with a live subscription.",
		}, []string{"service", "stream"}),
		reconcileRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "passes_total",
			Help:      "Reminder reconciliation passes.",
		}, []string{"service"}),
		reconcileTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "reconcile",
			Name:        "pass_duration_seconds",
			Help:        "Reminder reconciliation pass duration in seconds.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: prometheus.Labels{"service": service},
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "transitions_total",
			Help:      "Reminder status transitions by target status.",
		}, []string{"service", "status"}),
		persistFails: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "reconcile",
			Name:        "persist_failures_total",
			Help:        "Reminder status writes that failed and were left for the next pass.",
			ConstLabels: prometheus.Labels{"service": service},
		}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "notifications_total",
			Help:      "Notification dispatch attempts by channel and result.",
		}, []string{"service", "channel", "result"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "resilience",
			Name:      "breaker_state",
			Help:      "Circuit breaker state per operation: 0 closed, 1 half-open, 2 open.",
		}, []string{"service", "operation"}),
	}

	registry.MustRegister(
		m.feedEvents,
		m.feedDropped,
		m.resyncs,
		m.activeScopes,
		m.reconcileRuns,
		m.reconcileTime,
		m.transitions,
		m.persistFails,
		m.dispatches,
		m.breakerState,
	)
	return m
}

func (m *LifecycleMetrics) ObserveFeedEvent(stream string, eventType domain.EventType, outcome cache.Outcome) {
	m.feedEvents.WithLabelValues(m.service, stream, string(eventType), string(outcome)).Inc()
}

func (m *LifecycleMetrics) ObserveFeedDrop(stream, reason string) {
	m.feedDropped.WithLabelValues(m.service, stream, reason).Inc()
}

func (m *LifecycleMetrics) ObserveResync(stream, reason string, err error) {
	m.resyncs.WithLabelValues(m.service, stream, reason, resultLabel(err)).Inc()
}

func (m *LifecycleMetrics) ObserveActiveScopes(stream string, delta int) {
	m.activeScopes.WithLabelValues(m.service, stream).Add(float64(delta))
}

func (m *LifecycleMetrics) ObserveReconcile(report domain.ReconcileReport, duration time.Duration) {
	m.reconcileRuns.WithLabelValues(m.service).Inc()
	m.reconcileTime.Observe(duration.Seconds())
	for status, n := range report.Transitioned {
		m.transitions.WithLabelValues(m.service, string(status)).Add(float64(n))
	}
	if report.PersistFailures > 0 {
		m.persistFails.Add(float64(report.PersistFailures))
	}
}

func (m *LifecycleMetrics) ObserveDispatch(channel domain.Channel, err error) {
	m.dispatches.WithLabelValues(m.service, string(channel), resultLabel(err)).Inc()
}

// ObserveBreakerState has the resilience.StateListener signature.
func (m *LifecycleMetrics) ObserveBreakerState(operation string, _, to gobreaker.State) {
	var v float64
	switch to {
	case gobreaker.StateHalfOpen:
		v = 1
	case gobreaker.StateOpen:
		v = 2
	}
	m.breakerState.WithLabelValues(m.service, operation).Set(v)
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
