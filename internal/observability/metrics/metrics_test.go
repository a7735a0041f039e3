package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/sony/gobreaker/v2"

	"github.com/kirillkom/docvault/internal/core/cache"
	"github.com/kirillkom/docvault/internal/core/domain"
)

func TestMiddlewareRecordsNormalizedPath(t *testing.T) {
	m := NewHTTPServerMetrics("api")
	handler := m.Middleware("api", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	for _, id := range []string{"a", "b"} {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/v1/documents/"+id, nil))
	}

	got := value(t, m.requestTotal.WithLabelValues("api", http.MethodDelete, "/v1/documents/{document_id}", "204"))
	if got != 2 {
		t.Fatalf("expected 2 requests under the templated path, got %v", got)
	}
}

func TestNormalizePath(t *testing.T) {
	tests := map[string]string{
		"/v1/documents":           "/v1/documents",
		"/v1/documents/stream":    "/v1/documents/stream",
		"/v1/documents/42":        "/v1/documents/{document_id}",
		"/v1/reminders/stream":    "/v1/reminders/stream",
		"/v1/reminders/reconcile": "/v1/reminders/reconcile",
		"/v1/reminders/7":         "/v1/reminders/{reminder_id}",
		"/healthz":                "/healthz",
	}
	for in, want := range tests {
		if got := normalizePath(in); got != want {
			t.Fatalf("normalizePath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLifecycleObservers(t *testing.T) {
	m := NewWorkerMetrics("worker")

	m.ObserveFeedEvent("documents", domain.EventUpdate, cache.Updated)
	m.ObserveResync("documents", "reconnect", errors.New("db down"))
	m.ObserveActiveScopes("documents", 1)
	m.ObserveActiveScopes("documents", 1)
	m.ObserveActiveScopes("documents", -1)
	m.ObserveDispatch(domain.ChannelEmail, nil)
	m.ObserveReconcile(domain.ReconcileReport{
		Transitioned:    map[domain.ReminderStatus]int{domain.ReminderSent: 2, domain.ReminderExpired: 1},
		PersistFailures: 1,
	}, 10*time.Millisecond)
	m.ObserveBreakerState("email.send", gobreaker.StateClosed, gobreaker.StateOpen)

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"feed event", value(t, m.feedEvents.WithLabelValues("worker", "documents", "UPDATE", "updated")), 1},
		{"resync error", value(t, m.resyncs.WithLabelValues("worker", "documents", "reconnect", "error")), 1},
		{"active scopes", value(t, m.activeScopes.WithLabelValues("worker", "documents")), 1},
		{"dispatch", value(t, m.dispatches.WithLabelValues("worker", "email", "success")), 1},
		{"sent", value(t, m.transitions.WithLabelValues("worker", "sent")), 2},
		{"expired", value(t, m.transitions.WithLabelValues("worker", "expired")), 1},
		{"persist failures", value(t, m.persistFails), 1},
		{"breaker", value(t, m.breakerState.WithLabelValues("worker", "email.send")), 2},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Fatalf("%s: got %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestWorkerJobMetricsExposed(t *testing.T) {
	m := NewWorkerMetrics("worker")
	m.StartJob()
	m.FinishJob("worker", "reminder_reconcile", time.Second, nil)

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rr.Body.String()
	for _, name := range []string{
		"docvault_worker_job_runs_total",
		"docvault_worker_last_success_timestamp_seconds",
	} {
		if !strings.Contains(body, name) {
			t.Fatalf("expected %s in exposition output", name)
		}
	}
}

func value(t *testing.T, m prometheus.Metric) float64 {
	t.Helper()
	var out dto.Metric
	if err := m.Write(&out); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	switch {
	case out.Counter != nil:
		return out.GetCounter().GetValue()
	case out.Gauge != nil:
		return out.GetGauge().GetValue()
	default:
		t.Fatalf("unsupported metric type %v", out.String())
		return 0
	}
}
