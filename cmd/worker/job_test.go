package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/kirillkom/docvault/internal/config"
	"github.com/kirillkom/docvault/internal/core/domain"
)

type reconcilerStub struct {
	scopes      []domain.Scope
	hadDeadline bool
	err         error
}

func (s *reconcilerStub) Reconcile(ctx context.Context, scope domain.Scope) (domain.ReconcileReport, error) {
	s.scopes = append(s.scopes, scope)
	_, s.hadDeadline = ctx.Deadline()
	return domain.ReconcileReport{Scope: scope, Examined: 3}, s.err
}

type jobMetricsStub struct {
	started  int
	finished []error
}

func (m *jobMetricsStub) StartJob() { m.started++ }

func (m *jobMetricsStub) FinishJob(_, job string, _ time.Duration, err error) {
	if job != reconcileJobName {
		panic("unexpected job " + job)
	}
	m.finished = append(m.finished, err)
}

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestReconcileJobRunsAdminScopeWithTimeout(t *testing.T) {
	rec := &reconcilerStub{}
	m := &jobMetricsStub{}
	job := reconcileJob{reconciler: rec, timeout: time.Minute, metrics: m, logger: discardLogger()}

	if err := job.run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(rec.scopes) != 1 || !rec.scopes[0].IsAdminWide() {
		t.Fatalf("expected one admin scope pass, got %+v", rec.scopes)
	}
	if !rec.hadDeadline {
		t.Fatalf("expected pass to carry a deadline")
	}
	if m.started != 1 || len(m.finished) != 1 || m.finished[0] != nil {
		t.Fatalf("unexpected metrics %+v", m)
	}
}

func TestReconcileJobReportsFailure(t *testing.T) {
	boom := errors.New("db down")
	m := &jobMetricsStub{}
	job := reconcileJob{reconciler: &reconcilerStub{err: boom}, metrics: m, logger: discardLogger()}

	if err := job.run(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected db error, got %v", err)
	}
	if len(m.finished) != 1 || !errors.Is(m.finished[0], boom) {
		t.Fatalf("expected failure recorded, got %+v", m.finished)
	}
}

func TestNewSchedulerRejectsBadSpec(t *testing.T) {
	job := reconcileJob{reconciler: &reconcilerStub{}, logger: discardLogger()}
	if _, err := newScheduler(context.Background(), config.Config{ReconcileSchedule: "every minute"}, job, discardLogger()); err == nil {
		t.Fatalf("expected invalid schedule error")
	}
	c, err := newScheduler(context.Background(), config.Config{ReconcileSchedule: "@every 1m"}, job, discardLogger())
	if err != nil {
		t.Fatalf("valid schedule: %v", err)
	}
	if len(c.Entries()) != 1 {
		t.Fatalf("expected one entry, got %d", len(c.Entries()))
	}
}
