package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kirillkom/docvault/internal/config"
	"github.com/kirillkom/docvault/internal/core/domain"
	"github.com/kirillkom/docvault/internal/core/ports"
)

const reconcileJobName = "reminder_reconcile"

type jobMetrics interface {
	StartJob()
	FinishJob(service, job string, duration time.Duration, err error)
}

// reconcileJob runs one admin-scope reconciliation pass per tick.
type reconcileJob struct {
	reconciler ports.ReminderReconciliation
	timeout    time.Duration
	metrics    jobMetrics
	logger     *slog.Logger
}

func (j reconcileJob) run(ctx context.Context) error {
	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}

	startedAt := time.Now()
	if j.metrics != nil {
		j.metrics.StartJob()
	}
	report, err := j.reconciler.Reconcile(ctx, domain.AdminScope())
	if j.metrics != nil {
		j.metrics.FinishJob("worker", reconcileJobName, time.Since(startedAt), err)
	}
	if err != nil {
		j.logger.Error("reconcile_job_failed", "error", err, "duration_ms", time.Since(startedAt).Milliseconds())
		return err
	}
	j.logger.Info("reconcile_job_completed",
		"examined", report.Examined,
		"transitioned", report.TotalTransitions(),
		"dispatched", report.Dispatched,
		"dispatch_failures", report.DispatchFailures,
		"persist_failures", report.PersistFailures,
		"duration_ms", time.Since(startedAt).Milliseconds(),
	)
	return nil
}

// newScheduler registers the job on the configured cron schedule. Overlapping
// ticks are skipped while a pass is still running.
func newScheduler(ctx context.Context, cfg config.Config, job reconcileJob, logger *slog.Logger) (*cron.Cron, error) {
	cronLogger := slogCronLogger{logger: logger}
	c := cron.New(cron.WithChain(
		cron.Recover(cronLogger),
		cron.SkipIfStillRunning(cronLogger),
	))
	if _, err := c.AddFunc(cfg.ReconcileSchedule, func() { _ = job.run(ctx) }); err != nil {
		return nil, fmt.Errorf("add reconcile job: %w", err)
	}
	return c, nil
}

type slogCronLogger struct {
	logger *slog.Logger
}

func (l slogCronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron_"+msg, keysAndValues...)
}

func (l slogCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron_"+msg, append(keysAndValues, "error", err)...)
}
