package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/docvault/internal/core/domain"
	"github.com/kirillkom/docvault/internal/core/lifecycle"
	"github.com/kirillkom/docvault/internal/core/ports"
)

// ReminderTransition is a planned status change. Channels is non-empty only
// for pending -> sent.
type ReminderTransition struct {
	Reminder domain.ReminderRecord
	From     domain.ReminderStatus
	To       domain.ReminderStatus
	Channels []domain.Channel
}

// PlanReminder decides the next status of one reminder at now. Expiration
// wins over delivery: a pending reminder whose document already expired goes
// straight to expired without dispatch.
func PlanReminder(r domain.ReminderRecord, now time.Time) (ReminderTransition, bool) {
	if r.Status == domain.ReminderExpired {
		return ReminderTransition{}, false
	}
	if lifecycle.IsExpired(now, r.ExpirationDate) {
		return ReminderTransition{Reminder: r, From: r.Status, To: domain.ReminderExpired}, true
	}
	if r.Status == domain.ReminderPending && !r.ReminderDate.IsZero() && !r.ReminderDate.Time().After(now) {
		return ReminderTransition{
			Reminder: r,
			From:     r.Status,
			To:       domain.ReminderSent,
			Channels: r.Type.Channels(),
		}, true
	}
	return ReminderTransition{}, false
}

func PlanReminders(records []domain.ReminderRecord, now time.Time) []ReminderTransition {
	var out []ReminderTransition
	for _, r := range records {
		if tr, ok := PlanReminder(r, now); ok {
			out = append(out, tr)
		}
	}
	return out
}

type ReconcilerOptions struct {
	Observer ReconcileObserver
	Logger   *slog.Logger
	Now      func() time.Time
}

// ReminderReconciler moves reminders forward in pending -> sent -> expired
// and dispatches notifications for the ones that became due.
//
// The stored status is the idempotency key: every transition is a compare
// and set on it, and a notification goes out only when this pass won the
// write. Concurrent or repeated passes therefore never double dispatch.
type ReminderReconciler struct {
	repo       ports.ReminderRepository
	dispatcher ports.Dispatcher
	publisher  ports.ChangePublisher
	observer   ReconcileObserver
	logger     *slog.Logger
	now        func() time.Time
}

func NewReminderReconciler(
	repo ports.ReminderRepository,
	dispatcher ports.Dispatcher,
	publisher ports.ChangePublisher,
	opts ReconcilerOptions,
) *ReminderReconciler {
	if opts.Observer == nil {
		opts.Observer = noopReconcileObserver{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &ReminderReconciler{
		repo:       repo,
		dispatcher: dispatcher,
		publisher:  publisher,
		observer:   opts.Observer,
		logger:     opts.Logger,
		now:        opts.Now,
	}
}

// Reconcile loads the reminders of scope and runs one pass at the current time.
func (uc *ReminderReconciler) Reconcile(ctx context.Context, scope domain.Scope) (domain.ReconcileReport, error) {
	scope = domain.OwnerScope(scope.Normalize().OwnerID)
	records, err := uc.repo.ListByScope(ctx, scope)
	if err != nil {
		return domain.ReconcileReport{Scope: scope}, fmt.Errorf("list reminders for reconcile: %w", err)
	}
	return uc.ReconcileRecords(ctx, scope, records, uc.now()), nil
}

// ReconcileRecords runs one pass over an already loaded set of reminders.
// Failures are recorded in the report and never abort the pass.
func (uc *ReminderReconciler) ReconcileRecords(
	ctx context.Context,
	scope domain.Scope,
	records []domain.ReminderRecord,
	now time.Time,
) domain.ReconcileReport {
	started := time.Now()
	report := domain.ReconcileReport{
		Scope:        scope,
		Now:          now,
		Examined:     len(records),
		Transitioned: make(map[domain.ReminderStatus]int),
	}

	for _, tr := range PlanReminders(records, now) {
		if ctx.Err() != nil {
			break
		}
		uc.apply(ctx, tr, &report)
	}

	uc.observer.ObserveReconcile(report, time.Since(started))
	if report.TotalTransitions() > 0 || report.PersistFailures > 0 || report.DispatchFailures > 0 {
		uc.logger.Info("reconcile_pass",
			"scope", scope.Key(),
			"examined", report.Examined,
			"transitioned", report.TotalTransitions(),
			"stale", report.Stale,
			"dispatched", report.Dispatched,
			"dispatch_failures", report.DispatchFailures,
			"persist_failures", report.PersistFailures,
		)
	}
	return report
}

func (uc *ReminderReconciler) apply(ctx context.Context, tr ReminderTransition, report *domain.ReconcileReport) {
	id := tr.Reminder.ID
	changed, err := uc.repo.TransitionStatus(ctx, id, tr.From, tr.To)
	if err != nil {
		report.PersistFailures++
		uc.logger.Error("reminder_transition_failed", "reminder_id", id, "from", tr.From, "to", tr.To, "error", err)
		return
	}
	if !changed {
		// Another pass already moved it, or the stored status differs from the snapshot.
		report.Stale++
		return
	}
	report.Transitioned[tr.To]++

	updated := tr.Reminder
	updated.Status = tr.To

	notification := domain.NotificationFor(updated)
	for _, channel := range tr.Channels {
		err := uc.dispatcher.Dispatch(ctx, channel, notification)
		uc.observer.ObserveDispatch(channel, err)
		if err != nil {
			report.DispatchFailures++
			uc.logger.Warn("reminder_dispatch_failed", "reminder_id", id, "channel", channel, "error", err)
			continue
		}
		report.Dispatched++
	}

	if uc.publisher == nil {
		return
	}
	if err := uc.publisher.PublishReminderChange(ctx, domain.UpdateEvent(tr.Reminder, updated)); err != nil {
		uc.logger.Warn("reminder_change_publish_failed", "reminder_id", id, "error", err)
	}
}
