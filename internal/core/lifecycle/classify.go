// Package lifecycle derives point-in-time statuses from stored dates.
//
// Every function here is pure and total: a missing date yields the least
// alarming status and no input can make a function fail.
package lifecycle

import (
	"time"

	"github.com/kirillkom/docvault/internal/core/domain"
)

const (
	// ExpiringSoonWindowDays is the largest days-remaining value still
	// reported as expiring soon. Zero means the document expires today.
	ExpiringSoonWindowDays = 7
	// ReminderDueWindowDays is the largest days-until value for which a
	// reminder is surfaced as due soon.
	ReminderDueWindowDays = 1
)

const day = 24 * time.Hour

type ExpirationState string

const (
	Active       ExpirationState = "active"
	ExpiringSoon ExpirationState = "expiring_soon"
	Expired      ExpirationState = "expired"
)

// ExpirationStatus carries DaysRemaining for ExpiringSoon and DaysOverdue for
// Expired; both are zero for Active.
type ExpirationStatus struct {
	State         ExpirationState `json:"state"`
	DaysRemaining int             `json:"days_remaining"`
	DaysOverdue   int             `json:"days_overdue"`
}

type ReminderState string

const (
	Upcoming ReminderState = "upcoming"
	DueSoon  ReminderState = "due_soon"
)

type ReminderUrgency struct {
	State     ReminderState `json:"state"`
	DaysUntil int           `json:"days_until"`
}

// ClassifyExpiration maps an expiration date to its status at now.
func ClassifyExpiration(now time.Time, expiration domain.Date) ExpirationStatus {
	if expiration.IsZero() || now.IsZero() {
		return ExpirationStatus{State: Active}
	}
	days := DaysUntilDate(now, expiration)
	switch {
	case days < 0:
		return ExpirationStatus{State: Expired, DaysOverdue: -days}
	case days <= ExpiringSoonWindowDays:
		return ExpirationStatus{State: ExpiringSoon, DaysRemaining: days}
	default:
		return ExpirationStatus{State: Active}
	}
}

// IsExpired reports whether the expiration date lies on a day before now.
func IsExpired(now time.Time, expiration domain.Date) bool {
	return ClassifyExpiration(now, expiration).State == Expired
}

// ClassifyReminder maps a reminder time to its urgency at now.
func ClassifyReminder(now time.Time, reminderAt domain.Timestamp) ReminderUrgency {
	if reminderAt.IsZero() || now.IsZero() {
		return ReminderUrgency{State: Upcoming}
	}
	days := DaysUntil(now, reminderAt.Time())
	if days >= 0 && days <= ReminderDueWindowDays {
		return ReminderUrgency{State: DueSoon, DaysUntil: days}
	}
	return ReminderUrgency{State: Upcoming}
}

// DaysUntil is the ceiling of (t - now) in whole days. t is moved into now's
// location first, then both are read on that wall clock so a DST shift never
// lengthens or shortens a day.
func DaysUntil(now, t time.Time) int {
	return ceilDays(wallClock(t.In(now.Location())).Sub(wallClock(now)))
}

// DaysUntilDate treats the date as midnight on the wall clock of now.
func DaysUntilDate(now time.Time, d domain.Date) int {
	return ceilDays(d.Midnight(time.UTC).Sub(wallClock(now)))
}

func ceilDays(diff time.Duration) int {
	days := diff / day
	if diff%day > 0 {
		days++
	}
	return int(days)
}

func wallClock(t time.Time) time.Time {
	y, m, d := t.Date()
	hh, mm, ss := t.Clock()
	return time.Date(y, m, d, hh, mm, ss, t.Nanosecond(), time.UTC)
}
