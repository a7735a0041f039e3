package cache

import (
	"time"

	"github.com/kirillkom/docvault/internal/core/domain"
)

func ByCreatedAt[T Entry](item T) (time.Time, bool) {
	created := item.RecordCreatedAt()
	return created, !created.IsZero()
}

func dateKey(d domain.Date) (time.Time, bool) {
	if d.IsZero() {
		return time.Time{}, false
	}
	return d.Midnight(time.UTC), true
}

func timestampKey(ts domain.Timestamp) (time.Time, bool) {
	return ts.Time(), !ts.IsZero()
}

// DocumentSortKey resolves a sort key name used by the document views.
func DocumentSortKey(name string) (DateKey[domain.DocumentRecord], bool) {
	switch name {
	case "created_at", "createdAt":
		return ByCreatedAt[domain.DocumentRecord], true
	case "expiration_date", "expirationDate":
		return func(d domain.DocumentRecord) (time.Time, bool) { return dateKey(d.ExpirationDate) }, true
	case "reminder_at", "reminderAt":
		return func(d domain.DocumentRecord) (time.Time, bool) { return timestampKey(d.ReminderAt) }, true
	default:
		return nil, false
	}
}

// ReminderSortKey resolves a sort key name used by the reminder views.
func ReminderSortKey(name string) (DateKey[domain.ReminderRecord], bool) {
	switch name {
	case "created_at", "createdAt":
		return ByCreatedAt[domain.ReminderRecord], true
	case "expiration_date", "expirationDate":
		return func(r domain.ReminderRecord) (time.Time, bool) { return dateKey(r.ExpirationDate) }, true
	case "reminder_date", "reminderDate":
		return func(r domain.ReminderRecord) (time.Time, bool) { return timestampKey(r.ReminderDate) }, true
	default:
		return nil, false
	}
}
