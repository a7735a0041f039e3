package cache

import (
	"time"

	"github.com/kirillkom/docvault/internal/core/domain"
	"github.com/kirillkom/docvault/internal/core/lifecycle"
)

type StatusCounts struct {
	Active       int `json:"active"`
	ExpiringSoon int `json:"expiring_soon"`
	Expired      int `json:"expired"`
}

// Summary is recomputed from a full scan every time it is requested, so it
// always equals the content of the collection it was taken from.
type Summary struct {
	Scope    domain.Scope   `json:"scope"`
	Total    int            `json:"total"`
	ByOwner  map[string]int `json:"by_owner"`
	ByStatus StatusCounts   `json:"by_status"`
	Now      time.Time      `json:"now"`
}

// CountBy groups entries by an arbitrary key.
func CountBy[T Entry](entries []T, key func(T) string) map[string]int {
	out := make(map[string]int)
	for _, item := range entries {
		out[key(item)]++
	}
	return out
}

func CountByOwner[T Entry](entries []T) map[string]int {
	return CountBy(entries, func(item T) string { return item.RecordOwner() })
}

func CountByStatus[T Entry](entries []T, now time.Time, expiration func(T) domain.Date) StatusCounts {
	var counts StatusCounts
	for _, item := range entries {
		switch lifecycle.ClassifyExpiration(now, expiration(item)).State {
		case lifecycle.Expired:
			counts.Expired++
		case lifecycle.ExpiringSoon:
			counts.ExpiringSoon++
		default:
			counts.Active++
		}
	}
	return counts
}

func Summarize[T Entry](scope domain.Scope, entries []T, now time.Time, expiration func(T) domain.Date) Summary {
	return Summary{
		Scope:    scope,
		Total:    len(entries),
		ByOwner:  CountByOwner(entries),
		ByStatus: CountByStatus(entries, now, expiration),
		Now:      now,
	}
}

// Summary scans the collection under a single read lock.
func (c *Collection[T]) Summary(now time.Time, expiration func(T) domain.Date) Summary {
	return Summarize(c.scope, c.Snapshot(), now, expiration)
}

func DocumentExpiration(d domain.DocumentRecord) domain.Date { return d.ExpirationDate }

func ReminderExpiration(r domain.ReminderRecord) domain.Date { return r.ExpirationDate }
