package usecase

import (
	"time"

	"github.com/kirillkom/docvault/internal/core/cache"
	"github.com/kirillkom/docvault/internal/core/domain"
)

// FeedObserver receives change-feed processing signals, typically for metrics.
type FeedObserver interface {
	ObserveFeedEvent(stream string, eventType domain.EventType, outcome cache.Outcome)
	ObserveResync(stream, reason string, err error)
	ObserveActiveScopes(stream string, delta int)
}

// ReconcileObserver receives reconciliation signals, typically for metrics.
type ReconcileObserver interface {
	ObserveReconcile(report domain.ReconcileReport, duration time.Duration)
	ObserveDispatch(channel domain.Channel, err error)
}

type noopFeedObserver struct{}

func (noopFeedObserver) ObserveFeedEvent(string, domain.EventType, cache.Outcome) {}
func (noopFeedObserver) ObserveResync(string, string, error) {}
func (noopFeedObserver) ObserveActiveScopes(string, int) {}

type noopReconcileObserver struct{}

func (noopReconcileObserver) ObserveReconcile(domain.ReconcileReport, time.Duration) {}
func (noopReconcileObserver) ObserveDispatch(domain.Channel, error) {}
