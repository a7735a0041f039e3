package ports

import (
	"context"

	"github.com/kirillkom/docvault/internal/core/domain"
)

// ScopeLister performs the full fetch of a scope, used on activation and resync.
type ScopeLister[T any] interface {
	ListByScope(ctx context.Context, scope domain.Scope) ([]T, error)
}

// DocumentRepository persists document metadata.
type DocumentRepository interface {
	ScopeLister[domain.DocumentRecord]
	Create(ctx context.Context, doc *domain.DocumentRecord) error
	GetByID(ctx context.Context, id string) (*domain.DocumentRecord, error)
	Update(ctx context.Context, doc *domain.DocumentRecord) error
	Delete(ctx context.Context, id string) error
}

// ReminderRepository persists reminders.
type ReminderRepository interface {
	ScopeLister[domain.ReminderRecord]
	Create(ctx context.Context, reminder *domain.ReminderRecord) error
	GetByID(ctx context.Context, id string) (*domain.ReminderRecord, error)
	// TransitionStatus moves a reminder from one status to another only if
	// its stored status still equals from. It reports whether a row changed.
	TransitionStatus(ctx context.Context, id string, from, to domain.ReminderStatus) (bool, error)
}

// FeedHandle is a live subscription. Events arrive strictly in order; Close
// releases the subscription and discards anything still queued.
type FeedHandle[T any] interface {
	Events() <-chan domain.FeedEvent[T]
	Close() error
}

// ChangeFeed opens scope-keyed subscriptions to a row-change stream.
type ChangeFeed[T any] interface {
	Subscribe(ctx context.Context, scope domain.Scope) (FeedHandle[T], error)
}

// ChangePublisher emits row-change events after successful writes.
type ChangePublisher interface {
	PublishDocumentChange(ctx context.Context, event domain.ChangeEvent[domain.DocumentRecord]) error
	PublishReminderChange(ctx context.Context, event domain.ChangeEvent[domain.ReminderRecord]) error
}

// Dispatcher delivers a notification on one channel. Delivery is best effort.
type Dispatcher interface {
	Dispatch(ctx context.Context, channel domain.Channel, notification domain.Notification) error
}
