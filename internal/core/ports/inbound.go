package ports

import (
	"context"

	"github.com/kirillkom/docvault/internal/core/domain"
)

// DocumentCatalog is the inbound contract for document metadata writes and lookups.
type DocumentCatalog interface {
	Create(ctx context.Context, input domain.DocumentInput) (*domain.DocumentRecord, error)
	Update(ctx context.Context, id string, patch domain.DocumentPatch) (*domain.DocumentRecord, error)
	Delete(ctx context.Context, id string) error
	GetByID(ctx context.Context, id string) (*domain.DocumentRecord, error)
}

// ReminderScheduler is the inbound contract for reminder creation and listing.
type ReminderScheduler interface {
	Create(ctx context.Context, input domain.ReminderInput) (*domain.ReminderRecord, error)
	List(ctx context.Context, scope domain.Scope) ([]domain.ReminderRecord, error)
}

// ReminderReconciliation runs one reconciliation pass over a scope.
type ReminderReconciliation interface {
	Reconcile(ctx context.Context, scope domain.Scope) (domain.ReconcileReport, error)
}
