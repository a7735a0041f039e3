package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/docvault/internal/core/domain"
	"github.com/kirillkom/docvault/internal/core/ports"
)

type ReminderService struct {
	repo       ports.ReminderRepository
	publisher  ports.ChangePublisher
	reconciler ports.ReminderReconciliation
	logger     *slog.Logger
	now        func() time.Time
}

func NewReminderService(
	repo ports.ReminderRepository,
	publisher ports.ChangePublisher,
	reconciler ports.ReminderReconciliation,
	logger *slog.Logger,
) *ReminderService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReminderService{
		repo:       repo,
		publisher:  publisher,
		reconciler: reconciler,
		logger:     logger,
		now:        time.Now,
	}
}

func (uc *ReminderService) Create(ctx context.Context, input domain.ReminderInput) (*domain.ReminderRecord, error) {
	input.OwnerID = strings.TrimSpace(input.OwnerID)
	input.DocumentName = strings.TrimSpace(input.DocumentName)
	if err := input.Validate(); err != nil {
		return nil, err
	}

	reminder := &domain.ReminderRecord{
		ID:             uuid.NewString(),
		OwnerID:        input.OwnerID,
		DocumentName:   input.DocumentName,
		ExpirationDate: input.ExpirationDate,
		ReminderDate:   input.ReminderDate,
		Type:           input.Type,
		Status:         domain.ReminderPending,
		CreatedAt:      domain.TimestampOf(uc.now().UTC()),
	}
	if err := uc.repo.Create(ctx, reminder); err != nil {
		return nil, fmt.Errorf("create reminder: %w", err)
	}

	if uc.publisher != nil {
		if err := uc.publisher.PublishReminderChange(ctx, domain.InsertEvent(*reminder)); err != nil {
			uc.logger.Warn("reminder_change_publish_failed", "reminder_id", reminder.ID, "error", err)
		}
	}
	return reminder, nil
}

// List reconciles the owner's reminders and then returns them, so a fetched
// list never shows a status the current time has already moved past. A
// failed pass is logged and the stored state is returned as is.
func (uc *ReminderService) List(ctx context.Context, scope domain.Scope) ([]domain.ReminderRecord, error) {
	scope = domain.OwnerScope(scope.Normalize().OwnerID)
	if uc.reconciler != nil {
		if _, err := uc.reconciler.Reconcile(ctx, scope); err != nil {
			uc.logger.Warn("reconcile_on_list_failed", "scope", scope.Key(), "error", err)
		}
	}
	items, err := uc.repo.ListByScope(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("list reminders: %w", err)
	}
	return items, nil
}
