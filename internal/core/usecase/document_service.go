package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/docvault/internal/core/domain"
	"github.com/kirillkom/docvault/internal/core/ports"
)

// DocumentService writes document metadata and announces every successful
// write on the change feed so live scopes converge.
type DocumentService struct {
	repo      ports.DocumentRepository
	publisher ports.ChangePublisher
	logger    *slog.Logger
	now       func() time.Time
}

func NewDocumentService(
	repo ports.DocumentRepository,
	publisher ports.ChangePublisher,
	logger *slog.Logger,
) *DocumentService {
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentService{
		repo:      repo,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

func (uc *DocumentService) Create(ctx context.Context, input domain.DocumentInput) (*domain.DocumentRecord, error) {
	input.OwnerID = strings.TrimSpace(input.OwnerID)
	input.Name = strings.TrimSpace(input.Name)
	input.Category = strings.TrimSpace(input.Category)
	if input.OwnerID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "create document", errors.New("owner_id is required"))
	}
	if input.Name == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "create document", errors.New("name is required"))
	}

	now := domain.TimestampOf(uc.now().UTC())
	doc := &domain.DocumentRecord{
		ID:             uuid.NewString(),
		OwnerID:        input.OwnerID,
		OwnerEmail:     strings.TrimSpace(input.OwnerEmail),
		Category:       input.Category,
		Name:           input.Name,
		CreatedAt:      now,
		UpdatedAt:      now,
		ExpirationDate: input.ExpirationDate,
		ReminderAt:     input.ReminderAt,
	}

	if err := uc.repo.Create(ctx, doc); err != nil {
		return nil, fmt.Errorf("create document metadata: %w", err)
	}
	uc.publish(ctx, domain.InsertEvent(*doc))
	return doc, nil
}

func (uc *DocumentService) Update(ctx context.Context, id string, patch domain.DocumentPatch) (*domain.DocumentRecord, error) {
	if patch.IsEmpty() {
		return nil, domain.WrapError(domain.ErrInvalidInput, "update document", errors.New("empty patch"))
	}
	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "update document", errors.New("name must not be empty"))
	}

	current, err := uc.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetch document by id: %w", err)
	}
	old := *current

	next := *current
	patch.Apply(&next)
	next.Name = strings.TrimSpace(next.Name)
	next.Category = strings.TrimSpace(next.Category)
	next.UpdatedAt = domain.TimestampOf(uc.now().UTC())

	if err := uc.repo.Update(ctx, &next); err != nil {
		return nil, fmt.Errorf("update document metadata: %w", err)
	}
	uc.publish(ctx, domain.UpdateEvent(old, next))
	return &next, nil
}

func (uc *DocumentService) Delete(ctx context.Context, id string) error {
	current, err := uc.repo.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("fetch document by id: %w", err)
	}
	if err := uc.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete document metadata: %w", err)
	}
	uc.publish(ctx, domain.DeleteEvent(*current))
	return nil
}

func (uc *DocumentService) GetByID(ctx context.Context, id string) (*domain.DocumentRecord, error) {
	doc, err := uc.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetch document by id: %w", err)
	}
	return doc, nil
}

// publish failures are not returned: the row is already written, and a
// subscriber that missed the event converges on its next resync.
func (uc *DocumentService) publish(ctx context.Context, event domain.ChangeEvent[domain.DocumentRecord]) {
	if uc.publisher == nil {
		return
	}
	if err := uc.publisher.PublishDocumentChange(ctx, event); err != nil {
		uc.logger.Warn("document_change_publish_failed", "event_type", event.Type, "error", err)
	}
}
