package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kirillkom/docvault/internal/core/domain"
)

type ReminderRepository struct {
	db *sql.DB
}

func NewReminderRepository(db *sql.DB) *ReminderRepository {
	return &ReminderRepository{db: db}
}

const reminderColumns = `id, owner_id, document_name, expiration_date, reminder_date, type, status, created_at`

func (r *ReminderRepository) Create(ctx context.Context, reminder *domain.ReminderRecord) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO reminders (`+reminderColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
`,
		reminder.ID, reminder.OwnerID, reminder.DocumentName, reminder.ExpirationDate, reminder.ReminderDate,
		string(reminder.Type), string(reminder.Status), reminder.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert reminder: %w", err)
	}
	return nil
}

func (r *ReminderRepository) GetByID(ctx context.Context, id string) (*domain.ReminderRecord, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+reminderColumns+`
FROM reminders
WHERE id = $1
`, id)

	reminder, err := scanReminder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrReminderNotFound, "get reminder", fmt.Errorf("id=%s", id))
		}
		return nil, err
	}
	return &reminder, nil
}

// ListByScope filters by owner only; reminders carry no category.
func (r *ReminderRepository) ListByScope(ctx context.Context, scope domain.Scope) ([]domain.ReminderRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+reminderColumns+`
FROM reminders
WHERE ($1 = '' OR owner_id = $1)
ORDER BY created_at DESC, id
`, scope.Normalize().OwnerID)
	if err != nil {
		return nil, fmt.Errorf("list reminders: %w", err)
	}
	defer rows.Close()

	out := make([]domain.ReminderRecord, 0)
	for rows.Next() {
		reminder, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, reminder)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reminders: %w", err)
	}
	return out, nil
}

// TransitionStatus is a compare-and-set on the stored status. Expired rows
// are terminal and never match.
func (r *ReminderRepository) TransitionStatus(ctx context.Context, id string, from, to domain.ReminderStatus) (bool, error) {
	if !from.CanTransitionTo(to) {
		return false, domain.WrapError(domain.ErrInvalidInput, "transition reminder", fmt.Errorf("%s -> %s", from, to))
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE reminders
SET status = $3
WHERE id = $1 AND status = $2 AND status <> 'expired'
`, id, string(from), string(to))
	if err != nil {
		return false, fmt.Errorf("transition reminder status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition reminder rows affected: %w", err)
	}
	return affected > 0, nil
}

func scanReminder(row rowScanner) (domain.ReminderRecord, error) {
	var (
		reminder domain.ReminderRecord
		typ      string
		status   string
	)
	err := row.Scan(
		&reminder.ID, &reminder.OwnerID, &reminder.DocumentName, &reminder.ExpirationDate,
		&reminder.ReminderDate, &typ, &status, &reminder.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ReminderRecord{}, err
		}
		return domain.ReminderRecord{}, fmt.Errorf("scan reminder: %w", err)
	}
	reminder.Type = domain.ReminderType(typ)
	reminder.Status = domain.ReminderStatus(status)
	return reminder, nil
}
