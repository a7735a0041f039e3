package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kirillkom/docvault/internal/core/domain"
)

type DocumentRepository struct {
	db *sql.DB
}

func NewDocumentRepository(db *sql.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

const documentColumns = `id, owner_id, owner_email, category, name, created_at, updated_at, expiration_date, reminder_at`

func (r *DocumentRepository) Create(ctx context.Context, doc *domain.DocumentRecord) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO documents (`+documentColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
`,
		doc.ID, doc.OwnerID, doc.OwnerEmail, doc.Category, doc.Name,
		doc.CreatedAt, doc.UpdatedAt, doc.ExpirationDate, doc.ReminderAt,
	)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*domain.DocumentRecord, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+documentColumns+`
FROM documents
WHERE id = $1
`, id)

	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", fmt.Errorf("id=%s", id))
		}
		return nil, err
	}
	return &doc, nil
}

// ListByScope returns the scope's documents, newest first. An empty owner or
// category matches everything.
func (r *DocumentRepository) ListByScope(ctx context.Context, scope domain.Scope) ([]domain.DocumentRecord, error) {
	scope = scope.Normalize()
	rows, err := r.db.QueryContext(ctx, `
SELECT `+documentColumns+`
FROM documents
WHERE ($1 = '' OR owner_id = $1)
  AND ($2 = '' OR category = $2)
ORDER BY created_at DESC, id
`, scope.OwnerID, scope.Category)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	out := make([]domain.DocumentRecord, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return out, nil
}

func (r *DocumentRepository) Update(ctx context.Context, doc *domain.DocumentRecord) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE documents
SET owner_email = $2, category = $3, name = $4, updated_at = $5, expiration_date = $6, reminder_at = $7
WHERE id = $1
`, doc.ID, doc.OwnerEmail, doc.Category, doc.Name, doc.UpdatedAt, doc.ExpirationDate, doc.ReminderAt)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	return requireAffected(res, domain.ErrDocumentNotFound, "update document", doc.ID)
}

func (r *DocumentRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return requireAffected(res, domain.ErrDocumentNotFound, "delete document", id)
}

func scanDocument(row rowScanner) (domain.DocumentRecord, error) {
	var doc domain.DocumentRecord
	err := row.Scan(
		&doc.ID, &doc.OwnerID, &doc.OwnerEmail, &doc.Category, &doc.Name,
		&doc.CreatedAt, &doc.UpdatedAt, &doc.ExpirationDate, &doc.ReminderAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.DocumentRecord{}, err
		}
		return domain.DocumentRecord{}, fmt.Errorf("scan document: %w", err)
	}
	return doc, nil
}

func requireAffected(res sql.Result, kind error, op, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if affected == 0 {
		return domain.WrapError(kind, op, fmt.Errorf("id=%s", id))
	}
	return nil
}
