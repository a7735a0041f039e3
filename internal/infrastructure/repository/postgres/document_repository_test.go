package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kirillkom/docvault/internal/core/domain"
)

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	return db, mock, func() { _ = db.Close() }
}

var documentRowColumns = []string{"id", "owner_id", "owner_email", "category", "name", "created_at", "updated_at", "expiration_date", "reminder_at"}

func TestGetByIDReturnsDomainNotFound(t *testing.T) {
	db, mock, done := newMockDB(t)
	defer done()
	repo := NewDocumentRepository(db)

	mock.ExpectQuery("SELECT id, owner_id, owner_email").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "missing")
	if !domain.IsKind(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListByScopeScansNullableDates(t *testing.T) {
	db, mock, done := newMockDB(t)
	defer done()
	repo := NewDocumentRepository(db)

	created := time.Date(2025, time.January, 2, 10, 0, 0, 0, time.UTC)
	expires := time.Date(2025, time.February, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("FROM documents").
		WithArgs("u1", "visa").
		WillReturnRows(sqlmock.NewRows(documentRowColumns).
			AddRow("d2", "u1", "a@example.com", "visa", "Visa", created, created, expires, nil).
			AddRow("d1", "u1", "", "visa", "Old visa", created.Add(-time.Hour), created, nil, nil))

	docs, err := repo.ListByScope(context.Background(), domain.Scope{OwnerID: " u1 ", Category: "visa"})
	if err != nil {
		t.Fatalf("ListByScope() error = %v", err)
	}
	if len(docs) != 2 || docs[0].ID != "d2" {
		t.Fatalf("unexpected documents %+v", docs)
	}
	if docs[0].ExpirationDate != domain.NewDate(2025, time.February, 1) {
		t.Fatalf("unexpected expiration %s", docs[0].ExpirationDate)
	}
	if !docs[1].ExpirationDate.IsZero() || !docs[1].ReminderAt.IsZero() {
		t.Fatalf("expected null dates to scan as zero values")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListByScopeAdminPassesWildcards(t *testing.T) {
	db, mock, done := newMockDB(t)
	defer done()
	repo := NewDocumentRepository(db)

	mock.ExpectQuery("FROM documents").
		WithArgs("", "").
		WillReturnRows(sqlmock.NewRows(documentRowColumns))

	docs, err := repo.ListByScope(context.Background(), domain.AdminScope())
	if err != nil {
		t.Fatalf("ListByScope() error = %v", err)
	}
	if len(docs) != 0 {
		t.Fatalf("expected empty result, got %d", len(docs))
	}
}

func TestUpdateReturnsDomainNotFoundWhenNoRowsAffected(t *testing.T) {
	db, mock, done := newMockDB(t)
	defer done()
	repo := NewDocumentRepository(db)

	mock.ExpectExec("UPDATE documents").
		WithArgs("missing", "", "visa", "Visa", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Update(context.Background(), &domain.DocumentRecord{ID: "missing", Category: "visa", Name: "Visa"})
	if !domain.IsKind(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDeleteWrapsDriverError(t *testing.T) {
	db, mock, done := newMockDB(t)
	defer done()
	repo := NewDocumentRepository(db)

	mock.ExpectExec("DELETE FROM documents").
		WithArgs("d1").
		WillReturnError(errors.New("connection reset"))

	err := repo.Delete(context.Background(), "d1")
	if err == nil || domain.IsKind(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected wrapped driver error, got %v", err)
	}
}

func TestEnsureSchemaTakesAdvisoryLock(t *testing.T) {
	db, mock, done := newMockDB(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").WithArgs(schemaLockKey).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS documents").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	if err := EnsureSchema(context.Background(), db); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestConfigurePoolKeepsIdleTimeSeparateFromLifetime(t *testing.T) {
	db, _, done := newMockDB(t)
	defer done()

	got := configurePool(db, PoolOptions{MaxOpenConns: 4, ConnMaxIdleTime: 90 * time.Second})
	if got.ConnMaxIdleTime != 90*time.Second {
		t.Fatalf("expected idle time 90s, got %s", got.ConnMaxIdleTime)
	}
	if got.ConnMaxLifetime != 30*time.Minute {
		t.Fatalf("expected default lifetime 30m, got %s", got.ConnMaxLifetime)
	}
	if got.MaxIdleConns != 4 {
		t.Fatalf("expected idle conns to follow max open, got %d", got.MaxIdleConns)
	}
	if stats := db.Stats(); stats.MaxOpenConnections != 4 {
		t.Fatalf("expected pool capped at 4, got %d", stats.MaxOpenConnections)
	}
}
