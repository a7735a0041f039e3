package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kirillkom/docvault/internal/core/domain"
)

func TestTransitionStatusReportsWhetherRowChanged(t *testing.T) {
	db, mock, done := newMockDB(t)
	defer done()
	repo := NewReminderRepository(db)

	mock.ExpectExec("UPDATE reminders").
		WithArgs("r1", "pending", "sent").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE reminders").
		WithArgs("r1", "pending", "sent").
		WillReturnResult(sqlmock.NewResult(0, 0))

	changed, err := repo.TransitionStatus(context.Background(), "r1", domain.ReminderPending, domain.ReminderSent)
	if err != nil || !changed {
		t.Fatalf("first TransitionStatus() = %v, %v", changed, err)
	}
	changed, err = repo.TransitionStatus(context.Background(), "r1", domain.ReminderPending, domain.ReminderSent)
	if err != nil || changed {
		t.Fatalf("second TransitionStatus() = %v, %v", changed, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestTransitionStatusRejectsRegression(t *testing.T) {
	db, mock, done := newMockDB(t)
	defer done()
	repo := NewReminderRepository(db)

	_, err := repo.TransitionStatus(context.Background(), "r1", domain.ReminderSent, domain.ReminderPending)
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("no query expected: %v", err)
	}
}

func TestReminderListByScopeIgnoresCategory(t *testing.T) {
	db, mock, done := newMockDB(t)
	defer done()
	repo := NewReminderRepository(db)

	created := time.Date(2025, time.January, 1, 8, 0, 0, 0, time.UTC)
	mock.ExpectQuery("FROM reminders").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "owner_id", "document_name", "expiration_date", "reminder_date", "type", "status", "created_at"}).
			AddRow("r1", "u1", "Passport", time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC), created.Add(24*time.Hour), "both", "pending", created))

	items, err := repo.ListByScope(context.Background(), domain.Scope{OwnerID: "u1", Category: "visa"})
	if err != nil {
		t.Fatalf("ListByScope() error = %v", err)
	}
	if len(items) != 1 || items[0].Type != domain.ReminderBoth || items[0].Status != domain.ReminderPending {
		t.Fatalf("unexpected reminders %+v", items)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestReminderGetByIDNotFound(t *testing.T) {
	db, mock, done := newMockDB(t)
	defer done()
	repo := NewReminderRepository(db)

	mock.ExpectQuery("FROM reminders").WithArgs("nope").WillReturnRows(sqlmock.NewRows([]string{"id"}))

	if _, err := repo.GetByID(context.Background(), "nope"); !domain.IsKind(err, domain.ErrReminderNotFound) {
		t.Fatalf("expected ErrReminderNotFound, got %v", err)
	}
}
