package postgres

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/kirillkom/docvault/internal/core/domain"
	"github.com/kirillkom/docvault/internal/core/ports"
	"github.com/kirillkom/docvault/internal/infrastructure/resilience"
)

// ResilientLister runs full scope fetches through the executor. A cache
// resync that loses a connection retries here before falling back to its
// own backoff.
type ResilientLister[T any] struct {
	next      ports.ScopeLister[T]
	executor  *resilience.Executor
	operation string
}

func NewResilientLister[T any](next ports.ScopeLister[T], executor *resilience.Executor, operation string) *ResilientLister[T] {
	return &ResilientLister[T]{next: next, executor: executor, operation: operation}
}

func (l *ResilientLister[T]) ListByScope(ctx context.Context, scope domain.Scope) ([]T, error) {
	items, err := resilience.ExecuteValue(ctx, l.executor, l.operation, func(ctx context.Context) ([]T, error) {
		return l.next.ListByScope(ctx, scope)
	}, classifyPostgresError)
	return items, wrapTemporaryIfNeeded(err)
}

func classifyPostgresError(err error) resilience.ErrorClassification {
	switch {
	case err == nil:
		return resilience.ErrorClassification{}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return resilience.ErrorClassification{}
	case domain.IsKind(err, domain.ErrInvalidInput),
		domain.IsKind(err, domain.ErrDocumentNotFound),
		domain.IsKind(err, domain.ErrReminderNotFound):
		return resilience.ErrorClassification{}
	case resilience.IsCircuitOpen(err):
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	case errors.Is(err, driver.ErrBadConn):
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return resilience.ErrorClassification{Retryable: isRetryableSQLState(pgErr.Code), RecordFailure: true}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	if pgconn.SafeToRetry(err) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	return resilience.ErrorClassification{RecordFailure: true}
}

// isRetryableSQLState covers connection exceptions, serialization failures
// and server shutdown.
func isRetryableSQLState(code string) bool {
	if len(code) >= 2 && code[:2] == "08" {
		return true
	}
	switch code {
	case "40001", "40P01", "57P01", "57P02", "57P03":
		return true
	default:
		return false
	}
}

func wrapTemporaryIfNeeded(err error) error {
	if err == nil {
		return nil
	}
	if domain.IsKind(err, domain.ErrTemporary) {
		return err
	}
	if classifyPostgresError(err).Retryable {
		return domain.WrapError(domain.ErrTemporary, "postgres", err)
	}
	return err
}
