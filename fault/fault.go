// Package fault defines the error categories shared by the consensus packages.
//
// Every error returned by a service wraps exactly one of the category sentinels so
// callers can branch with errors.Is without knowing the package that produced it.
// NotFound, InvalidOperation and Conflict are terminal for a call. Transient marks
// storage failures that are safe to retry.
package fault

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidOperation = errors.New("invalid operation")
	ErrConflict         = errors.New("conflict")
	ErrTransient        = errors.New("transient")
)

// UniqueViolation is the Postgres SQLSTATE for unique_violation.
const UniqueViolation = "23505"

type transientError struct {
	err error
}

func (e *transientError) Error() string { return "transient: " + e.err.Error() }

func (e *transientError) Unwrap() []error { return []error{ErrTransient, e.err} }

// Transient marks err as retryable. Errors that already carry a category, and
// context cancellations, are returned unchanged.
func Transient(err error) error {
	if err == nil || Categorized(err) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &transientError{err: err}
}

// Categorized reports whether err already wraps one of the category sentinels.
func Categorized(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInvalidOperation) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrTransient)
}

// IsRetryable reports whether a call that failed with err may be retried as is.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient)
}

// IsUniqueViolation reports whether err is a Postgres unique constraint failure.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == UniqueViolation
}

// Kind returns a short label for the category of err, used for logs and metrics.
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidOperation):
		return "invalid_operation"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrTransient):
		return "transient"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "unknown"
	}
}
