package postgres

import (
	"errors"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgconn"

	"backoffice/internal/core/apperror"
)

// PostgreSQL error codes handled explicitly.
const (
	pgUniqueViolation   = "23505"
	pgQueryCanceled     = "57014"
	pgLockNotAvailable  = "55P03"
	pgDeadlockDetected  = "40P01"
	pgSerializationFail = "40001"
)

// Builder returns a squirrel builder with PostgreSQL placeholders.
func Builder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
}

// IsUniqueViolation reports whether err is a unique index violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// IsTransient reports errors worth retrying: cancelled statements, lock timeouts,
// deadlocks and serialization failures.
func IsTransient(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case pgQueryCanceled, pgLockNotAvailable, pgDeadlockDetected, pgSerializationFail:
		return true
	}
	return false
}

// MapNumberError turns a unique violation on a number column into a duplicate error.
func MapNumberError(err error, entity, number string) error {
	if IsUniqueViolation(err) {
		return apperror.NewDuplicate(entity, "number", number).WithCause(err)
	}
	return err
}
