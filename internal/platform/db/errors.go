package db

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ehr/emr/internal/platform/apperr"
)

// SQLSTATE codes the repositories care about.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeNotNullViolation    = "23502"
	codeCheckViolation      = "23514"
	classDataException      = "22"
)

// Classify maps a driver error onto the apperr taxonomy. Messages are built
// from constraint metadata only; the server's own text stays in the wrapped
// storage error for logging.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if apperr.IsClassified(err) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound("%s", op)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == codeUniqueViolation:
			return apperr.Conflict("%s: duplicate value for %s", op, constraintOrTable(pgErr))
		case pgErr.Code == codeForeignKeyViolation:
			return apperr.NotFound("%s: referenced record", op)
		case pgErr.Code == codeNotNullViolation:
			return apperr.Validation("%s: %s is required", op, pgErr.ColumnName)
		case pgErr.Code == codeCheckViolation:
			return apperr.Validation("%s: value rejected by %s", op, constraintOrTable(pgErr))
		case strings.HasPrefix(pgErr.Code, classDataException):
			return apperr.Validation("%s: invalid field value", op)
		}
	}
	return apperr.Storage(op, err)
}

// IsUniqueViolation reports whether err is a PostgreSQL unique violation,
// optionally on a specific constraint.
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != codeUniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

func constraintOrTable(pgErr *pgconn.PgError) string {
	if pgErr.ConstraintName != "" {
		return pgErr.ConstraintName
	}
	return pgErr.TableName
}

// IsForeignKeyViolation reports whether err is a PostgreSQL foreign key
// violation, typically a child row inserted for a missing parent.
func IsForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeForeignKeyViolation
}
