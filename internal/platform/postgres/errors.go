package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/lib/pq"
)

// SQLSTATE codes inspected when classifying failures.
const (
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	classConnectionException = "08"
	classInsufficientRes     = "53"
)

// Error implements repositories.RepositoryError for PostgreSQL backed repositories.
type Error struct {
	op          string
	err         error
	detail      string
	notFound    bool
	conflict    bool
	unavailable bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.op != "" {
		return fmt.Sprintf("%s: %v", e.op, e.err)
	}
	return e.err.Error()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// IsNotFound reports whether the error represents a missing row.
func (e *Error) IsNotFound() bool { return e != nil && e.notFound }

// IsConflict reports whether the error represents a constraint or serialization conflict.
func (e *Error) IsConflict() bool { return e != nil && e.conflict }

// IsUnavailable reports whether the database could not be reached.
func (e *Error) IsUnavailable() bool { return e != nil && e.unavailable }

// Detail names the violated constraint. It never includes row values.
func (e *Error) Detail() string {
	if e == nil {
		return ""
	}
	return e.detail
}

// NotFoundError builds a not-found error for statements that affected no rows.
func NotFoundError(op string) *Error {
	return &Error{op: op, err: sql.ErrNoRows, notFound: true}
}

// WrapError annotates database errors with repository semantics. Context cancellations are passed through.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var repoErr *Error
	if errors.As(err, &repoErr) {
		return repoErr
	}

	e := &Error{op: op, err: err}
	var pqErr *pq.Error
	var netErr net.Error
	switch {
	case errors.Is(err, sql.ErrNoRows):
		e.notFound = true
	case errors.As(err, &pqErr):
		code := string(pqErr.Code)
		switch {
		case code == codeUniqueViolation:
			e.conflict = true
			e.detail = constraintDetail("duplicate value violates", pqErr.Constraint)
		case code == codeForeignKeyViolation:
			e.conflict = true
			e.detail = constraintDetail("reference violates", pqErr.Constraint)
		case code == codeSerializationFailure || code == codeDeadlockDetected:
			e.conflict = true
			e.detail = "concurrent modification"
		case strings.HasPrefix(code, classConnectionException), strings.HasPrefix(code, classInsufficientRes):
			e.unavailable = true
		}
	case errors.Is(err, driver.ErrBadConn), errors.Is(err, sql.ErrConnDone), errors.As(err, &netErr):
		e.unavailable = true
	}
	return e
}

func constraintDetail(prefix, constraint string) string {
	constraint = strings.TrimSpace(constraint)
	if constraint == "" {
		return prefix + " a constraint"
	}
	return fmt.Sprintf("%s constraint %q", prefix, constraint)
}
