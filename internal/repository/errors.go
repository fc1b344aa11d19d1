package repository

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/sandeepkv93/streaming-identity-core/internal/domain"
)

// Failure kinds. Every error leaving this package either is one of these
// through errors.Is or is a plain context error.
var (
	ErrUniqueViolation     = errors.New("unique constraint violation")
	ErrConstraintViolation = errors.New("constraint violation")
	ErrConnection          = errors.New("store connection failure")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrStore               = errors.New("store failure")

	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	// ErrRefreshTokenReuse is returned when an already rotated token is presented again.
	ErrRefreshTokenReuse = fmt.Errorf("%w: reuse of consumed token", ErrInvalidRefreshToken)
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
	pgNotNullViolation    = "23502"
)

type StoreError struct {
	Op   string
	Kind error
	Code string
	Err  error
}

func (e *StoreError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %v (%s): %v", e.Op, e.Kind, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *StoreError) Unwrap() []error { return []error{e.Kind, e.Err} }

func (e *StoreError) Retryable() bool { return errors.Is(e.Kind, ErrConnection) }

// IsRetryable reports whether err is a connectivity failure worth retrying.
func IsRetryable(err error) bool {
	var se *StoreError
	return errors.As(err, &se) && se.Retryable()
}

// classify maps a raw driver or gorm failure onto a failure kind.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, ErrInvalidRefreshToken) {
		return err
	}
	kind, code := kindOf(err)
	return &StoreError{Op: op, Kind: kind, Code: code, Err: err}
}

func kindOf(err error) (error, string) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == pgUniqueViolation:
			return ErrUniqueViolation, pgErr.Code
		case pgErr.Code == pgForeignKeyViolation, pgErr.Code == pgCheckViolation, pgErr.Code == pgNotNullViolation:
			return ErrConstraintViolation, pgErr.Code
		case strings.HasPrefix(pgErr.Code, "08"):
			return ErrConnection, pgErr.Code
		}
		return ErrStore, pgErr.Code
	}
	switch {
	case errors.Is(err, domain.ErrInvalidRef), errors.Is(err, domain.ErrInvalidValue), errors.Is(err, ErrInvalidArgument):
		return ErrInvalidArgument, ""
	case errors.Is(err, ErrConstraintViolation):
		return ErrConstraintViolation, ""
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrUniqueViolation, ""
	case errors.Is(err, gorm.ErrForeignKeyViolated), errors.Is(err, gorm.ErrCheckConstraintViolated):
		return ErrConstraintViolation, ""
	case errors.Is(err, driver.ErrBadConn):
		return ErrConnection, ""
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return ErrConnection, "08001"
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrConnection, ""
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "unique constraint failed"):
		return ErrUniqueViolation, ""
	case strings.Contains(msg, "foreign key constraint failed"), strings.Contains(msg, "check constraint failed"):
		return ErrConstraintViolation, ""
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "database is closed"):
		return ErrConnection, ""
	}
	return ErrStore, ""
}

func invalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

func constraintViolation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConstraintViolation, fmt.Sprintf(format, args...))
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
