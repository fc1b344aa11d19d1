package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/sandeepkv93/streaming-identity-core/internal/domain"
	"github.com/sandeepkv93/streaming-identity-core/internal/repository"
)

var (
	ErrCacheUnavailable   = errors.New("cache unavailable")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserBanned         = errors.New("user is banned")
	ErrSessionNotLive     = errors.New("session is not active")
	ErrNotFound           = errors.New("not found")
)

// AppError is the caller-facing form of a failure.
type AppError struct {
	Code      string `json:"code"`
	Status    int    `json:"-"`
	Retryable bool   `json:"retryable"`
	Message   string `json:"message"`
	Err       error  `json:"-"`
}

func (e *AppError) Error() string { return e.Code + ": " + e.Message }

func (e *AppError) Unwrap() error { return e.Err }

// Translate maps store, cache and auth failures onto caller-facing codes.
func Translate(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	switch {
	case errors.Is(err, repository.ErrUniqueViolation):
		return &AppError{Code: "ALREADY_EXISTS", Status: http.StatusConflict, Message: "resource already exists", Err: err}
	case errors.Is(err, repository.ErrConstraintViolation):
		return &AppError{Code: "INVALID_RELATION", Status: http.StatusBadRequest, Message: "referenced resource is missing or inactive", Err: err}
	case errors.Is(err, repository.ErrInvalidArgument), errors.Is(err, domain.ErrInvalidValue), errors.Is(err, domain.ErrInvalidRef):
		return &AppError{Code: "BAD_INPUT", Status: http.StatusBadRequest, Message: err.Error(), Err: err}
	case repository.IsRetryable(err), errors.Is(err, repository.ErrConnection), errors.Is(err, ErrCacheUnavailable), errors.Is(err, context.DeadlineExceeded):
		return &AppError{Code: "UNAVAILABLE", Status: http.StatusServiceUnavailable, Retryable: true, Message: "dependency unavailable, retry later", Err: err}
	case errors.Is(err, repository.ErrInvalidRefreshToken), errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrSessionNotLive):
		return &AppError{Code: "UNAUTHENTICATED", Status: http.StatusUnauthorized, Message: "authentication failed", Err: err}
	case errors.Is(err, ErrUserBanned):
		return &AppError{Code: "FORBIDDEN", Status: http.StatusForbidden, Message: "user is banned", Err: err}
	case errors.Is(err, ErrNotFound):
		return &AppError{Code: "NOT_FOUND", Status: http.StatusNotFound, Message: err.Error(), Err: err}
	}
	return &AppError{Code: "INTERNAL", Status: http.StatusInternalServerError, Message: "internal error", Err: err}
}

// cacheError folds connectivity, auth and breaker failures into
// ErrCacheUnavailable. A cache miss is not an error.
func cacheError(op string, err error) error {
	if err == nil || errors.Is(err, redis.Nil) {
		return nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) || errors.Is(err, redis.ErrClosed) {
		return fmt.Errorf("%s: %w: %w", op, ErrCacheUnavailable, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%s: %w: %w", op, ErrCacheUnavailable, err)
	}
	msg := err.Error()
	if strings.HasPrefix(msg, "NOAUTH") || strings.HasPrefix(msg, "WRONGPASS") || strings.Contains(msg, "connection refused") {
		return fmt.Errorf("%s: %w: %w", op, ErrCacheUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
