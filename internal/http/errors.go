package http

import (
	"context"
	"errors"
	"net/http"

	"kakeibo/internal/core"
	"kakeibo/internal/snapshot"
)

// AppError is the JSON error body returned by every handler.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Field      string `json:"field,omitempty"`
	StatusCode int    `json:"-"`
	Internal   error  `json:"-"`
}

func (e *AppError) Error() string { return e.Message }

func (e *AppError) Unwrap() error { return e.Internal }

var (
	ErrUnauthorized   = &AppError{Code: "UNAUTHORIZED", Message: "Missing X-User-ID header", StatusCode: http.StatusUnauthorized}
	ErrInvalidInput   = &AppError{Code: "INVALID_INPUT", Message: "Invalid request data", StatusCode: http.StatusBadRequest}
	ErrValidation     = &AppError{Code: "VALIDATION_ERROR", Message: "Invalid request data", StatusCode: http.StatusBadRequest}
	ErrNotFound       = &AppError{Code: "NOT_FOUND", Message: "Resource not found", StatusCode: http.StatusNotFound}
	ErrConflict       = &AppError{Code: "CONFLICT", Message: "Resource already exists", StatusCode: http.StatusConflict}
	ErrNotPersisted   = &AppError{Code: "NOT_PERSISTED", Message: "Change applied but not saved to remote storage", StatusCode: http.StatusInternalServerError}
	ErrRemote         = &AppError{Code: "REMOTE_UNAVAILABLE", Message: "Remote storage is unavailable", StatusCode: http.StatusBadGateway}
	ErrCorruptImage   = &AppError{Code: "REMOTE_CORRUPT", Message: "Remote ledger image is not a valid database", StatusCode: http.StatusBadGateway}
	ErrNotReady       = &AppError{Code: "NOT_READY", Message: "Ledger is not ready", StatusCode: http.StatusServiceUnavailable}
	ErrTimeout        = &AppError{Code: "TIMEOUT", Message: "Request timed out", StatusCode: http.StatusGatewayTimeout}
	ErrInternalServer = &AppError{Code: "INTERNAL_ERROR", Message: "An internal error occurred", StatusCode: http.StatusInternalServerError}
)

// Wrap creates a new AppError with the same code, message and status that
// wraps an internal error.
func Wrap(sentinel *AppError, internal error) *AppError {
	return &AppError{
		Code:       sentinel.Code,
		Message:    sentinel.Message,
		StatusCode: sentinel.StatusCode,
		Internal:   internal,
	}
}

func WithMessage(sentinel *AppError, message string) *AppError {
	e := Wrap(sentinel, sentinel.Internal)
	e.Message = message
	return e
}

// FromError maps ledger errors to their HTTP representation. A persist
// failure is checked first: it may also wrap a remote error.
func FromError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	var verr *core.ValidationError
	switch {
	case errors.As(err, &verr):
		e := WithMessage(ErrValidation, verr.Error())
		e.Field = verr.Field
		e.Internal = err
		return e
	case errors.Is(err, core.ErrNotPersisted):
		return Wrap(ErrNotPersisted, err)
	case errors.Is(err, core.ErrNotFound):
		return Wrap(ErrNotFound, err)
	case errors.Is(err, core.ErrConflict):
		return Wrap(ErrConflict, err)
	case errors.Is(err, snapshot.ErrCorrupt):
		return Wrap(ErrCorruptImage, err)
	case errors.Is(err, core.ErrRemote):
		return Wrap(ErrRemote, err)
	case errors.Is(err, core.ErrNotInitialized):
		return Wrap(ErrNotReady, err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return Wrap(ErrTimeout, err)
	default:
		return Wrap(ErrInternalServer, err)
	}
}
