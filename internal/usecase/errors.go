package usecase

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorCode string

const (
	ErrorInvalidInput ErrorCode = "INVALID_INPUT"
	ErrorNotFound     ErrorCode = "NOT_FOUND"
	ErrorBusy         ErrorCode = "BUSY"
	ErrorRateLimited  ErrorCode = "RATE_LIMITED"
	ErrorUpstream     ErrorCode = "UPSTREAM_ERROR"
	ErrorInternal     ErrorCode = "INTERNAL_ERROR"
)

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// HTTPStatus maps err to a response status and the code shown to clients.
// Anything that is not an *Error is internal.
func HTTPStatus(err error) (int, ErrorCode) {
	var ucErr *Error
	if !errors.As(err, &ucErr) || ucErr == nil {
		return http.StatusInternalServerError, ErrorInternal
	}
	switch ucErr.Code {
	case ErrorInvalidInput:
		return http.StatusBadRequest, ucErr.Code
	case ErrorNotFound:
		return http.StatusNotFound, ucErr.Code
	case ErrorBusy:
		return http.StatusConflict, ucErr.Code
	case ErrorRateLimited:
		return http.StatusTooManyRequests, ucErr.Code
	case ErrorUpstream:
		return http.StatusBadGateway, ucErr.Code
	default:
		return http.StatusInternalServerError, ErrorInternal
	}
}
