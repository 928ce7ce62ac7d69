// Package errors defines the error taxonomy shared by the ingestion pipeline,
// the post stores, and the HTTP layer.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrValidation marks bad user input. Nothing was fetched or written.
	ErrValidation = errors.New("invalid input")
	// ErrSearchUnavailable marks any failure of the remote search call.
	ErrSearchUnavailable = errors.New("search unavailable")
	// ErrDuplicateKey marks an insert whose post id is already stored.
	ErrDuplicateKey = errors.New("post already exists")
	// ErrStorage marks any persistence fault other than a duplicate id.
	ErrStorage  = errors.New("storage error")
	ErrNotFound = errors.New("not found")
	ErrTimeout  = errors.New("operation timed out")
)

// AppError attaches a user-facing message and HTTP status to a sentinel.
// Cause, when set, is the underlying error and stays reachable through
// errors.Is and errors.As.
type AppError struct {
	Err        error
	Message    string
	StatusCode int
	Cause      error
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// Wrap classifies cause under sentinel, keeping cause's text verbatim as the
// message.
func Wrap(sentinel error, statusCode int, cause error) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    cause.Error(),
		StatusCode: statusCode,
		Cause:      cause,
	}
}

// SearchUnavailable wraps a search client failure.
func SearchUnavailable(cause error) *AppError {
	return Wrap(ErrSearchUnavailable, http.StatusBadGateway, cause)
}

// Storage wraps a non-duplicate persistence failure.
func Storage(cause error) *AppError {
	return Wrap(ErrStorage, http.StatusInternalServerError, cause)
}

// UserMessage returns the text shown to a user for err: the AppError message
// when there is one, otherwise err's own text.
func UserMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.StatusCode != 0 {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrDuplicateKey):
		return http.StatusConflict
	case errors.Is(err, ErrSearchUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
