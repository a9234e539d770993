package api

import (
	"errors"
	"fmt"

	"github.com/trendmind/trendmind/internal/orchestrator"
	"github.com/trendmind/trendmind/internal/trending"
)

// Application error codes, in the JSON-RPC server error range.
const (
	ErrNotFound      = -32004
	ErrJobInFlight   = -32010
	ErrSchedulerIdle = -32011
)

// Error represents an API error
type Error struct {
	Code    int
	Message string
}

// NewError creates a new API error
func NewError(code int, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// InvalidParams builds an ErrInvalidParams error.
func InvalidParams(format string, args ...interface{}) *Error {
	return NewError(ErrInvalidParams, fmt.Sprintf(format, args...))
}

// Error implements the error interface
func (e *Error) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Code, e.Message)
}

// classify maps a handler error to a JSON-RPC code and message.
func classify(err error) (int, string) {
	var apiErr *Error
	switch {
	case errors.As(err, &apiErr):
		switch apiErr.Code {
		case ErrInvalidParams:
			return apiErr.Code, "Invalid params"
		case ErrNotFound:
			return apiErr.Code, "Not found"
		}
		return apiErr.Code, "Server error"
	case errors.Is(err, trending.ErrInvalidPeriod), errors.Is(err, orchestrator.ErrUnknownKind):
		return ErrInvalidParams, "Invalid params"
	case errors.Is(err, trending.ErrTopicNotFound):
		return ErrNotFound, "Not found"
	case errors.Is(err, orchestrator.ErrJobInFlight):
		return ErrJobInFlight, "Job already in flight"
	case errors.Is(err, orchestrator.ErrNotRunning):
		return ErrSchedulerIdle, "Scheduler not running"
	}
	return ErrServerError, "Server error"
}
