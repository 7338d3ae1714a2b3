package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrNotFound     = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden    = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict     = New("CONFLICT", http.StatusConflict, "conflict")
	ErrValidation   = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal     = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrCacheMiss    = New("CACHE_MISS", http.StatusNotFound, "cache miss")
)

// Calendar operation errors with stable codes consumed by clients.
var (
	ErrConcurrentModification = New("CONCURRENT_MODIFICATION", http.StatusPreconditionFailed, "the object was modified in the meantime")
	ErrInvalidSplit           = New("INVALID_SPLIT", http.StatusBadRequest, "the series cannot be split at this point")
	ErrMoveSeriesUnsupported  = New("MOVE_SERIES_NOT_SUPPORTED", http.StatusBadRequest, "moving an event series between folders is not supported")
	ErrMoveOccurrenceUnsup    = New("MOVE_OCCURRENCE_NOT_SUPPORTED", http.StatusBadRequest, "moving an occurrence of an event series is not supported")
	ErrUIDConflict            = New("UID_CONFLICT", http.StatusConflict, "an event with the same uid exists already")
	ErrInvalidCalendarUser    = New("INVALID_CALENDAR_USER", http.StatusBadRequest, "invalid calendar user")
	ErrForbiddenOrganizer     = New("FORBIDDEN_ORGANIZER_CHANGE", http.StatusForbidden, "the organizer of this event cannot be changed")
	ErrFolderNotFound         = New("FOLDER_NOT_FOUND", http.StatusNotFound, "folder not found")
	ErrTooManyOccurrences     = New("TOO_MANY_OCCURRENCES", http.StatusBadRequest, "too many occurrences in requested range")
	ErrInvalidRRule           = New("INVALID_RRULE", http.StatusBadRequest, "invalid recurrence rule")
	ErrNoPermission           = New("NO_PERMISSION", http.StatusForbidden, "insufficient folder permissions")
	ErrUnsupportedClass       = New("UNSUPPORTED_CLASSIFICATION", http.StatusBadRequest, "classification not allowed in target folder")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// Is reports whether err carries the same stable code as target.
func Is(err error, target *Error) bool {
	if err == nil || target == nil {
		return false
	}
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == target.Code
}
