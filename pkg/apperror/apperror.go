// Package apperror provides classified errors returned by the session,
// recording and export services.
package apperror

import (
	"errors"
	"net/http"
)

// Code is a machine-readable error code.
type Code string

const (
	CodeNotFound       Code = "NOT_FOUND"
	CodeInvalidInput   Code = "INVALID_INPUT"
	CodeNoRecordings   Code = "NO_RECORDINGS"
	CodeConflict       Code = "CONFLICT"
	CodeEncodeFailure  Code = "ENCODE_FAILURE"
	CodeStorageFailure Code = "STORAGE_FAILURE"
	CodeExportError    Code = "EXPORT_ERROR"
	CodeOperationError Code = "OPERATION_ERROR"
)

// Error is a classified error. Reason narrows the code for callers that want
// it, e.g. SESSION_NOT_FOUND under CodeNotFound.
type Error struct {
	Code    Code
	Reason  string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// Sentinels for errors.Is checks.
var (
	ErrNotFound       = &Error{Code: CodeNotFound}
	ErrInvalidInput   = &Error{Code: CodeInvalidInput}
	ErrNoRecordings   = &Error{Code: CodeNoRecordings}
	ErrConflict       = &Error{Code: CodeConflict}
	ErrEncodeFailure  = &Error{Code: CodeEncodeFailure}
	ErrStorageFailure = &Error{Code: CodeStorageFailure}
	ErrExportError    = &Error{Code: CodeExportError}
	ErrOperationError = &Error{Code: CodeOperationError}
)

func New(code Code, reason, message string) *Error {
	return &Error{Code: code, Reason: reason, Message: message}
}

func Wrap(code Code, reason, message string, cause error) *Error {
	return &Error{Code: code, Reason: reason, Message: message, Cause: cause}
}

func NotFound(reason, message string) *Error {
	return New(CodeNotFound, reason, message)
}

func InvalidInput(message string) *Error {
	return New(CodeInvalidInput, "VALIDATION_ERROR", message)
}

func Conflict(reason, message string) *Error {
	return New(CodeConflict, reason, message)
}

func Storage(message string, cause error) *Error {
	return Wrap(CodeStorageFailure, "DATABASE_ERROR", message, cause)
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsClient reports whether err carries a code the caller can act on
// (the request itself was wrong, or the resource state forbids it).
func IsClient(err error) bool {
	appErr, ok := As(err)
	if !ok {
		return false
	}
	switch appErr.Code {
	case CodeNotFound, CodeInvalidInput, CodeNoRecordings, CodeConflict:
		return true
	}
	return false
}

// Classify returns err unchanged when it is already classified, otherwise
// wraps it under code.
func Classify(err error, code Code, reason, message string) error {
	if err == nil {
		return nil
	}
	if _, ok := As(err); ok {
		return err
	}
	return Wrap(code, reason, message, err)
}

// HTTPStatus maps a code to the status the routing layer should answer with.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeInvalidInput, CodeNoRecordings:
		return http.StatusBadRequest
	case CodeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
