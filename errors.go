package formula

import (
	"errors"
	"fmt"
)

// AppErrorCode represents gRPC-style error codes for engine-level errors.
// codes that have no meaning for an in-process engine (unauthenticated,
// permission denied, ...) are skipped.
type AppErrorCode int

const (
	// OK indicates the operation completed successfully.
	OK AppErrorCode = 0

	// Unknown error. Errors raised by collaborators that do not return enough
	// information may be converted to this error.
	Unknown AppErrorCode = 2

	// InvalidArgument indicates the caller passed a malformed address, edit
	// or name.
	InvalidArgument AppErrorCode = 3

	// NotFound means some requested entity (sheet, variable) was not found.
	NotFound AppErrorCode = 5

	// AlreadyExists means an attempt to create an entity failed because one
	// already exists.
	AlreadyExists AppErrorCode = 6

	// FailedPrecondition indicates the operation was rejected because the
	// engine is not in a state required for it, e.g. closing a batch that
	// was never opened.
	FailedPrecondition AppErrorCode = 9

	// OutOfRange means an edit was attempted past the edge of the grid.
	OutOfRange AppErrorCode = 11

	// Internal errors. Means some invariant of the engine has been broken.
	Internal AppErrorCode = 13
)

// sentinel errors, wrapped by AppError and matchable with errors.Is
var (
	ErrSheetNotFound   = errors.New("sheet not found")
	ErrSheetExists     = errors.New("sheet already exists")
	ErrInvalidAddress  = errors.New("invalid address")
	ErrInvalidEdit     = errors.New("invalid structural edit")
	ErrBatchNotOpen    = errors.New("no batch is open")
	ErrVariableMissing = errors.New("variable not found")
	ErrInvalidFunction = errors.New("invalid function declaration")
	ErrInvalidName     = errors.New("invalid variable name")
	ErrInvalidValue    = errors.New("unsupported value type")
)

// AppError represents errors at the engine API level (not formula errors,
// which are values).
type AppError struct {
	Code    AppErrorCode
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewApplicationError creates a new application error
func NewApplicationError(code AppErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// wrapError builds an AppError around a sentinel.
func wrapError(code AppErrorCode, err error, format string, args ...any) *AppError {
	return &AppError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

// ErrorCodeOf returns the AppErrorCode carried by err, Unknown for foreign
// errors and OK for nil.
func ErrorCodeOf(err error) AppErrorCode {
	if err == nil {
		return OK
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return Unknown
}
