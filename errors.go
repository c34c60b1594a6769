/*
Package itemstore – error types.
*/
package itemstore

import (
	"errors"
	"fmt"
)

// ErrorCode is a well-known error category string.
type ErrorCode string

const (
	// Conditional write/update guards that did not hold.
	ErrItemNotFound       ErrorCode = "ItemNotFound"
	ErrPreconditionFailed ErrorCode = "PreconditionFailed"

	// Caller programming errors, raised before any transport call.
	ErrConflictingFieldOperation ErrorCode = "ConflictingFieldOperation"
	ErrEmptyUpdate               ErrorCode = "EmptyUpdate"
	ErrUnsupportedValueType      ErrorCode = "UnsupportedValueType"
	ErrInvalidFieldPath          ErrorCode = "InvalidFieldPath"
	ErrInvalidKey                ErrorCode = "InvalidKey"
	ErrInvalidFilter             ErrorCode = "InvalidFilter"
	ErrInvalidPageToken          ErrorCode = "InvalidPageToken"

	// Schema lifecycle errors.
	ErrTableNotFound      ErrorCode = "TableNotFound"
	ErrTableAlreadyExists ErrorCode = "TableAlreadyExists"
)

// StoreError carries an error Code plus a free-form Context map with extra
// debugging data. Transport errors that do not map onto a code are never
// wrapped in a StoreError; they propagate verbatim.
type StoreError struct {
	Message string
	Code    ErrorCode
	Context map[string]any
	Cause   error
}

func (e *StoreError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("[%s] %s", e.Code, e.Message)
	}
	return e.Message
}

func (e *StoreError) Unwrap() error { return e.Cause }

// NewError constructs a StoreError.
func NewError(code ErrorCode, msg string, opts ...func(*StoreError)) *StoreError {
	err := &StoreError{Message: msg, Code: code}
	for _, o := range opts {
		o(err)
	}
	return err
}

// WithContext attaches a context map.
func WithContext(ctx map[string]any) func(*StoreError) {
	return func(e *StoreError) { e.Context = ctx }
}

// WithCause wraps an underlying error.
func WithCause(cause error) func(*StoreError) {
	return func(e *StoreError) { e.Cause = cause }
}

// CodeOf returns the ErrorCode carried by err, or "" for nil errors and for
// transport errors passed through from the underlying client.
func CodeOf(err error) ErrorCode {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}
