// Package errors defines the coded error type shared by the update engine.
//
// Every fatal condition raised during an update pass is an *UpdateError
// carrying one of the codes below, the install-relative path of the file
// involved (when there is one) and the step that failed. Callers branch on
// the code with IsErrorCode or errors.Is against a bare *UpdateError.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode identifies an error kind.
type ErrorCode string

const (
	ErrUnknown      ErrorCode = "UNKNOWN"
	ErrInvalidInput ErrorCode = "INVALID_INPUT"
	ErrConfig       ErrorCode = "CONFIG"

	// ErrManifestRejected is raised before any work when the manifest
	// declares an unsupported format version or is internally inconsistent.
	ErrManifestRejected ErrorCode = "MANIFEST_REJECTED"
	// ErrTransport covers network and I/O failures while fetching. It is
	// the only retryable code.
	ErrTransport ErrorCode = "TRANSPORT"
	// ErrVerification is a digest or signature mismatch.
	ErrVerification ErrorCode = "VERIFICATION"
	// ErrDeploy is any failure writing a file into the installation.
	ErrDeploy ErrorCode = "DEPLOY"
	// ErrPersist is a failure writing the version cache or ledger at commit.
	ErrPersist ErrorCode = "PERSIST"
	// ErrCancelled marks a cooperative cancellation. Nothing was committed.
	ErrCancelled ErrorCode = "CANCELLED"
)

// UpdateError is a structured error with a code, the file and step involved.
type UpdateError struct {
	Code    ErrorCode
	Message string
	Path    string
	Step    string
	Wrapped error
}

// Error implements the error interface.
func (e *UpdateError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements the errors.Unwrap interface.
func (e *UpdateError) Unwrap() error {
	return e.Wrapped
}

// Is reports whether target is an *UpdateError with the same code.
func (e *UpdateError) Is(target error) bool {
	var targetErr *UpdateError
	if errors.As(target, &targetErr) {
		return e.Code == targetErr.Code
	}
	return false
}

// WithPath records the install-relative path of the file involved.
func (e *UpdateError) WithPath(path string) *UpdateError {
	e.Path = path
	return e
}

// WithStep records the update step that failed.
func (e *UpdateError) WithStep(step string) *UpdateError {
	e.Step = step
	return e
}

// New creates a new UpdateError with the given code and message.
func New(code ErrorCode, message string) *UpdateError {
	return &UpdateError{Code: code, Message: message}
}

// Newf creates a new UpdateError with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *UpdateError {
	return &UpdateError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps err with the given code and message. A nil err returns nil.
func Wrap(err error, code ErrorCode, message string) *UpdateError {
	if err == nil {
		return nil
	}
	return &UpdateError{Code: code, Message: message, Wrapped: err}
}

// Wrapf wraps err with a formatted message. A nil err returns nil.
func Wrapf(err error, code ErrorCode, format string, args ...interface{}) *UpdateError {
	if err == nil {
		return nil
	}
	return &UpdateError{Code: code, Message: fmt.Sprintf(format, args...), Wrapped: err}
}

// IsErrorCode checks if an error has a specific error code.
func IsErrorCode(err error, code ErrorCode) bool {
	var updateErr *UpdateError
	if errors.As(err, &updateErr) {
		return updateErr.Code == code
	}
	return false
}

// GetErrorCode returns the error code from an error, or ErrUnknown.
func GetErrorCode(err error) ErrorCode {
	var updateErr *UpdateError
	if errors.As(err, &updateErr) {
		return updateErr.Code
	}
	return ErrUnknown
}

// IsRetryable reports whether a fetch failing with err may be attempted again.
// Only transport failures qualify; verification failures never do.
func IsRetryable(err error) bool {
	return IsErrorCode(err, ErrTransport)
}
