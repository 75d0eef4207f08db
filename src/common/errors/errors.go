// Package errors provides the structured error type used across opikb.
// Every failure carries the pipeline stage it happened in and a code that
// classifies it, so the driver and the run journal can report it uniformly.
package errors

import (
	"errors"
	"fmt"
)

// Code classifies a failure independently of where it happened
type Code string

// Domain names where a failure happened, usually a pipeline stage
type Domain string

// Error represents a structured error with domain and code
type Error struct {
	// Domain is the stage or subsystem that failed (e.g., "compile", "journal")
	Domain Domain `json:"domain"`

	// Code classifies the failure (e.g., "command_failed", "download")
	Code Code `json:"code"`

	// Message is a human-readable error message
	Message string `json:"message"`

	cause error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is and errors.As support
func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches on code, and on domain too when the target sets one.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Domain != "" && e.Domain != t.Domain {
		return false
	}
	return e.Code == t.Code
}

// WithCause returns a new error with the underlying cause attached
func (e *Error) WithCause(cause error) *Error {
	return &Error{
		Domain:  e.Domain,
		Code:    e.Code,
		Message: e.Message,
		cause:   cause,
	}
}

// WithMessagef returns a new error with a formatted custom message
func (e *Error) WithMessagef(format string, args ...interface{}) *Error {
	return &Error{
		Domain:  e.Domain,
		Code:    e.Code,
		Message: fmt.Sprintf(format, args...),
		cause:   e.cause,
	}
}

// New creates a new Error with the given parameters
func New(domain Domain, code Code, message string) *Error {
	return &Error{
		Domain:  domain,
		Code:    code,
		Message: message,
	}
}

// Newf creates a new Error with a formatted message
func Newf(domain Domain, code Code, format string, args ...interface{}) *Error {
	return New(domain, code, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error with an Error
func Wrap(err error, domain Domain, code Code, message string) *Error {
	return &Error{
		Domain:  domain,
		Code:    code,
		Message: message,
		cause:   err,
	}
}

// GetCode returns the error code if the error is an *Error, otherwise empty string
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// GetDomain returns the error domain if the error is an *Error, otherwise empty string
func GetDomain(err error) Domain {
	var e *Error
	if errors.As(err, &e) {
		return e.Domain
	}
	return ""
}

// Is checks if an error matches a target error (delegates to errors.Is)
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target (delegates to errors.As)
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
