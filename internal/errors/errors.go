package errors

import (
	"fmt"
)

// DirError is the structured error type for the directory indexer.
// It provides context for error handling, logging, and the diagnostic
// messages accumulated by the index executor.
type DirError struct {
	// Code is the unique error code (e.g., "ERR_302_PROVIDER_UNAVAILABLE").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, IO, Provider, ...).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool
}

// Error implements the error interface.
func (e *DirError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *DirError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
func (e *DirError) Is(target error) bool {
	if t, ok := target.(*DirError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *DirError) WithDetail(key, value string) *DirError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates a new DirError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *DirError {
	return &DirError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a DirError from an existing error.
// The error's message becomes the DirError message.
func Wrap(code string, err error) *DirError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *DirError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// ProviderError creates an upstream-provider error.
// Provider errors are typically retryable.
func ProviderError(message string, cause error) *DirError {
	return New(ErrCodeProviderUnavailable, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *DirError {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *DirError {
	return New(ErrCodeInternal, message, cause)
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if de, ok := err.(*DirError); ok {
		return de.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
// Fatal errors indicate a programming-invariant violation; the single
// operation aborts but the process keeps running.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if de, ok := err.(*DirError); ok {
		return de.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from a DirError.
// Returns empty string if not a DirError.
func GetCode(err error) string {
	if de, ok := err.(*DirError); ok {
		return de.Code
	}
	return ""
}
