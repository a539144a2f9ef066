package errors

import (
	"fmt"
)

// CatalogError is the structured error type for gridcat.
// It provides rich context for error handling, logging, and user presentation.
type CatalogError struct {
	// Code is the unique error code (e.g., "ERR_202_FILE_UNPARSABLE").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, File, Catalog, etc.).
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
func (e *CatalogError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *CatalogError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with CatalogError.
func (e *CatalogError) Is(target error) bool {
	if t, ok := target.(*CatalogError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *CatalogError) WithDetail(key, value string) *CatalogError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates a new CatalogError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *CatalogError {
	return &CatalogError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a CatalogError from an existing error.
// The error's message becomes the CatalogError message.
func Wrap(code string, err error) *CatalogError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// Unreadable creates a file-unreadable error (permission or IO failure).
func Unreadable(path string, cause error) *CatalogError {
	return New(ErrCodeFileUnreadable, fmt.Sprintf("cannot read %s", path), cause).
		WithDetail("path", path)
}

// Unparsable creates a file-unparsable error (corrupt or malformed header).
func Unparsable(path string, cause error) *CatalogError {
	return New(ErrCodeFileUnparsable, fmt.Sprintf("cannot parse %s", path), cause).
		WithDetail("path", path)
}

// Corruption creates a fatal catalog corruption error.
// The current update transaction must be rolled back in full.
func Corruption(message string, cause error) *CatalogError {
	return New(ErrCodeCatalogCorrupt, message, cause)
}

// InvalidQuery creates a query validation error.
func InvalidQuery(message string, cause error) *CatalogError {
	return New(ErrCodeInvalidQuery, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *CatalogError {
	return New(ErrCodeInternal, message, cause)
}

// IsRetryable checks if an error is retryable.
// Returns true if the error is a CatalogError with Retryable flag set.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if ce, ok := err.(*CatalogError); ok {
		return ce.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
// Fatal errors abort the current update transaction.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if ce, ok := err.(*CatalogError); ok {
		return ce.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from a CatalogError.
// Returns empty string if not a CatalogError.
func GetCode(err error) string {
	if ce, ok := err.(*CatalogError); ok {
		return ce.Code
	}
	return ""
}

// GetCategory extracts the category from a CatalogError.
// Returns empty string if not a CatalogError.
func GetCategory(err error) Category {
	if ce, ok := err.(*CatalogError); ok {
		return ce.Category
	}
	return ""
}
