// Package errors provides structured error types for the replay service and
// its load harness. Every error carries a category, a code and a message so
// that transports and the harness can classify failures without string
// matching.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by the component that raised them.
type ErrorCategory string

const (
	ErrCategoryRequest    ErrorCategory = "REQUEST"
	ErrCategoryLookup     ErrorCategory = "LOOKUP"
	ErrCategoryTransport  ErrorCategory = "TRANSPORT"
	ErrCategoryValidation ErrorCategory = "VALIDATION"
	ErrCategoryDataset    ErrorCategory = "DATASET"
	ErrCategoryStorage    ErrorCategory = "STORAGE"
	ErrCategoryConfig     ErrorCategory = "CONFIG"
	ErrCategoryInternal   ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Request codes
	CodeInvalidRequest = "INVALID_REQUEST"

	// Lookup codes
	CodeKeyNotFound = "KEY_NOT_FOUND"

	// Transport codes
	CodeTransportFailed = "TRANSPORT_FAILED"

	// Validation codes
	CodeContentMismatch = "CONTENT_MISMATCH"
	CodeRoleMismatch    = "ROLE_MISMATCH"

	// Dataset codes
	CodeDatasetParse   = "DATASET_PARSE"
	CodeDatasetMissing = "DATASET_MISSING"

	// Storage codes
	CodeDownloadFailed = "DOWNLOAD_FAILED"
	CodeObjectNotFound = "OBJECT_NOT_FOUND"

	// Config codes
	CodeInvalidConfig = "INVALID_CONFIG"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// ReplayError is the structured error type used throughout the system.
type ReplayError struct {
	Category ErrorCategory
	Code     string
	Message  string
	Details  map[string]interface{}
	Cause    error
}

// Error returns a formatted error string.
func (e *ReplayError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *ReplayError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *ReplayError) Is(target error) bool {
	var t *ReplayError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new ReplayError.
func New(category ErrorCategory, code, message string) *ReplayError {
	return &ReplayError{
		Category: category,
		Code:     code,
		Message:  message,
	}
}

// Wrap creates a new ReplayError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *ReplayError {
	return &ReplayError{
		Category: category,
		Code:     code,
		Message:  message,
		Cause:    cause,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *ReplayError) WithDetails(details map[string]interface{}) *ReplayError {
	cp := *e
	cp.Details = details
	return &cp
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a ReplayError.
func GetCategory(err error) ErrorCategory {
	var re *ReplayError
	if errors.As(err, &re) {
		return re.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a ReplayError.
func GetCode(err error) string {
	var re *ReplayError
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}

// IsNotFound reports whether err should surface as the not-found response.
// Invalid requests and genuine misses are indistinguishable to callers.
func IsNotFound(err error) bool {
	switch GetCode(err) {
	case CodeKeyNotFound, CodeInvalidRequest:
		return true
	}
	return false
}

// Sentinels for errors.Is comparisons. Only category and code are compared.
var (
	ErrInvalidRequest  = New(ErrCategoryRequest, CodeInvalidRequest, "invalid request")
	ErrKeyNotFound     = New(ErrCategoryLookup, CodeKeyNotFound, "key not found")
	ErrTransport       = New(ErrCategoryTransport, CodeTransportFailed, "transport failed")
	ErrContentMismatch = New(ErrCategoryValidation, CodeContentMismatch, "content mismatch")
	ErrRoleMismatch    = New(ErrCategoryValidation, CodeRoleMismatch, "role mismatch")
	ErrDatasetMissing  = New(ErrCategoryDataset, CodeDatasetMissing, "dataset missing")
)

// Convenience constructors for common errors.

func NewInvalidRequest(message string) *ReplayError {
	return New(ErrCategoryRequest, CodeInvalidRequest, message)
}

func NewKeyNotFound(message string) *ReplayError {
	return New(ErrCategoryLookup, CodeKeyNotFound, message)
}

func NewTransportError(message string, cause error) *ReplayError {
	return Wrap(ErrCategoryTransport, CodeTransportFailed, message, cause)
}

func NewValidationError(code, message string) *ReplayError {
	return New(ErrCategoryValidation, code, message)
}

func NewDatasetError(code, message string, cause error) *ReplayError {
	return Wrap(ErrCategoryDataset, code, message, cause)
}

func NewStorageError(code, message string, cause error) *ReplayError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewConfigError(message string) *ReplayError {
	return New(ErrCategoryConfig, CodeInvalidConfig, message)
}

func NewInternalError(message string, cause error) *ReplayError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
