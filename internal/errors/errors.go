package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents an Eidon error code.
type ErrorCode string

const (
	ErrInvalidRequest   ErrorCode = "INVALID_REQUEST"     // 400
	ErrConfiguration    ErrorCode = "CONFIGURATION_ERROR" // 400
	ErrNotFound         ErrorCode = "NOT_FOUND"           // 404
	ErrFileNotFound     ErrorCode = "FILE_NOT_FOUND"      // 404
	ErrConflict         ErrorCode = "CONFLICT"            // 409
	ErrInternal         ErrorCode = "INTERNAL"            // 500
	ErrCaptureFailed    ErrorCode = "CAPTURE_FAILED"      // 503
	ErrIndexUnavailable ErrorCode = "INDEX_UNAVAILABLE"   // 503
	ErrStorageFull      ErrorCode = "STORAGE_FULL"        // 507
)

// EidonError represents a structured error with code, status, and details.
type EidonError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
}

// Error implements the error interface.
func (e *EidonError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *EidonError {
	return &EidonError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewConfiguration creates a 400 error for settings or rules that fail validation.
// field names the offending setting (or rule kind) so callers can point at it.
func NewConfiguration(field, msg string) *EidonError {
	return &EidonError{
		Code:    ErrConfiguration,
		Status:  400,
		Message: fmt.Sprintf("%s: %s", field, msg),
		Details: map[string]any{"field": field},
	}
}

// NewNotFound creates a 404 error for a missing entry, archive or rule.
func NewNotFound(kind, identifier string) *EidonError {
	return &EidonError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("%s not found: %s", kind, identifier),
		Details: map[string]any{"kind": kind, "identifier": identifier},
	}
}

// NewFileNotFound creates a 404 error for when an import file doesn't exist.
func NewFileNotFound(path string) *EidonError {
	return &EidonError{
		Code:    ErrFileNotFound,
		Status:  404,
		Message: fmt.Sprintf("file not found: %s", path),
		Details: map[string]any{"path": path},
	}
}

// NewConflict creates a 409 error for general conflicts.
func NewConflict(msg string) *EidonError {
	return &EidonError{
		Code:    ErrConflict,
		Status:  409,
		Message: msg,
	}
}

// NewCaptureFailed creates a 503 error when the screen capture collaborator fails.
func NewCaptureFailed(err error) *EidonError {
	msg := "capture failed"
	if err != nil {
		msg = fmt.Sprintf("capture failed: %v", err)
	}
	return &EidonError{
		Code:    ErrCaptureFailed,
		Status:  503,
		Message: msg,
	}
}

// NewIndexUnavailable creates a 503 error when a search backend cannot serve a query.
func NewIndexUnavailable(reason string) *EidonError {
	return &EidonError{
		Code:    ErrIndexUnavailable,
		Status:  503,
		Message: fmt.Sprintf("search index unavailable: %s", reason),
	}
}

// NewStorageFull creates a 507 error when a write would exceed the storage quota.
func NewStorageFull(max, projected int64) *EidonError {
	return &EidonError{
		Code:    ErrStorageFull,
		Status:  507,
		Message: fmt.Sprintf("storage limit reached: %d bytes needed (max %d)", projected, max),
		Details: map[string]any{"max_bytes": max, "projected_bytes": projected},
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *EidonError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &EidonError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
	}
}

// Is checks if err (or anything it wraps) is an EidonError with the given code.
func Is(err error, code ErrorCode) bool {
	var eErr *EidonError
	if stderrors.As(err, &eErr) {
		return eErr.Code == code
	}
	return false
}

// As returns the EidonError in err's chain, if any.
func As(err error) (*EidonError, bool) {
	var eErr *EidonError
	if stderrors.As(err, &eErr) {
		return eErr, true
	}
	return nil, false
}
