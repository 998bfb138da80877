// Package errors provides the error taxonomy used across the metering engine.
// It wraps cockroachdb/errors so every error carries a stable sentinel mark,
// an optional user-facing hint and optional reportable details.
package errors

import (
	"github.com/cockroachdb/errors"
)

// Error codes exposed to callers
const (
	ErrCodeNotFound             = "not_found"
	ErrCodeAlreadyExists        = "already_exists"
	ErrCodeValidation           = "validation_error"
	ErrCodeInvalidOperation     = "invalid_operation"
	ErrCodePermissionDenied     = "permission_denied"
	ErrCodeInternal             = "internal_error"
	ErrCodeDatabase             = "database_error"
	ErrCodeSystem               = "system_error"
	ErrCodeInvalidBoundary      = "invalid_boundary"
	ErrCodeAmbiguousFilterMatch = "ambiguous_filter_match"
	ErrCodeAmbiguousDuplicate   = "ambiguous_duplicate"
	ErrCodeStoreUnavailable     = "store_unavailable"
)

var (
	ErrNotFound         = new(ErrCodeNotFound, "resource not found")
	ErrAlreadyExists    = new(ErrCodeAlreadyExists, "resource already exists")
	ErrValidation       = new(ErrCodeValidation, "validation error")
	ErrInvalidOperation = new(ErrCodeInvalidOperation, "invalid operation")
	ErrPermissionDenied = new(ErrCodePermissionDenied, "permission denied")
	ErrInternal         = new(ErrCodeInternal, "internal error")
	ErrDatabase         = new(ErrCodeDatabase, "database error")
	ErrSystem           = new(ErrCodeSystem, "system error")

	// ErrInvalidBoundary is fatal and raised before any store access.
	ErrInvalidBoundary = new(ErrCodeInvalidBoundary, "invalid billing boundary")

	// ErrAmbiguousFilterMatch is raised when several charge filters are equally specific
	// for the same event. It changes the billed price so it is never resolved silently.
	ErrAmbiguousFilterMatch = new(ErrCodeAmbiguousFilterMatch, "ambiguous charge filter match")

	// ErrAmbiguousDuplicate marks data-quality warnings about transaction id duplicates
	// that share the same enrichment timestamp but carry different amounts.
	ErrAmbiguousDuplicate = new(ErrCodeAmbiguousDuplicate, "ambiguous duplicate event")

	// ErrStoreUnavailable wraps backend I/O failures. Callers may retry.
	ErrStoreUnavailable = new(ErrCodeStoreUnavailable, "event store unavailable")
)

// InternalError is the sentinel type every error in the system is marked with
type InternalError struct {
	Code    string
	Message string
}

func (e *InternalError) Error() string {
	return e.Message
}

func new(code string, message string) *InternalError {
	return &InternalError{Code: code, Message: message}
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

func IsInvalidBoundary(err error) bool {
	return errors.Is(err, ErrInvalidBoundary)
}

func IsAmbiguousFilterMatch(err error) bool {
	return errors.Is(err, ErrAmbiguousFilterMatch)
}

func IsAmbiguousDuplicate(err error) bool {
	return errors.Is(err, ErrAmbiguousDuplicate)
}

func IsDatabase(err error) bool {
	return errors.Is(err, ErrDatabase)
}

// IsRetryable reports whether the failure came from the store I/O layer.
// Aggregation logic itself never retries; retrying is the caller's decision.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrDatabase)
}

// Code returns the error code of the first sentinel the error is marked with
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, sentinel := range []*InternalError{
		ErrInvalidBoundary,
		ErrAmbiguousFilterMatch,
		ErrAmbiguousDuplicate,
		ErrStoreUnavailable,
		ErrNotFound,
		ErrAlreadyExists,
		ErrValidation,
		ErrInvalidOperation,
		ErrPermissionDenied,
		ErrDatabase,
		ErrSystem,
		ErrInternal,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Code
		}
	}
	return ErrCodeInternal
}
