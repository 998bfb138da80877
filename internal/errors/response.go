package errors

import (
	"net/http"

	"github.com/cockroachdb/errors"
)

// ErrorResponse is the error body returned by the HTTP API
type ErrorResponse struct {
	Success bool        `json:"success"`
	Error   ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code          string                 `json:"code"`
	Display       string                 `json:"message"`
	InternalError string                 `json:"internal_error,omitempty"`
	Details       map[string]interface{} `json:"details,omitempty"`
	Retryable     bool                   `json:"retryable"`
}

// NewErrorResponse builds the API representation of err
func NewErrorResponse(err error) ErrorResponse {
	display := GetHint(err)
	if display == "" {
		display = "An unexpected error occurred"
	}

	details := GetReportableDetails(err)
	if len(details) == 0 {
		details = nil
	}

	return ErrorResponse{
		Success: false,
		Error: ErrorDetail{
			Code:          Code(err),
			Display:       display,
			InternalError: errors.UnwrapAll(err).Error(),
			Details:       details,
			Retryable:     IsRetryable(err),
		},
	}
}

// HTTPStatusFromErr maps marked errors to HTTP status codes
func HTTPStatusFromErr(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidBoundary),
		errors.Is(err, ErrValidation),
		errors.Is(err, ErrInvalidOperation):
		return http.StatusBadRequest
	case errors.Is(err, ErrAmbiguousFilterMatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, ErrStoreUnavailable), errors.Is(err, ErrDatabase):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
