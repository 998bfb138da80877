package errors

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// ErrorBuilder assembles an error step by step:
//
//	ierr.WithError(err).
//		WithHint("Failed to query events").
//		Mark(ierr.ErrDatabase)
type ErrorBuilder struct {
	err error
}

func NewError(msg string) *ErrorBuilder {
	return &ErrorBuilder{err: errors.NewWithDepth(1, msg)}
}

func NewErrorf(format string, args ...interface{}) *ErrorBuilder {
	return &ErrorBuilder{err: errors.NewWithDepthf(1, format, args...)}
}

func WithError(err error) *ErrorBuilder {
	if err == nil {
		err = errors.NewWithDepth(1, "unknown error")
	}
	return &ErrorBuilder{err: err}
}

func (b *ErrorBuilder) WithMessage(msg string) *ErrorBuilder {
	b.err = errors.WithMessage(b.err, msg)
	return b
}

func (b *ErrorBuilder) WithHint(hint string) *ErrorBuilder {
	b.err = errors.WithHint(b.err, hint)
	return b
}

func (b *ErrorBuilder) WithHintf(format string, args ...interface{}) *ErrorBuilder {
	b.err = errors.WithHint(b.err, fmt.Sprintf(format, args...))
	return b
}

// WithReportableDetails attaches details that are safe to return to the caller
func (b *ErrorBuilder) WithReportableDetails(details map[string]interface{}) *ErrorBuilder {
	b.err = &detailsError{cause: b.err, details: details}
	return b
}

// Mark marks the error with a sentinel and returns it
func (b *ErrorBuilder) Mark(reference error) error {
	return errors.Mark(b.err, reference)
}

// Err returns the error without marking it
func (b *ErrorBuilder) Err() error {
	return b.err
}

type detailsError struct {
	cause   error
	details map[string]interface{}
}

func (e *detailsError) Error() string { return e.cause.Error() }
func (e *detailsError) Unwrap() error { return e.cause }

// GetReportableDetails merges all reportable details attached along the chain
func GetReportableDetails(err error) map[string]interface{} {
	details := make(map[string]interface{})
	for err != nil {
		var de *detailsError
		if !errors.As(err, &de) {
			break
		}
		for k, v := range de.details {
			if _, exists := details[k]; !exists {
				details[k] = v
			}
		}
		err = de.cause
	}
	return details
}

// GetHint returns the flattened hints of the error chain
func GetHint(err error) string {
	return errors.FlattenHints(err)
}
