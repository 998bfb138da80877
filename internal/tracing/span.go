// Package tracing holds the sentry span helpers shared by repositories and caches.
package tracing

import (
	"context"

	"github.com/getsentry/sentry-go"
)

// StartRepositorySpan creates a span for a repository operation.
// Returns nil if Sentry is not available in the context.
func StartRepositorySpan(ctx context.Context, repository, operation string, params map[string]interface{}) *sentry.Span {
	return startSpan(ctx, "repository", "db.query", repository, operation, params)
}

// StartCacheSpan creates a span for a cache operation
func StartCacheSpan(ctx context.Context, cache, operation string, params map[string]interface{}) *sentry.Span {
	return startSpan(ctx, "cache", "db.cache", cache, operation, params)
}

func startSpan(ctx context.Context, kind, op, name, operation string, params map[string]interface{}) *sentry.Span {
	if sentry.GetHubFromContext(ctx) == nil {
		return nil
	}

	span := sentry.StartSpan(ctx, op)
	span.Description = kind + "." + name + "." + operation
	span.SetData(kind, name)
	span.SetData("operation", operation)
	for k, v := range params {
		span.SetData(k, v)
	}
	return span
}

// FinishSpan safely finishes a span, handling nil spans
func FinishSpan(span *sentry.Span) {
	if span != nil {
		span.Finish()
	}
}

// SetSpanError marks a span as failed and adds error information
func SetSpanError(span *sentry.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.Status = sentry.SpanStatusInternalError
	span.SetData("error", err.Error())
}

// SetSpanSuccess marks a span as successful
func SetSpanSuccess(span *sentry.Span) {
	if span != nil {
		span.Status = sentry.SpanStatusOK
	}
}
