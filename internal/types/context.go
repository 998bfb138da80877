package types

import "context"

// ContextKey is the type of keys stored on request contexts
type ContextKey string

const (
	CtxRequestID      ContextKey = "ctx_request_id"
	CtxOrganizationID ContextKey = "ctx_organization_id"
)

func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(CtxRequestID).(string); ok {
		return id
	}
	return ""
}

func SetRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CtxRequestID, id)
}

// GetOrganizationID returns the organization (tenant) the request acts for
func GetOrganizationID(ctx context.Context) string {
	if id, ok := ctx.Value(CtxOrganizationID).(string); ok {
		return id
	}
	return ""
}

func SetOrganizationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CtxOrganizationID, id)
}
