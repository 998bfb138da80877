package middleware

import (
	"github.com/flexprice/usagemeter/internal/types"
	"github.com/gin-gonic/gin"
)

// ContextMiddleware copies the request id and organization headers onto the
// request context. A request id is generated when the caller sends none.
func ContextMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(types.HeaderRequestID)
		if requestID == "" {
			requestID = types.GenerateUUIDWithPrefix(types.UUID_PREFIX_REQUEST)
		}
		c.Writer.Header().Set(types.HeaderRequestID, requestID)

		ctx := types.SetRequestID(c.Request.Context(), requestID)
		if organizationID := c.GetHeader(types.HeaderOrganizationID); organizationID != "" {
			ctx = types.SetOrganizationID(ctx, organizationID)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
