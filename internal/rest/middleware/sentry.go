package middleware

import (
	"time"

	"github.com/flexprice/usagemeter/internal/config"
	"github.com/flexprice/usagemeter/internal/types"
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-gonic/gin"
)

// SentryMiddleware captures panics and request spans when sentry is enabled
func SentryMiddleware(cfg *config.Configuration) gin.HandlerFunc {
	if !cfg.Sentry.Enabled {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	return sentrygin.New(sentrygin.Options{
		Repanic:         true,
		WaitForDelivery: false,
		Timeout:         2 * time.Second,
	})
}

// SentryOrganizationContextMiddleware tags the sentry scope with the
// organization. It must run after ContextMiddleware.
func SentryOrganizationContextMiddleware(c *gin.Context) {
	hub := sentrygin.GetHubFromContext(c)
	if hub == nil {
		c.Next()
		return
	}
	ctx := c.Request.Context()
	if organizationID := types.GetOrganizationID(ctx); organizationID != "" {
		hub.Scope().SetTag("organization_id", organizationID)
	}
	if requestID := types.GetRequestID(ctx); requestID != "" {
		hub.Scope().SetTag("request_id", requestID)
	}
	c.Next()
}
