package api

import (
	v1 "github.com/flexprice/usagemeter/internal/api/v1"
	"github.com/flexprice/usagemeter/internal/config"
	"github.com/flexprice/usagemeter/internal/logger"
	"github.com/flexprice/usagemeter/internal/rest/middleware"
	"github.com/flexprice/usagemeter/internal/types"
	"github.com/gin-gonic/gin"
)

type Handlers struct {
	Health *v1.HealthHandler
	Usage  *v1.UsageHandler
}

func NewRouter(handlers Handlers, cfg *config.Configuration, log *logger.Logger) *gin.Engine {
	if cfg.Deployment.Mode != types.ModeLocal {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(
		gin.RecoveryWithWriter(log.GetGinLogger()),
		middleware.SentryMiddleware(cfg),
		middleware.ContextMiddleware(),
		middleware.SentryOrganizationContextMiddleware,
		middleware.LoggingMiddleware(log),
		middleware.ErrorHandler(),
	)

	router.GET("/health", handlers.Health.Health)

	v1Router := router.Group("/v1")
	usage := v1Router.Group("/usage")
	{
		usage.POST("/aggregate", handlers.Usage.Aggregate)
		usage.POST("/aggregate/batch", handlers.Usage.AggregateBatch)
		usage.POST("/partials", handlers.Usage.MaterializePartial)
	}

	return router
}
