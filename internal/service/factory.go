package service

import (
	"github.com/flexprice/usagemeter/internal/aggregation"
	"github.com/flexprice/usagemeter/internal/cache"
	"github.com/flexprice/usagemeter/internal/config"
	"github.com/flexprice/usagemeter/internal/domain/events"
	"github.com/flexprice/usagemeter/internal/logger"
)

// ServiceParams holds the dependencies shared by services
type ServiceParams struct {
	Logger *logger.Logger
	Config *config.Configuration
	Engine *aggregation.Engine
	Cache  cache.Cache

	// Repositories
	EventRepo         events.Repository
	PreAggregatedRepo events.PreAggregatedRepository
}

func NewServiceParams(
	logger *logger.Logger,
	config *config.Configuration,
	engine *aggregation.Engine,
	cache cache.Cache,
	eventRepo events.Repository,
	preAggregatedRepo events.PreAggregatedRepository,
) ServiceParams {
	return ServiceParams{
		Logger:            logger,
		Config:            config,
		Engine:            engine,
		Cache:             cache,
		EventRepo:         eventRepo,
		PreAggregatedRepo: preAggregatedRepo,
	}
}
