package main

import (
	"context"
	"net/http"
	"time"

	"github.com/flexprice/usagemeter/internal/aggregation"
	"github.com/flexprice/usagemeter/internal/api"
	v1 "github.com/flexprice/usagemeter/internal/api/v1"
	"github.com/flexprice/usagemeter/internal/cache"
	"github.com/flexprice/usagemeter/internal/clickhouse"
	"github.com/flexprice/usagemeter/internal/config"
	"github.com/flexprice/usagemeter/internal/domain/events"
	"github.com/flexprice/usagemeter/internal/kafka"
	"github.com/flexprice/usagemeter/internal/logger"
	"github.com/flexprice/usagemeter/internal/postgres"
	"github.com/flexprice/usagemeter/internal/profiling"
	"github.com/flexprice/usagemeter/internal/redis"
	chRepo "github.com/flexprice/usagemeter/internal/repository/clickhouse"
	pgRepo "github.com/flexprice/usagemeter/internal/repository/postgres"
	"github.com/flexprice/usagemeter/internal/service"
	activities "github.com/flexprice/usagemeter/internal/temporal/activities/usage"
	"github.com/flexprice/usagemeter/internal/temporal/worker"
	"github.com/flexprice/usagemeter/internal/types"
	"github.com/getsentry/sentry-go"
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		fx.Provide(
			config.NewConfig,
			logger.NewLogger,
			profiling.NewProfiler,
			provideStores,
			provideCache,
			aggregation.NewEngine,
			service.NewServiceParams,
			service.NewUsageService,
			service.NewEventConsumptionService,
			v1.NewHealthHandler,
			v1.NewUsageHandler,
			provideHandlers,
			api.NewRouter,
		),
		fx.Invoke(
			startSentry,
			startProfiler,
			startServer,
			startConsumer,
			startTemporalWorker,
		),
		fx.NopLogger,
	)
	app.Run()
}

type stores struct {
	fx.Out

	EventRepo         events.Repository
	PreAggregatedRepo events.PreAggregatedRepository
}

// provideStores opens the row-scan store picked by configuration. The
// clickhouse store also serves partial aggregates; configuration only
// allows the pre-aggregated backend on top of it.
func provideStores(lc fx.Lifecycle, cfg *config.Configuration, log *logger.Logger) (stores, error) {
	var out stores

	var ch *clickhouse.ClickHouseStore
	if cfg.Metering.RowStore == types.RowStoreClickHouse {
		store, err := clickhouse.NewClickHouseStore(cfg, log)
		if err != nil {
			return out, err
		}
		lc.Append(fx.Hook{OnStop: func(context.Context) error { return store.Close() }})
		ch = store
		out.PreAggregatedRepo = chRepo.NewPartialAggregateRepository(ch, log)
	}

	switch cfg.Metering.RowStore {
	case types.RowStoreClickHouse:
		out.EventRepo = chRepo.NewEventRepository(ch, log)
	default:
		client, err := postgres.NewClient(cfg, log)
		if err != nil {
			return out, err
		}
		lc.Append(fx.Hook{OnStop: func(context.Context) error { return client.Close() }})
		out.EventRepo = pgRepo.NewEventRepository(client, log)
	}

	log.Infow("stores ready",
		"row_store", cfg.Metering.RowStore,
		"backend", cfg.Metering.Backend,
	)
	return out, nil
}

func provideCache(lc fx.Lifecycle, cfg *config.Configuration, log *logger.Logger) (cache.Cache, error) {
	if cfg.Cache.Type != string(cache.CacheTypeRedis) {
		return cache.Initialize(cfg, log, nil), nil
	}

	client, err := redis.NewClient(cfg, log)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{OnStop: func(context.Context) error { return client.Close() }})
	return cache.Initialize(cfg, log, client), nil
}

func provideHandlers(health *v1.HealthHandler, usage *v1.UsageHandler) api.Handlers {
	return api.Handlers{Health: health, Usage: usage}
}

func startSentry(lc fx.Lifecycle, cfg *config.Configuration, log *logger.Logger) error {
	if !cfg.Sentry.Enabled {
		return nil
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.Sentry.DSN,
		Environment:      cfg.Sentry.Environment,
		EnableTracing:    true,
		TracesSampleRate: cfg.Sentry.SampleRate,
	}); err != nil {
		return err
	}
	log.Infow("sentry initialized", "environment", cfg.Sentry.Environment)
	lc.Append(fx.Hook{OnStop: func(context.Context) error {
		sentry.Flush(2 * time.Second)
		return nil
	}})
	return nil
}

func startProfiler(lc fx.Lifecycle, p *profiling.Profiler) {
	lc.Append(fx.Hook{OnStop: func(context.Context) error { return p.Stop() }})
}

func startServer(lc fx.Lifecycle, cfg *config.Configuration, router *gin.Engine, log *logger.Logger) {
	if cfg.Deployment.Mode == types.ModeWorker {
		return
	}

	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			log.Infow("starting http server", "address", cfg.Server.Address)
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatalf("http server stopped: %v", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Infow("shutting down http server")
			return srv.Shutdown(ctx)
		},
	})
}

// startConsumer runs the cache invalidation consumer when brokers are configured
func startConsumer(lc fx.Lifecycle, cfg *config.Configuration, consumption service.EventConsumptionService, log *logger.Logger) error {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil
	}

	router, err := kafka.NewRouter(log)
	if err != nil {
		return err
	}
	subscriber, err := kafka.NewSubscriber(cfg, log)
	if err != nil {
		return err
	}
	consumption.RegisterHandler(router, subscriber)

	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := router.Run(ctx); err != nil {
					log.Errorw("message router stopped", "error", err)
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			if err := router.Close(); err != nil {
				return err
			}
			return subscriber.Close()
		},
	})
	return nil
}

func startTemporalWorker(lc fx.Lifecycle, cfg *config.Configuration, usage service.UsageService, log *logger.Logger) error {
	if !cfg.Temporal.Enabled {
		return nil
	}

	client, err := worker.NewClient(cfg, log)
	if err != nil {
		return err
	}
	w := worker.NewWorker(client, cfg, activities.NewUsageActivities(usage), log)
	lc.Append(fx.Hook{OnStart: w.Start, OnStop: w.Stop})
	return nil
}
