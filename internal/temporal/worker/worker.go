package worker

import (
	"context"

	"github.com/flexprice/usagemeter/internal/config"
	ierr "github.com/flexprice/usagemeter/internal/errors"
	"github.com/flexprice/usagemeter/internal/logger"
	activities "github.com/flexprice/usagemeter/internal/temporal/activities/usage"
	"github.com/flexprice/usagemeter/internal/temporal/interceptor"
	"github.com/flexprice/usagemeter/internal/temporal/workflows"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	sdkinterceptor "go.temporal.io/sdk/interceptor"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
)

// Worker runs the usage workflows and activities on one task queue
type Worker struct {
	client client.Client
	worker worker.Worker
	logger *logger.Logger
}

// NewClient dials the temporal frontend
func NewClient(cfg *config.Configuration, log *logger.Logger) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.Address,
		Namespace: cfg.Temporal.Namespace,
		Logger:    newLoggerAdapter(log),
	})
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to connect to temporal").
			Mark(ierr.ErrStoreUnavailable)
	}
	return c, nil
}

func NewWorker(c client.Client, cfg *config.Configuration, usageActivities *activities.UsageActivities, log *logger.Logger) *Worker {
	w := worker.New(c, cfg.Temporal.TaskQueue, worker.Options{
		Interceptors: []sdkinterceptor.WorkerInterceptor{interceptor.NewSentryInterceptor(cfg.Sentry.Enabled)},
	})
	Register(w, usageActivities)
	return &Worker{client: c, worker: w, logger: log}
}

// Register adds the usage workflows and activities to a registry
func Register(r worker.Registry, usageActivities *activities.UsageActivities) {
	r.RegisterWorkflowWithOptions(workflows.MaterializePartialsWorkflow, workflow.RegisterOptions{
		Name: workflows.WorkflowMaterializePartials,
	})
	r.RegisterActivityWithOptions(usageActivities.AggregateUsage, activity.RegisterOptions{
		Name: activities.ActivityAggregateUsage,
	})
	r.RegisterActivityWithOptions(usageActivities.MaterializePartial, activity.RegisterOptions{
		Name: activities.ActivityMaterializePartial,
	})
}

func (w *Worker) Start(_ context.Context) error {
	w.logger.Infow("starting temporal worker")
	if err := w.worker.Start(); err != nil {
		return ierr.WithError(err).
			WithHint("Failed to start temporal worker").
			Mark(ierr.ErrSystem)
	}
	return nil
}

func (w *Worker) Stop(_ context.Context) error {
	w.worker.Stop()
	w.client.Close()
	w.logger.Infow("temporal worker stopped")
	return nil
}
