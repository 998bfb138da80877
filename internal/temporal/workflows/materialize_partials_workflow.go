package workflows

import (
	"time"

	activities "github.com/flexprice/usagemeter/internal/temporal/activities/usage"
	models "github.com/flexprice/usagemeter/internal/temporal/models/usage"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

const WorkflowMaterializePartials = "MaterializePartialsWorkflow"

// MaterializePartialsWorkflow snapshots the usage before a cutoff for many
// charges. A charge whose snapshot fails is counted and skipped; the
// usage service falls back to a full scan for it.
func MaterializePartialsWorkflow(ctx workflow.Context, input models.MaterializePartialsWorkflowInput) (*models.MaterializePartialsWorkflowResult, error) {
	if err := input.Validate(); err != nil {
		return nil, temporal.NewNonRetryableApplicationError(err.Error(), "validation_error", err)
	}

	logger := workflow.GetLogger(ctx)
	logger.Info("Starting materialize partials workflow",
		"requests", len(input.Requests),
		"cutoff", input.Cutoff)

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute * 10,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second * 5,
			BackoffCoefficient: 2.0,
			MaximumInterval:    time.Minute * 2,
			MaximumAttempts:    5,
		},
	})

	futures := make([]workflow.Future, len(input.Requests))
	for i, req := range input.Requests {
		futures[i] = workflow.ExecuteActivity(ctx, activities.ActivityMaterializePartial, models.MaterializePartialInput{
			Request: req,
			Cutoff:  input.Cutoff,
		})
	}

	result := &models.MaterializePartialsWorkflowResult{}
	for i, future := range futures {
		var summary models.PartialSummary
		if err := future.Get(ctx, &summary); err != nil {
			logger.Error("Failed to materialize partial",
				"subscription_id", input.Requests[i].SubscriptionID,
				"code", input.Requests[i].Code,
				"error", err)
			result.Failed++
			continue
		}
		result.Partials = append(result.Partials, summary)
	}

	result.CompletedAt = workflow.Now(ctx)
	logger.Info("Materialize partials workflow completed",
		"materialized", len(result.Partials),
		"failed", result.Failed)
	return result, nil
}
