package service

import (
	"context"
	"fmt"

	"github.com/flexprice/usagemeter/internal/config"
	ierr "github.com/flexprice/usagemeter/internal/errors"
	"github.com/flexprice/usagemeter/internal/logger"
	models "github.com/flexprice/usagemeter/internal/temporal/models/usage"
	"github.com/flexprice/usagemeter/internal/temporal/workflows"
	"github.com/flexprice/usagemeter/internal/types"
	"go.temporal.io/sdk/client"
)

// WorkflowRun identifies a started workflow execution
type WorkflowRun struct {
	WorkflowID string `json:"workflow_id"`
	RunID      string `json:"run_id"`
}

// TemporalService starts usage workflows
type TemporalService interface {
	StartMaterializePartials(ctx context.Context, input models.MaterializePartialsWorkflowInput) (*WorkflowRun, error)
}

type temporalService struct {
	client    client.Client
	taskQueue string
	logger    *logger.Logger
}

func NewTemporalService(c client.Client, cfg *config.Configuration, log *logger.Logger) TemporalService {
	return &temporalService{client: c, taskQueue: cfg.Temporal.TaskQueue, logger: log}
}

// StartMaterializePartials starts one workflow per organization and cutoff.
// Starting the same pair again while one runs fails.
func (s *temporalService) StartMaterializePartials(ctx context.Context, input models.MaterializePartialsWorkflowInput) (*WorkflowRun, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}

	organizationID := types.GetOrganizationID(ctx)
	if organizationID == "" {
		organizationID = input.Requests[0].OrganizationID
	}

	run, err := s.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        fmt.Sprintf("%s-%s-%d", workflows.WorkflowMaterializePartials, organizationID, input.Cutoff.Unix()),
		TaskQueue: s.taskQueue,
	}, workflows.WorkflowMaterializePartials, input)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to start materialize partials workflow").
			WithReportableDetails(map[string]interface{}{
				"organization_id": organizationID,
				"cutoff":          input.Cutoff,
			}).
			Mark(ierr.ErrStoreUnavailable)
	}

	s.logger.WithContext(ctx).Infow("started materialize partials workflow",
		"workflow_id", run.GetID(),
		"run_id", run.GetRunID(),
		"requests", len(input.Requests),
	)
	return &WorkflowRun{WorkflowID: run.GetID(), RunID: run.GetRunID()}, nil
}
