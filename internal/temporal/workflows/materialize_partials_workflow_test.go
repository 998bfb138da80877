package workflows

import (
	"context"
	"errors"
	"testing"

	domainusage "github.com/flexprice/usagemeter/internal/domain/usage"
	activities "github.com/flexprice/usagemeter/internal/temporal/activities/usage"
	models "github.com/flexprice/usagemeter/internal/temporal/models/usage"
	"github.com/flexprice/usagemeter/internal/testutil"
	"github.com/flexprice/usagemeter/internal/types"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"
)

type MaterializePartialsWorkflowSuite struct {
	suite.Suite
	testsuite.WorkflowTestSuite
	env *testsuite.TestWorkflowEnvironment
}

func TestMaterializePartialsWorkflow(t *testing.T) {
	suite.Run(t, new(MaterializePartialsWorkflowSuite))
}

func (s *MaterializePartialsWorkflowSuite) SetupTest() {
	s.env = s.NewTestWorkflowEnvironment()
	s.env.RegisterActivityWithOptions(activities.NewUsageActivities(nil).MaterializePartial, activity.RegisterOptions{
		Name: activities.ActivityMaterializePartial,
	})
}

func (s *MaterializePartialsWorkflowSuite) AfterTest(_, _ string) {
	s.env.AssertExpectations(s.T())
}

func (s *MaterializePartialsWorkflowSuite) TestMaterializesEveryRequest() {
	sum := testutil.NewTestRequest(types.AggregationSum)
	count := testutil.NewTestRequest(types.AggregationCount)
	count.Code = "storage"

	s.env.OnActivity(activities.ActivityMaterializePartial, mock.Anything, mock.Anything).
		Return(func(_ context.Context, input models.MaterializePartialInput) (*models.PartialSummary, error) {
			return &models.PartialSummary{
				ID:             "partial_" + input.Request.Code,
				SubscriptionID: input.Request.SubscriptionID,
				Code:           input.Request.Code,
				Cutoff:         input.Cutoff,
			}, nil
		}).Times(2)

	s.env.ExecuteWorkflow(MaterializePartialsWorkflow, models.MaterializePartialsWorkflowInput{
		Requests: []*domainusage.Request{sum, count},
		Cutoff:   testutil.Day(15, 0),
	})

	s.Require().True(s.env.IsWorkflowCompleted())
	s.Require().NoError(s.env.GetWorkflowError())

	var result models.MaterializePartialsWorkflowResult
	s.Require().NoError(s.env.GetWorkflowResult(&result))
	s.Len(result.Partials, 2)
	s.Zero(result.Failed)
	s.Equal("partial_api_calls", result.Partials[0].ID)
	s.Equal("partial_storage", result.Partials[1].ID)
}

func (s *MaterializePartialsWorkflowSuite) TestFailedPartialIsCounted() {
	s.env.OnActivity(activities.ActivityMaterializePartial, mock.Anything, mock.Anything).
		Return(nil, temporal.NewNonRetryableApplicationError("bad window", "invalid_boundary", errors.New("bad window"))).
		Once()

	s.env.ExecuteWorkflow(MaterializePartialsWorkflow, models.MaterializePartialsWorkflowInput{
		Requests: []*domainusage.Request{testutil.NewTestRequest(types.AggregationSum)},
		Cutoff:   testutil.Day(15, 0),
	})

	s.Require().True(s.env.IsWorkflowCompleted())
	s.Require().NoError(s.env.GetWorkflowError())

	var result models.MaterializePartialsWorkflowResult
	s.Require().NoError(s.env.GetWorkflowResult(&result))
	s.Empty(result.Partials)
	s.Equal(1, result.Failed)
}

func (s *MaterializePartialsWorkflowSuite) TestRejectsEmptyInput() {
	s.env.ExecuteWorkflow(MaterializePartialsWorkflow, models.MaterializePartialsWorkflowInput{})

	s.Require().True(s.env.IsWorkflowCompleted())
	s.Error(s.env.GetWorkflowError())
}
