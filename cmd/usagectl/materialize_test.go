package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	ierr "github.com/flexprice/usagemeter/internal/errors"
	models "github.com/flexprice/usagemeter/internal/temporal/models/usage"
	temporalservice "github.com/flexprice/usagemeter/internal/temporal/service"
	"github.com/flexprice/usagemeter/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockTemporalService struct {
	mock.Mock
}

func (m *mockTemporalService) StartMaterializePartials(ctx context.Context, input models.MaterializePartialsWorkflowInput) (*temporalservice.WorkflowRun, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*temporalservice.WorkflowRun), args.Error(1)
}

const requestsJSON = `[
	{"subscription_id":"sub_1","code":"api_calls","aggregation_type":"sum",
	 "boundary":{"from":"2024-03-01T00:00:00Z","to":"2024-04-01T00:00:00Z","duration_days":31}},
	{"organization_id":"org_2","subscription_id":"sub_2","code":"seats","aggregation_type":"count","prorated":true,
	 "boundary":{"from":"2024-03-01T00:00:00Z","to":"2024-04-01T00:00:00Z","duration_days":31}}
]`

func TestRunMaterialize(t *testing.T) {
	cutoff := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	svc := new(mockTemporalService)
	svc.On("StartMaterializePartials", mock.Anything, mock.MatchedBy(func(input models.MaterializePartialsWorkflowInput) bool {
		return input.Cutoff.Equal(cutoff) &&
			len(input.Requests) == 2 &&
			input.Requests[0].OrganizationID == "org_1" &&
			input.Requests[0].Kind == types.AggregationSum &&
			input.Requests[1].OrganizationID == "org_2" &&
			input.Requests[1].Prorated
	})).Return(&temporalservice.WorkflowRun{WorkflowID: "MaterializePartialsWorkflow-org_1-1710460800", RunID: "run_1"}, nil)

	var out bytes.Buffer
	opts := materializeOptions{organizationID: "org_1", cutoff: "2024-03-15T00:00:00Z"}
	require.NoError(t, runMaterialize(context.Background(), opts, strings.NewReader(requestsJSON), svc, &out))
	svc.AssertExpectations(t)

	var run temporalservice.WorkflowRun
	require.NoError(t, json.Unmarshal(out.Bytes(), &run))
	assert.Equal(t, "run_1", run.RunID)
}

func TestRunMaterialize_InvalidInput(t *testing.T) {
	tests := []struct {
		name     string
		cutoff   string
		requests string
	}{
		{name: "missing cutoff", requests: requestsJSON},
		{name: "not an array", cutoff: "2024-03-15T00:00:00Z", requests: `{"code":"api_calls"}`},
		{name: "missing code", cutoff: "2024-03-15T00:00:00Z", requests: `[{"subscription_id":"sub_1","aggregation_type":"sum"}]`},
		{
			name:   "reversed boundary",
			cutoff: "2024-03-15T00:00:00Z",
			requests: `[{"organization_id":"org_1","subscription_id":"sub_1","code":"api_calls","aggregation_type":"sum",
				"boundary":{"from":"2024-04-01T00:00:00Z","to":"2024-03-01T00:00:00Z","duration_days":31}}]`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(mockTemporalService)
			opts := materializeOptions{cutoff: tt.cutoff}
			err := runMaterialize(context.Background(), opts, strings.NewReader(tt.requests), svc, &bytes.Buffer{})
			require.Error(t, err)
			assert.True(t, ierr.IsValidation(err) || ierr.IsInvalidBoundary(err))
			svc.AssertNotCalled(t, "StartMaterializePartials", mock.Anything, mock.Anything)
		})
	}
}
