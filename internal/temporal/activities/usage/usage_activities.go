package usage

import (
	"context"

	"github.com/flexprice/usagemeter/internal/domain/usage"
	ierr "github.com/flexprice/usagemeter/internal/errors"
	"github.com/flexprice/usagemeter/internal/service"
	models "github.com/flexprice/usagemeter/internal/temporal/models/usage"
	"github.com/flexprice/usagemeter/internal/types"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
)

const (
	ActivityAggregateUsage     = "AggregateUsageActivity"
	ActivityMaterializePartial = "MaterializePartial"
)

type UsageActivities struct {
	usageService service.UsageService
}

func NewUsageActivities(usageService service.UsageService) *UsageActivities {
	return &UsageActivities{usageService: usageService}
}

// AggregateUsage computes the usage of one request. Store failures are
// retried by temporal, anything else fails the activity for good.
func (a *UsageActivities) AggregateUsage(ctx context.Context, input models.AggregateUsageInput) (*usage.Result, error) {
	if err := input.Validate(); err != nil {
		return nil, applicationError(err)
	}
	ctx = types.SetOrganizationID(ctx, input.Request.OrganizationID)

	result, err := a.usageService.Aggregate(ctx, input.Request)
	if err != nil {
		activity.GetLogger(ctx).Error("aggregate usage failed",
			"subscription_id", input.Request.SubscriptionID,
			"code", input.Request.Code,
			"error", err)
		return nil, applicationError(err)
	}
	return result, nil
}

func (a *UsageActivities) MaterializePartial(ctx context.Context, input models.MaterializePartialInput) (*models.PartialSummary, error) {
	if input.Request == nil {
		return nil, applicationError(ierr.NewError("request is required").
			WithHint("Aggregation request is required").
			Mark(ierr.ErrValidation))
	}
	ctx = types.SetOrganizationID(ctx, input.Request.OrganizationID)

	partial, err := a.usageService.MaterializePartial(ctx, input.Request, input.Cutoff)
	if err != nil {
		activity.GetLogger(ctx).Error("materialize partial failed",
			"subscription_id", input.Request.SubscriptionID,
			"code", input.Request.Code,
			"cutoff", input.Cutoff,
			"error", err)
		return nil, applicationError(err)
	}

	return &models.PartialSummary{
		ID:             partial.ID,
		SubscriptionID: partial.SubscriptionID,
		Code:           partial.Code,
		Fingerprint:    partial.Fingerprint,
		Cutoff:         partial.Cutoff,
		EventCount:     partial.EventCount,
	}, nil
}

func applicationError(err error) error {
	if ierr.IsRetryable(err) {
		return temporal.NewApplicationErrorWithCause(err.Error(), ierr.Code(err), err)
	}
	return temporal.NewNonRetryableApplicationError(err.Error(), ierr.Code(err), err)
}
