package dto

import (
	"context"
	"time"

	"github.com/flexprice/usagemeter/internal/domain/chargefilter"
	"github.com/flexprice/usagemeter/internal/domain/events"
	"github.com/flexprice/usagemeter/internal/domain/usage"
	ierr "github.com/flexprice/usagemeter/internal/errors"
	"github.com/flexprice/usagemeter/internal/types"
	"github.com/flexprice/usagemeter/internal/validator"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// BoundaryRequest is the billing window of a usage request
type BoundaryRequest struct {
	From         time.Time  `json:"from"`
	To           time.Time  `json:"to"`
	ChargesFrom  *time.Time `json:"charges_from,omitempty"`
	ChargesTo    *time.Time `json:"charges_to,omitempty"`
	DurationDays int        `json:"duration_days"`
	MaxTimestamp *time.Time `json:"max_timestamp,omitempty"`
	Timezone     string     `json:"timezone,omitempty"`
}

func (b BoundaryRequest) ToBoundary() usage.Boundary {
	return usage.Boundary{
		From:         b.From,
		To:           b.To,
		ChargesFrom:  b.ChargesFrom,
		ChargesTo:    b.ChargesTo,
		DurationDays: b.DurationDays,
		MaxTimestamp: b.MaxTimestamp,
		Timezone:     b.Timezone,
	}
}

// ChargeFiltersRequest restricts usage to one filter of a charge. The
// sibling filters are needed to exclude events billed under a more
// specific one.
type ChargeFiltersRequest struct {
	SelectedID string                 `json:"selected_id" validate:"required"`
	Filters    []*chargefilter.Filter `json:"filters" validate:"required,min=1,dive"`
}

type AggregateUsageRequest struct {
	OrganizationID  string                `json:"organization_id,omitempty"`
	SubscriptionID  string                `json:"subscription_id" validate:"required"`
	Code            string                `json:"code" validate:"required"`
	AggregationType types.AggregationType `json:"aggregation_type" validate:"required"`
	Prorated        bool                  `json:"prorated,omitempty"`
	FieldName       string                `json:"field_name,omitempty"`
	Boundary        BoundaryRequest       `json:"boundary"`
	GroupedBy       []string              `json:"grouped_by,omitempty"`
	GroupedByValues map[string]string     `json:"grouped_by_values,omitempty"`

	MatchingFilters map[string][]string   `json:"matching_filters,omitempty"`
	IgnoredFilters  []map[string][]string `json:"ignored_filters,omitempty"`
	ChargeFilters   *ChargeFiltersRequest `json:"charge_filters,omitempty"`

	InitialValue         *decimal.Decimal           `json:"initial_value,omitempty"`
	GroupedInitialValues map[string]decimal.Decimal `json:"grouped_initial_values,omitempty"`
}

func (r *AggregateUsageRequest) Validate() error {
	if err := validator.ValidateRequest(r); err != nil {
		return err
	}
	if r.ChargeFilters != nil && (len(r.MatchingFilters) > 0 || len(r.IgnoredFilters) > 0) {
		return ierr.NewError("charge_filters cannot be combined with matching_filters or ignored_filters").
			WithHint("Send either a charge filter selection or explicit filters").
			Mark(ierr.ErrValidation)
	}
	return nil
}

// ToUsageRequest builds the domain request; the organization defaults to
// the one of the calling context
func (r *AggregateUsageRequest) ToUsageRequest(ctx context.Context) (*usage.Request, error) {
	req := &usage.Request{
		OrganizationID:       lo.Ternary(r.OrganizationID != "", r.OrganizationID, types.GetOrganizationID(ctx)),
		SubscriptionID:       r.SubscriptionID,
		Code:                 r.Code,
		Boundary:             r.Boundary.ToBoundary(),
		Kind:                 r.AggregationType,
		Prorated:             r.Prorated,
		FieldName:            r.FieldName,
		GroupedBy:            r.GroupedBy,
		GroupedByValues:      r.GroupedByValues,
		MatchingFilters:      r.MatchingFilters,
		IgnoredFilters:       r.IgnoredFilters,
		InitialValue:         lo.FromPtrOr(r.InitialValue, decimal.Zero),
		GroupedInitialValues: r.GroupedInitialValues,
	}

	if r.ChargeFilters != nil {
		selected, found := lo.Find(r.ChargeFilters.Filters, func(f *chargefilter.Filter) bool {
			return f.ID == r.ChargeFilters.SelectedID
		})
		if !found {
			return nil, ierr.NewErrorf("charge filter %s not found", r.ChargeFilters.SelectedID).
				WithHint("selected_id must be the id of one of the filters").
				Mark(ierr.ErrValidation)
		}
		restriction, err := chargefilter.NewRestriction(selected, r.ChargeFilters.Filters)
		if err != nil {
			return nil, err
		}
		req.MatchingFilters = restriction.Matching
		req.IgnoredFilters = restriction.Ignored
	}

	return req, nil
}

type GroupValueResponse struct {
	Key   map[string]*string  `json:"key"`
	Value decimal.NullDecimal `json:"value"`
}

type AggregateUsageResponse struct {
	SubscriptionID  string                `json:"subscription_id"`
	Code            string                `json:"code"`
	AggregationType types.AggregationType `json:"aggregation_type"`
	Value           decimal.NullDecimal   `json:"value"`
	Groups          []GroupValueResponse  `json:"groups,omitempty"`
	EventCount      int                   `json:"event_count"`
	Warnings        []usage.Warning       `json:"warnings,omitempty"`
}

func NewAggregateUsageResponse(req *usage.Request, result *usage.Result) *AggregateUsageResponse {
	resp := &AggregateUsageResponse{
		SubscriptionID:  req.SubscriptionID,
		Code:            req.Code,
		AggregationType: result.Kind,
		Value:           result.Value,
		EventCount:      result.EventCount,
		Warnings:        result.Warnings,
	}
	if result.IsGrouped() {
		resp.Groups = lo.Map(result.Groups, func(g usage.GroupResult, _ int) GroupValueResponse {
			return GroupValueResponse{Key: g.Key.Map(req.GroupedBy), Value: g.Value}
		})
	}
	return resp
}

type AggregateUsageBatchRequest struct {
	Requests []*AggregateUsageRequest `json:"requests" validate:"required,min=1,max=500,dive"`
}

func (r *AggregateUsageBatchRequest) Validate() error {
	if err := validator.ValidateRequest(r); err != nil {
		return err
	}
	for _, item := range r.Requests {
		if err := item.Validate(); err != nil {
			return err
		}
	}
	return nil
}

type AggregateUsageBatchResponse struct {
	Items []*AggregateUsageResponse `json:"items"`
}

type MaterializePartialRequest struct {
	AggregateUsageRequest
	Cutoff time.Time `json:"cutoff" validate:"required"`
}

func (r *MaterializePartialRequest) Validate() error {
	if err := r.AggregateUsageRequest.Validate(); err != nil {
		return err
	}
	return validator.ValidateRequest(r)
}

type PartialAggregateResponse struct {
	ID             string    `json:"id"`
	SubscriptionID string    `json:"subscription_id"`
	Code           string    `json:"code"`
	Fingerprint    string    `json:"fingerprint"`
	From           time.Time `json:"from"`
	Cutoff         time.Time `json:"cutoff"`
	EventCount     uint64    `json:"event_count"`
	CreatedAt      time.Time `json:"created_at"`
}

func NewPartialAggregateResponse(p *events.PartialAggregate) *PartialAggregateResponse {
	return &PartialAggregateResponse{
		ID:             p.ID,
		SubscriptionID: p.SubscriptionID,
		Code:           p.Code,
		Fingerprint:    p.Fingerprint,
		From:           p.From,
		Cutoff:         p.Cutoff,
		EventCount:     p.EventCount,
		CreatedAt:      p.CreatedAt,
	}
}
