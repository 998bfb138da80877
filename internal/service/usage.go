package service

import (
	"context"
	"time"

	"github.com/flexprice/usagemeter/internal/aggregation"
	"github.com/flexprice/usagemeter/internal/cache"
	"github.com/flexprice/usagemeter/internal/domain/events"
	"github.com/flexprice/usagemeter/internal/domain/usage"
	ierr "github.com/flexprice/usagemeter/internal/errors"
	"github.com/flexprice/usagemeter/internal/types"
	"github.com/sourcegraph/conc/pool"
	"golang.org/x/time/rate"
)

// UsageService computes billable usage for one or many charges
type UsageService interface {
	// Aggregate computes one request over the configured backend
	Aggregate(ctx context.Context, req *usage.Request) (*usage.Result, error)

	// AggregateBatch computes many requests concurrently. Results keep the
	// request order; the first failure cancels the rest.
	AggregateBatch(ctx context.Context, reqs []*usage.Request) ([]*usage.Result, error)

	// MaterializePartial snapshots everything before cutoff into the
	// pre-aggregated store
	MaterializePartial(ctx context.Context, req *usage.Request, cutoff time.Time) (*events.PartialAggregate, error)

	// InvalidateSubscription drops every cached partial of a subscription and
	// removes the stored partials cut after since, the timestamp of the
	// earliest newly arrived event
	InvalidateSubscription(ctx context.Context, organizationID, subscriptionID string, since time.Time) error
}

type usageService struct {
	ServiceParams
	limiter *rate.Limiter
}

func NewUsageService(params ServiceParams) UsageService {
	limit := rate.Inf
	if params.Config.Metering.StoreRateLimit > 0 {
		limit = rate.Limit(params.Config.Metering.StoreRateLimit)
	}
	return &usageService{
		ServiceParams: params,
		limiter:       rate.NewLimiter(limit, max(1, params.Config.Metering.MaxConcurrency)),
	}
}

func (s *usageService) Aggregate(ctx context.Context, req *usage.Request) (*usage.Result, error) {
	if req == nil {
		return nil, ierr.NewError("request is nil").
			WithHint("Aggregation request is required").
			Mark(ierr.ErrValidation)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	switch s.Config.Metering.Backend {
	case types.MeteringBackendPreAggregated:
		return s.aggregatePreAggregated(ctx, req)
	default:
		return s.aggregateRowScan(ctx, req)
	}
}

func (s *usageService) aggregateRowScan(ctx context.Context, req *usage.Request) (*usage.Result, error) {
	evts, err := s.findEvents(ctx, req.FindEventsParams())
	if err != nil {
		return nil, err
	}
	return s.Engine.Aggregate(ctx, req, evts)
}

func (s *usageService) aggregatePreAggregated(ctx context.Context, req *usage.Request) (*usage.Result, error) {
	if err := s.requirePreAggregated(); err != nil {
		return nil, err
	}
	state, err := s.loadPartialState(ctx, req)
	if err != nil {
		return nil, err
	}

	cutoff := req.Boundary.WindowStart()
	if state != nil {
		cutoff = state.Cutoff
	}

	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	tail, err := s.PreAggregatedRepo.FindTailEvents(ctx, &events.TailParams{
		FindEventsParams: *req.FindEventsParams(),
		Cutoff:           cutoff,
	})
	if err != nil {
		return nil, storeError(err, "Failed to read events after the partial cutoff")
	}

	return s.Engine.Merge(ctx, req, state, tail)
}

// loadPartialState returns the newest usable partial of the request, or nil
// when there is none. A partial that does not fit the request (for example
// one cut after the request's max timestamp) is ignored.
func (s *usageService) loadPartialState(ctx context.Context, req *usage.Request) (*aggregation.PartialState, error) {
	partial, err := s.getPartial(ctx, req)
	if err != nil {
		if ierr.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	state, err := aggregation.DecodePartialState(partial.State)
	if err != nil {
		s.Logger.WithContext(ctx).Warnw("discarding undecodable partial aggregate",
			"partial_id", partial.ID,
			"error", err,
		)
		return nil, nil
	}
	if err := state.Compatible(req); err != nil {
		s.Logger.WithContext(ctx).Debugw("partial aggregate does not fit request, scanning from window start",
			"partial_id", partial.ID,
			"cutoff", state.Cutoff,
			"reason", err.Error(),
		)
		return nil, nil
	}
	return state, nil
}

func (s *usageService) getPartial(ctx context.Context, req *usage.Request) (*events.PartialAggregate, error) {
	fingerprint := req.Fingerprint()
	key := cache.PartialKey(req.OrganizationID, req.SubscriptionID, req.Code, fingerprint)

	if value, found := s.Cache.Get(ctx, key); found {
		if partial, ok := cache.UnmarshalCacheValue[events.PartialAggregate](value); ok {
			return partial, nil
		}
	}

	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	partial, err := s.PreAggregatedRepo.GetPartialAggregate(ctx, &events.PartialParams{
		OrganizationID: req.OrganizationID,
		SubscriptionID: req.SubscriptionID,
		Code:           req.Code,
		Fingerprint:    fingerprint,
		From:           req.Boundary.WindowStart(),
	})
	if err != nil {
		if ierr.IsNotFound(err) {
			return nil, err
		}
		return nil, storeError(err, "Failed to read partial aggregate")
	}

	s.Cache.Set(ctx, key, partial, s.Config.Metering.PartialCacheTTL)
	return partial, nil
}

func (s *usageService) AggregateBatch(ctx context.Context, reqs []*usage.Request) ([]*usage.Result, error) {
	results := make([]*usage.Result, len(reqs))
	if len(reqs) == 0 {
		return results, nil
	}

	p := pool.New().
		WithContext(ctx).
		WithMaxGoroutines(max(1, s.Config.Metering.MaxConcurrency)).
		WithCancelOnError().
		WithFirstError()

	for i, req := range reqs {
		p.Go(func(ctx context.Context) error {
			result, err := s.Aggregate(ctx, req)
			if err != nil {
				return ierr.WithError(err).
					WithReportableDetails(map[string]interface{}{
						"index": i,
						"code":  codeOf(req),
					}).
					Err()
			}
			results[i] = result
			return nil
		})
	}

	if err := p.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func codeOf(req *usage.Request) string {
	if req == nil {
		return ""
	}
	return req.Code
}

func (s *usageService) MaterializePartial(ctx context.Context, req *usage.Request, cutoff time.Time) (*events.PartialAggregate, error) {
	if req == nil {
		return nil, ierr.NewError("request is nil").
			WithHint("Aggregation request is required").
			Mark(ierr.ErrValidation)
	}

	// The snapshot covers every event before cutoff whatever cap a later
	// request carries, so it is built without one
	if err := s.requirePreAggregated(); err != nil {
		return nil, err
	}

	uncapped := *req
	uncapped.Boundary.MaxTimestamp = nil
	if err := uncapped.Validate(); err != nil {
		return nil, err
	}

	evts, err := s.findEvents(ctx, uncapped.FindEventsParams())
	if err != nil {
		return nil, err
	}

	state, err := s.Engine.BuildPartial(ctx, &uncapped, evts, cutoff)
	if err != nil {
		return nil, err
	}
	raw, err := aggregation.EncodePartialState(state)
	if err != nil {
		return nil, err
	}

	partial := &events.PartialAggregate{
		OrganizationID: req.OrganizationID,
		SubscriptionID: req.SubscriptionID,
		Code:           req.Code,
		Fingerprint:    state.Fingerprint,
		From:           uncapped.Boundary.WindowStart(),
		Cutoff:         cutoff,
		State:          raw,
		EventCount:     uint64(state.EventCount),
	}
	if err := s.PreAggregatedRepo.SavePartialAggregate(ctx, partial); err != nil {
		return nil, storeError(err, "Failed to save partial aggregate")
	}

	key := cache.PartialKey(req.OrganizationID, req.SubscriptionID, req.Code, partial.Fingerprint)
	s.Cache.Set(ctx, key, partial, s.Config.Metering.PartialCacheTTL)

	s.Logger.WithContext(ctx).Infow("materialized partial aggregate",
		"subscription_id", req.SubscriptionID,
		"code", req.Code,
		"kind", req.Kind,
		"cutoff", cutoff,
		"event_count", state.EventCount,
	)
	return partial, nil
}

func (s *usageService) requirePreAggregated() error {
	if s.PreAggregatedRepo == nil {
		return ierr.NewError("pre-aggregated store is not configured").
			WithHint("Partial aggregates need the clickhouse store").
			Mark(ierr.ErrInvalidOperation)
	}
	return nil
}

func (s *usageService) InvalidateSubscription(ctx context.Context, organizationID, subscriptionID string, since time.Time) error {
	s.Cache.DeleteByPrefix(ctx, cache.SubscriptionPrefix(organizationID, subscriptionID))

	if s.PreAggregatedRepo != nil && !since.IsZero() {
		err := s.PreAggregatedRepo.InvalidatePartials(ctx, &events.InvalidatePartialsParams{
			OrganizationID: organizationID,
			SubscriptionID: subscriptionID,
			Since:          since,
		})
		if err != nil {
			return storeError(err, "Failed to invalidate stored partial aggregates")
		}
	}

	s.Logger.WithContext(ctx).Debugw("invalidated partial aggregates",
		"organization_id", organizationID,
		"subscription_id", subscriptionID,
		"since", since,
	)
	return nil
}

func (s *usageService) findEvents(ctx context.Context, params *events.FindEventsParams) ([]*events.Event, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	evts, err := s.EventRepo.FindEvents(ctx, params)
	if err != nil {
		return nil, storeError(err, "Failed to read events")
	}
	return evts, nil
}

func (s *usageService) wait(ctx context.Context) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return ierr.WithError(err).
			WithHint("Request cancelled while waiting for store capacity").
			Mark(ierr.ErrStoreUnavailable)
	}
	return nil
}

// storeError keeps boundary and validation failures as they are and marks
// anything else coming out of a store as retryable
func storeError(err error, hint string) error {
	if ierr.IsInvalidBoundary(err) || ierr.IsValidation(err) || ierr.IsRetryable(err) {
		return err
	}
	return ierr.WithError(err).
		WithHint(hint).
		Mark(ierr.ErrStoreUnavailable)
}
