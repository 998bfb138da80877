package testutil

import (
	"context"
	"time"

	"github.com/flexprice/usagemeter/internal/aggregation"
	"github.com/flexprice/usagemeter/internal/domain/events"
	ierr "github.com/flexprice/usagemeter/internal/errors"
	"github.com/flexprice/usagemeter/internal/types"
	"github.com/samber/lo"
)

// InMemoryPreAggregatedStore implements events.PreAggregatedRepository on top
// of an InMemoryEventStore. Partials are kept per fingerprint; the newest wins.
type InMemoryPreAggregatedStore struct {
	events   *InMemoryEventStore
	partials *InMemoryStore[*events.PartialAggregate]
}

func NewInMemoryPreAggregatedStore(eventStore *InMemoryEventStore) *InMemoryPreAggregatedStore {
	if eventStore == nil {
		eventStore = NewInMemoryEventStore()
	}
	return &InMemoryPreAggregatedStore{
		events:   eventStore,
		partials: NewInMemoryStore[*events.PartialAggregate](),
	}
}

func copyPartial(p *events.PartialAggregate) *events.PartialAggregate {
	copied := *p
	copied.State = append([]byte(nil), p.State...)
	return &copied
}

func (s *InMemoryPreAggregatedStore) GetPartialAggregate(ctx context.Context, params *events.PartialParams) (*events.PartialAggregate, error) {
	if params == nil {
		return nil, ierr.NewError("params are nil").
			WithHint("Partial params are required").
			Mark(ierr.ErrValidation)
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	matches, err := s.partials.List(ctx, params, partialFilterFn, partialSortFn)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, ierr.NewError("partial aggregate not found").
			WithHintf("No partial aggregate for %s/%s", params.SubscriptionID, params.Code).
			WithReportableDetails(map[string]interface{}{
				"subscription_id": params.SubscriptionID,
				"code":            params.Code,
				"fingerprint":     params.Fingerprint,
			}).
			Mark(ierr.ErrNotFound)
	}
	return copyPartial(matches[0]), nil
}

// FindTailEvents deduplicates over the whole window before applying the
// cutoff, so copies of a transaction on both sides of it resolve the same way
// as on the row-scan path
func (s *InMemoryPreAggregatedStore) FindTailEvents(ctx context.Context, params *events.TailParams) ([]*events.Event, error) {
	if params == nil {
		return nil, ierr.NewError("params are nil").
			WithHint("Tail params are required").
			Mark(ierr.ErrValidation)
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	window, err := s.events.FindEvents(ctx, &params.FindEventsParams)
	if err != nil {
		return nil, err
	}

	deduped, _ := aggregation.Deduplicate(window)
	return lo.Filter(deduped, func(e *events.Event, _ int) bool {
		return !e.Timestamp.Before(params.Cutoff)
	}), nil
}

func (s *InMemoryPreAggregatedStore) SavePartialAggregate(ctx context.Context, partial *events.PartialAggregate) error {
	if partial == nil {
		return ierr.NewError("partial is nil").
			WithHint("Partial aggregate cannot be nil").
			Mark(ierr.ErrValidation)
	}
	if partial.Fingerprint == "" || len(partial.State) == 0 {
		return ierr.NewError("partial aggregate is incomplete").
			WithHint("Fingerprint and state are required").
			Mark(ierr.ErrValidation)
	}

	if partial.ID == "" {
		partial.ID = types.GenerateUUIDWithPrefix(types.UUID_PREFIX_PARTIAL)
	}
	if partial.CreatedAt.IsZero() {
		partial.CreatedAt = time.Now().UTC()
	}
	stored := copyPartial(partial)
	return s.partials.Create(ctx, stored.ID, stored)
}

func (s *InMemoryPreAggregatedStore) InvalidatePartials(ctx context.Context, params *events.InvalidatePartialsParams) error {
	if params == nil {
		return ierr.NewError("params are nil").
			WithHint("Invalidation params are required").
			Mark(ierr.ErrValidation)
	}
	if err := params.Validate(); err != nil {
		return err
	}

	stale, err := s.partials.List(ctx, params, func(ctx context.Context, p *events.PartialAggregate, _ interface{}) bool {
		return CheckOrganizationFilter(ctx, p.OrganizationID) &&
			p.OrganizationID == params.OrganizationID &&
			p.SubscriptionID == params.SubscriptionID &&
			p.Cutoff.After(params.Since)
	}, nil)
	if err != nil {
		return err
	}
	for _, p := range stale {
		if err := s.partials.Delete(ctx, p.ID); err != nil {
			return err
		}
	}
	return nil
}

// PartialCount is the number of stored partials, all fingerprints included
func (s *InMemoryPreAggregatedStore) PartialCount() int {
	return s.partials.Count()
}

func (s *InMemoryPreAggregatedStore) Clear() {
	s.partials.Clear()
}

func partialFilterFn(ctx context.Context, p *events.PartialAggregate, filter interface{}) bool {
	params, ok := filter.(*events.PartialParams)
	if !ok {
		return false
	}
	if !CheckOrganizationFilter(ctx, p.OrganizationID) {
		return false
	}
	if !params.From.IsZero() && !p.From.Equal(params.From) {
		return false
	}
	return p.OrganizationID == params.OrganizationID &&
		p.SubscriptionID == params.SubscriptionID &&
		p.Code == params.Code &&
		p.Fingerprint == params.Fingerprint
}

// partialSortFn puts the most recently created partial first
func partialSortFn(i, j *events.PartialAggregate) bool {
	if !i.CreatedAt.Equal(j.CreatedAt) {
		return i.CreatedAt.After(j.CreatedAt)
	}
	return i.Cutoff.After(j.Cutoff)
}
