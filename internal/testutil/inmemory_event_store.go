package testutil

import (
	"context"
	"sort"
	"sync"

	"github.com/flexprice/usagemeter/internal/domain/events"
	ierr "github.com/flexprice/usagemeter/internal/errors"
	"github.com/flexprice/usagemeter/internal/types"
	"github.com/samber/lo"
)

// InMemoryEventStore implements events.Repository. Duplicate rows of a
// transaction are stored as they come, like the real event tables.
type InMemoryEventStore struct {
	*InMemoryStore[*events.Event]
	mu       sync.RWMutex
	byStream map[string][]string // map[org/sub/code][]eventID
}

func NewInMemoryEventStore() *InMemoryEventStore {
	return &InMemoryEventStore{
		InMemoryStore: NewInMemoryStore[*events.Event](),
		byStream:      make(map[string][]string),
	}
}

func streamKey(organizationID, subscriptionID, code string) string {
	return organizationID + "/" + subscriptionID + "/" + code
}

func copyEvent(e *events.Event) *events.Event {
	if e == nil {
		return nil
	}
	copied := *e
	copied.Properties = e.Properties.Clone()
	if e.EnrichedAt != nil {
		copied.EnrichedAt = lo.ToPtr(*e.EnrichedAt)
	}
	return &copied
}

// InsertEvent stores one physical event row. A missing ID is generated.
func (s *InMemoryEventStore) InsertEvent(ctx context.Context, e *events.Event) error {
	if e == nil {
		return ierr.NewError("event is nil").
			WithHint("Event cannot be nil").
			Mark(ierr.ErrValidation)
	}

	stored := copyEvent(e)
	if stored.ID == "" {
		stored.ID = types.GenerateUUIDWithPrefix(types.UUID_PREFIX_EVENT)
	}
	if stored.IngestedAt.IsZero() {
		stored.IngestedAt = stored.Timestamp
	}
	if err := s.InMemoryStore.Create(ctx, stored.ID, stored); err != nil {
		return err
	}

	s.mu.Lock()
	key := streamKey(stored.OrganizationID, stored.SubscriptionID, stored.Code)
	s.byStream[key] = append(s.byStream[key], stored.ID)
	s.mu.Unlock()
	return nil
}

func (s *InMemoryEventStore) BulkInsertEvents(ctx context.Context, evts []*events.Event) error {
	for _, e := range evts {
		if err := s.InsertEvent(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// FindEvents returns every row of the window, duplicates included, in timestamp order
func (s *InMemoryEventStore) FindEvents(ctx context.Context, params *events.FindEventsParams) ([]*events.Event, error) {
	if params == nil {
		return nil, ierr.NewError("params are nil").
			WithHint("Find events params are required").
			Mark(ierr.ErrValidation)
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if !CheckOrganizationFilter(ctx, params.OrganizationID) {
		return []*events.Event{}, nil
	}

	s.mu.RLock()
	ids := append([]string(nil), s.byStream[streamKey(params.OrganizationID, params.SubscriptionID, params.Code)]...)
	s.mu.RUnlock()

	result := make([]*events.Event, 0, len(ids))
	for _, id := range ids {
		e, err := s.InMemoryStore.Get(ctx, id)
		if err != nil {
			continue
		}
		if params.Contains(e.Timestamp) {
			result = append(result, copyEvent(e))
		}
	}

	sortEventsByTimestamp(result)
	return result, nil
}

func (s *InMemoryEventStore) Clear() {
	s.InMemoryStore.Clear()
	s.mu.Lock()
	s.byStream = make(map[string][]string)
	s.mu.Unlock()
}

func sortEventsByTimestamp(evts []*events.Event) {
	sort.SliceStable(evts, func(i, j int) bool {
		if !evts[i].Timestamp.Equal(evts[j].Timestamp) {
			return evts[i].Timestamp.Before(evts[j].Timestamp)
		}
		return evts[i].ID < evts[j].ID
	})
}
