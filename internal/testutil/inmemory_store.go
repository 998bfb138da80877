package testutil

import (
	"context"
	"sort"
	"sync"

	ierr "github.com/flexprice/usagemeter/internal/errors"
	"github.com/flexprice/usagemeter/internal/types"
)

// InMemoryStore is a generic thread safe map backed store used by the
// in-memory repositories
type InMemoryStore[T any] struct {
	mu    sync.RWMutex
	items map[string]T
}

func NewInMemoryStore[T any]() *InMemoryStore[T] {
	return &InMemoryStore[T]{items: make(map[string]T)}
}

func (s *InMemoryStore[T]) Create(_ context.Context, id string, item T) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[id]; exists {
		return ierr.NewErrorf("item %s already exists", id).
			WithHint("An item with this id already exists").
			Mark(ierr.ErrAlreadyExists)
	}
	s.items[id] = item
	return nil
}

func (s *InMemoryStore[T]) Get(_ context.Context, id string) (T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[id]
	if !ok {
		var zero T
		return zero, ierr.NewErrorf("item %s not found", id).
			WithHint("The requested item does not exist").
			Mark(ierr.ErrNotFound)
	}
	return item, nil
}

// List returns the items accepted by filterFn, ordered by sortFn when given
func (s *InMemoryStore[T]) List(
	ctx context.Context,
	filter interface{},
	filterFn func(ctx context.Context, item T, filter interface{}) bool,
	sortFn func(i, j T) bool,
) ([]T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]T, 0, len(s.items))
	for _, item := range s.items {
		if filterFn == nil || filterFn(ctx, item, filter) {
			result = append(result, item)
		}
	}
	if sortFn != nil {
		sort.SliceStable(result, func(i, j int) bool { return sortFn(result[i], result[j]) })
	}
	return result, nil
}

func (s *InMemoryStore[T]) Update(_ context.Context, id string, item T) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[id]; !exists {
		return ierr.NewErrorf("item %s not found", id).
			WithHint("The item to update does not exist").
			Mark(ierr.ErrNotFound)
	}
	s.items[id] = item
	return nil
}

func (s *InMemoryStore[T]) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[id]; !exists {
		return ierr.NewErrorf("item %s not found", id).
			WithHint("The item to delete does not exist").
			Mark(ierr.ErrNotFound)
	}
	delete(s.items, id)
	return nil
}

func (s *InMemoryStore[T]) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func (s *InMemoryStore[T]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string]T)
}

// CheckOrganizationFilter rejects items of another organization when the
// context carries one
func CheckOrganizationFilter(ctx context.Context, organizationID string) bool {
	ctxOrg := types.GetOrganizationID(ctx)
	return ctxOrg == "" || ctxOrg == organizationID
}
