package service

import (
	"context"

	"github.com/flexprice/usagemeter/internal/domain/events"
	"github.com/stretchr/testify/mock"
)

type MockEventRepository struct {
	mock.Mock
}

func (m *MockEventRepository) FindEvents(ctx context.Context, params *events.FindEventsParams) ([]*events.Event, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*events.Event), args.Error(1)
}

type MockPreAggregatedRepository struct {
	mock.Mock
}

func (m *MockPreAggregatedRepository) GetPartialAggregate(ctx context.Context, params *events.PartialParams) (*events.PartialAggregate, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*events.PartialAggregate), args.Error(1)
}

func (m *MockPreAggregatedRepository) FindTailEvents(ctx context.Context, params *events.TailParams) ([]*events.Event, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*events.Event), args.Error(1)
}

func (m *MockPreAggregatedRepository) SavePartialAggregate(ctx context.Context, partial *events.PartialAggregate) error {
	args := m.Called(ctx, partial)
	return args.Error(0)
}

func (m *MockPreAggregatedRepository) InvalidatePartials(ctx context.Context, params *events.InvalidatePartialsParams) error {
	args := m.Called(ctx, params)
	return args.Error(0)
}
