package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/flexprice/usagemeter/internal/aggregation"
	"github.com/flexprice/usagemeter/internal/domain/events"
	ierr "github.com/flexprice/usagemeter/internal/errors"
	"github.com/flexprice/usagemeter/internal/types"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findParams() *events.FindEventsParams {
	return &events.FindEventsParams{
		OrganizationID: TestOrganizationID,
		SubscriptionID: TestSubscriptionID,
		Code:           TestCode,
		From:           TestPeriodStart,
		To:             TestPeriodEnd,
	}
}

func TestInMemoryEventStore_FindEvents(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryEventStore()

	dup := NewTestEvent("tx_2", Day(2, 0), "5")
	dup.ID = "evt_tx_2_copy"

	other := NewTestEvent("tx_9", Day(3, 0), "1")
	other.Code = "storage"

	require.NoError(t, store.BulkInsertEvents(ctx, []*events.Event{
		NewTestEvent("tx_3", Day(3, 0), "3"),
		NewTestEvent("tx_1", Day(1, 0), "1"),
		NewTestEvent("tx_2", Day(2, 0), "2"),
		dup,
		other,
		NewTestEvent("tx_late", TestPeriodEnd, "100"),
	}))

	t.Run("returns every row of the window in order", func(t *testing.T) {
		got, err := store.FindEvents(ctx, findParams())
		require.NoError(t, err)
		assert.Equal(t, []string{"evt_tx_1", "evt_tx_2", "evt_tx_2_copy", "evt_tx_3"},
			lo.Map(got, func(e *events.Event, _ int) string { return e.ID }))
	})

	t.Run("max timestamp is inclusive", func(t *testing.T) {
		params := findParams()
		params.MaxTimestamp = lo.ToPtr(Day(2, 0))
		got, err := store.FindEvents(ctx, params)
		require.NoError(t, err)
		assert.Len(t, got, 3)
	})

	t.Run("returned events are copies", func(t *testing.T) {
		got, err := store.FindEvents(ctx, findParams())
		require.NoError(t, err)
		got[0].Properties.Set("mutated", events.NewBoolValue(true))

		again, err := store.FindEvents(ctx, findParams())
		require.NoError(t, err)
		assert.False(t, again[0].Properties.Has("mutated"))
	})

	t.Run("other organization in context sees nothing", func(t *testing.T) {
		got, err := store.FindEvents(types.SetOrganizationID(ctx, "org_other"), findParams())
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("invalid window", func(t *testing.T) {
		params := findParams()
		params.To = params.From
		_, err := store.FindEvents(ctx, params)
		require.Error(t, err)
		assert.True(t, ierr.IsInvalidBoundary(err))
	})

	t.Run("same id twice", func(t *testing.T) {
		err := store.InsertEvent(ctx, NewTestEvent("tx_1", Day(1, 0), "1"))
		assert.True(t, ierr.IsAlreadyExists(err))
	})
}

func TestInMemoryPreAggregatedStore(t *testing.T) {
	ctx := context.Background()
	eventStore := NewInMemoryEventStore()
	store := NewInMemoryPreAggregatedStore(eventStore)

	older := NewTestEvent("tx_dup", Day(4, 0), "1")
	older.ID = "evt_dup_old"
	older.EnrichedAt = lo.ToPtr(Day(4, 1))
	newer := NewTestEvent("tx_dup", Day(6, 0), "2")
	newer.ID = "evt_dup_new"
	newer.EnrichedAt = lo.ToPtr(Day(6, 1))

	require.NoError(t, eventStore.BulkInsertEvents(ctx, []*events.Event{
		NewTestEvent("tx_1", Day(1, 0), "1"),
		older,
		newer,
		NewTestEvent("tx_7", Day(7, 0), "7"),
	}))

	t.Run("tail is deduplicated over the whole window", func(t *testing.T) {
		got, err := store.FindTailEvents(ctx, &events.TailParams{
			FindEventsParams: *findParams(),
			Cutoff:           Day(5, 0),
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"evt_dup_new", "evt_tx_7"},
			lo.Map(got, func(e *events.Event, _ int) string { return e.ID }))
	})

	t.Run("a copy superseded after the cutoff is not in the tail", func(t *testing.T) {
		got, err := store.FindTailEvents(ctx, &events.TailParams{
			FindEventsParams: *findParams(),
			Cutoff:           Day(3, 0),
		})
		require.NoError(t, err)
		assert.NotContains(t, lo.Map(got, func(e *events.Event, _ int) string { return e.ID }), "evt_dup_old")
	})

	t.Run("cutoff outside window", func(t *testing.T) {
		_, err := store.FindTailEvents(ctx, &events.TailParams{
			FindEventsParams: *findParams(),
			Cutoff:           TestPeriodEnd.Add(time.Hour),
		})
		assert.True(t, ierr.IsInvalidBoundary(err))
	})

	t.Run("partials by fingerprint, newest first", func(t *testing.T) {
		params := &events.PartialParams{
			OrganizationID: TestOrganizationID,
			SubscriptionID: TestSubscriptionID,
			Code:           TestCode,
			Fingerprint:    "fp_1",
		}

		_, err := store.GetPartialAggregate(ctx, params)
		assert.True(t, ierr.IsNotFound(err))

		base := events.PartialAggregate{
			OrganizationID: TestOrganizationID,
			SubscriptionID: TestSubscriptionID,
			Code:           TestCode,
			Fingerprint:    "fp_1",
			From:           TestPeriodStart,
		}
		first, second := base, base
		first.Cutoff, first.State, first.CreatedAt = Day(3, 0), []byte(`{"v":1}`), Day(3, 1)
		second.Cutoff, second.State, second.CreatedAt = Day(5, 0), []byte(`{"v":2}`), Day(5, 1)
		require.NoError(t, store.SavePartialAggregate(ctx, &first))
		require.NoError(t, store.SavePartialAggregate(ctx, &second))
		assert.Equal(t, 2, store.PartialCount())

		got, err := store.GetPartialAggregate(ctx, params)
		require.NoError(t, err)
		assert.Equal(t, Day(5, 0), got.Cutoff)
		assert.Equal(t, `{"v":2}`, string(got.State))
		assert.NotEmpty(t, got.ID)
	})

	t.Run("incomplete partial", func(t *testing.T) {
		err := store.SavePartialAggregate(ctx, &events.PartialAggregate{Fingerprint: "fp"})
		assert.True(t, ierr.IsValidation(err))
	})
}

func TestInMemoryStores_MatchEngineDeduplication(t *testing.T) {
	ctx := context.Background()
	eventStore := NewInMemoryEventStore()
	for i, e := range []*events.Event{
		NewTestEvent("tx_1", Day(1, 0), "1"),
		NewTestEvent("tx_1", Day(1, 0), "9"),
	} {
		e.ID = []string{"a", "b"}[i]
		require.NoError(t, eventStore.InsertEvent(ctx, e))
	}

	rows, err := eventStore.FindEvents(ctx, findParams())
	require.NoError(t, err)
	deduped, _ := aggregation.Deduplicate(rows)

	tail, err := NewInMemoryPreAggregatedStore(eventStore).FindTailEvents(ctx, &events.TailParams{
		FindEventsParams: *findParams(),
		Cutoff:           TestPeriodStart,
	})
	require.NoError(t, err)
	assert.Equal(t, deduped, tail)
}
