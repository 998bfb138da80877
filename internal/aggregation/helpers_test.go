package aggregation

import (
	"context"
	"testing"
	"time"

	"github.com/flexprice/usagemeter/internal/domain/events"
	"github.com/flexprice/usagemeter/internal/domain/usage"
	"github.com/flexprice/usagemeter/internal/logger"
	"github.com/flexprice/usagemeter/internal/types"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	periodStart = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	periodEnd   = time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
)

// at returns periodStart shifted by days and hours
func at(days, hours int) time.Time {
	return periodStart.AddDate(0, 0, days).Add(time.Duration(hours) * time.Hour)
}

type eventOpt func(*events.Event)

func newEvent(tx string, ts time.Time, opts ...eventOpt) *events.Event {
	e := &events.Event{
		ID:             "evt_" + tx,
		OrganizationID: "org_1",
		SubscriptionID: "sub_1",
		Code:           "api_calls",
		TransactionID:  tx,
		Timestamp:      ts,
		IngestedAt:     ts,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func withAmount(v string) eventOpt {
	return func(e *events.Event) {
		e.PreciseAmount = decimal.NewNullDecimal(decimal.RequireFromString(v))
	}
}

func withProps(kv ...string) eventOpt {
	return func(e *events.Event) {
		for i := 0; i+1 < len(kv); i += 2 {
			e.Properties.Set(kv[i], events.NewStringValue(kv[i+1]))
		}
	}
}

func withRemove() eventOpt {
	return withProps(types.PropertyOperationType, string(types.OperationTypeRemove))
}

func withEnrichedAt(t time.Time) eventOpt {
	return func(e *events.Event) { e.EnrichedAt = lo.ToPtr(t) }
}

func withIngestedAt(t time.Time) eventOpt {
	return func(e *events.Event) { e.IngestedAt = t }
}

func withID(id string) eventOpt {
	return func(e *events.Event) { e.ID = id }
}

func newRequest(kind types.AggregationType) *usage.Request {
	return &usage.Request{
		OrganizationID: "org_1",
		SubscriptionID: "sub_1",
		Code:           "api_calls",
		Kind:           kind,
		Boundary: usage.Boundary{
			From:         periodStart,
			To:           periodEnd,
			DurationDays: 31,
		},
	}
}

func testEngine() *Engine {
	return NewEngine(logger.NewNopLogger())
}

func aggregate(t *testing.T, req *usage.Request, evts []*events.Event) *usage.Result {
	t.Helper()
	res, err := testEngine().Aggregate(context.Background(), req, evts)
	require.NoError(t, err)
	return res
}

func assertDecimal(t *testing.T, want string, got decimal.NullDecimal) {
	t.Helper()
	require.True(t, got.Valid, "expected %s, got null", want)
	assert.True(t, decimal.RequireFromString(want).Equal(got.Decimal), "expected %s, got %s", want, got.Decimal)
}

// ratio is days/31 at the engine's division scale
func ratio(days int64) decimal.Decimal {
	return decimal.NewFromInt(days).DivRound(decimal.NewFromInt(31), 28)
}

func fiveEvents() []*events.Event {
	return []*events.Event{
		newEvent("tx_1", at(1, 0), withAmount("1"), withProps("region", "europe")),
		newEvent("tx_2", at(2, 0), withAmount("2")),
		newEvent("tx_3", at(3, 0), withAmount("3"), withProps("region", "europe")),
		newEvent("tx_4", at(4, 0), withAmount("4")),
		newEvent("tx_5", at(5, 0), withAmount("5"), withProps("region", "europe")),
	}
}
