package testutil

import (
	"time"

	"github.com/flexprice/usagemeter/internal/domain/events"
	"github.com/flexprice/usagemeter/internal/domain/usage"
	"github.com/flexprice/usagemeter/internal/types"
	"github.com/shopspring/decimal"
)

const (
	TestOrganizationID = "org_test"
	TestSubscriptionID = "sub_test"
	TestCode           = "api_calls"
)

var (
	TestPeriodStart = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	TestPeriodEnd   = time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
)

// NewTestEvent builds an event of the test subscription. amount may be empty
// and props are key/value string pairs.
func NewTestEvent(tx string, ts time.Time, amount string, props ...string) *events.Event {
	e := &events.Event{
		ID:             "evt_" + tx,
		OrganizationID: TestOrganizationID,
		SubscriptionID: TestSubscriptionID,
		Code:           TestCode,
		TransactionID:  tx,
		Timestamp:      ts,
		IngestedAt:     ts,
		Properties:     events.PropertiesFromStrings(props...),
	}
	if amount != "" {
		e.PreciseAmount = decimal.NewNullDecimal(decimal.RequireFromString(amount))
	}
	return e
}

// NewTestRequest builds a request over the March 2024 test period
func NewTestRequest(kind types.AggregationType) *usage.Request {
	return &usage.Request{
		OrganizationID: TestOrganizationID,
		SubscriptionID: TestSubscriptionID,
		Code:           TestCode,
		Kind:           kind,
		Boundary: usage.Boundary{
			From:         TestPeriodStart,
			To:           TestPeriodEnd,
			DurationDays: 31,
		},
	}
}

// Day returns the test period start shifted by days and hours
func Day(days, hours int) time.Time {
	return TestPeriodStart.AddDate(0, 0, days).Add(time.Duration(hours) * time.Hour)
}
