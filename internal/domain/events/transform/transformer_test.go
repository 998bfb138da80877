package transform

import (
	"testing"
	"time"

	ierr "github.com/flexprice/usagemeter/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransformPayloadToEvent(t *testing.T) {
	payload := `{
		"event_id": "evt_1",
		"organization_id": "org_1",
		"subscription_id": "sub_1",
		"code": " api_calls ",
		"transaction_id": "tx_1",
		"timestamp": "2024-03-05T10:00:00+01:00",
		"enriched_at": "2024-03-05T09:01:00Z",
		"properties": {"region": "europe", "tokens": 12, "operation_type": "remove"},
		"precise_amount": "1.50"
	}`

	e, err := TransformPayloadToEvent([]byte(payload), "")
	require.NoError(t, err)
	require.NotNil(t, e)

	assert.Equal(t, "evt_1", e.ID)
	assert.Equal(t, "api_calls", e.Code)
	assert.Equal(t, time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC), e.Timestamp)
	require.NotNil(t, e.EnrichedAt)
	assert.Equal(t, time.Date(2024, 3, 5, 9, 1, 0, 0, time.UTC), *e.EnrichedAt)
	assert.Equal(t, "1.5", e.Amount().String())
	assert.Equal(t, []string{"region", "tokens", "operation_type"}, e.Properties.Keys())
	assert.True(t, e.IsRemove())
}

func TestTransformPayloadToEvent_Skips(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{name: "no subscription", payload: `{"organization_id":"org_1","code":"c","timestamp":"2024-03-05T10:00:00Z"}`},
		{name: "blank code", payload: `{"organization_id":"org_1","subscription_id":"s","code":"  ","timestamp":"2024-03-05T10:00:00Z"}`},
		{name: "no timestamp", payload: `{"organization_id":"org_1","subscription_id":"s","code":"c"}`},
		{name: "no organization", payload: `{"subscription_id":"s","code":"c","timestamp":"2024-03-05T10:00:00Z"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := TransformPayloadToEvent([]byte(tt.payload), "")
			assert.NoError(t, err)
			assert.Nil(t, e)
		})
	}
}

func TestTransformPayloadToEvent_Errors(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{name: "not json", payload: `{`},
		{name: "bad timestamp", payload: `{"organization_id":"o","subscription_id":"s","code":"c","timestamp":"yesterday"}`},
		{name: "bad amount", payload: `{"organization_id":"o","subscription_id":"s","code":"c","timestamp":"2024-03-05T10:00:00Z","precise_amount":"ten"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := TransformPayloadToEvent([]byte(tt.payload), "")
			require.Error(t, err)
			assert.True(t, ierr.IsValidation(err))
		})
	}
}

func TestTransformPayloadToEvent_Defaults(t *testing.T) {
	e, err := TransformPayloadToEvent([]byte(`{"subscription_id":"s","code":"c","transaction_id":"tx_9","timestamp":"2024-03-05T10:00:00Z"}`), "org_default")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "org_default", e.OrganizationID)
	assert.Equal(t, "tx_9", e.ID)
	assert.Equal(t, e.Timestamp, e.IngestedAt)
	assert.False(t, e.HasAmount())
}

func TestTransformBatch(t *testing.T) {
	payload := `{
		"organization_id": "org_1",
		"data": [
			{"subscription_id":"s","code":"c","transaction_id":"tx_1","timestamp":"2024-03-05T10:00:00Z"},
			{"subscription_id":"s","timestamp":"2024-03-05T10:00:00Z"},
			{"subscription_id":"s","code":"c","timestamp":"nope"}
		]
	}`

	evts, errs, err := TransformBatch([]byte(payload))
	require.NoError(t, err)
	require.Len(t, evts, 1)
	assert.Equal(t, "org_1", evts[0].OrganizationID)
	assert.Len(t, errs, 1)
}
