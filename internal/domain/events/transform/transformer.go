package transform

import (
	"strings"
	"time"

	"github.com/flexprice/usagemeter/internal/domain/events"
	ierr "github.com/flexprice/usagemeter/internal/errors"
	"github.com/flexprice/usagemeter/internal/types"
	jsoniter "github.com/json-iterator/go"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// IngestPayload is one event as published on the events topic
type IngestPayload struct {
	ID                     string            `json:"event_id"`
	OrganizationID         string            `json:"organization_id"`
	SubscriptionID         string            `json:"subscription_id"`
	ExternalSubscriptionID string            `json:"external_subscription_id"`
	Code                   string            `json:"code"`
	TransactionID          string            `json:"transaction_id"`
	Timestamp              string            `json:"timestamp"`
	EnrichedAt             string            `json:"enriched_at"`
	IngestedAt             string            `json:"ingested_at"`
	Properties             events.Properties `json:"properties"`
	PreciseAmount          *string           `json:"precise_amount"`
}

// IngestBatch groups payloads; OrganizationID applies to items missing one
type IngestBatch struct {
	OrganizationID string                `json:"organization_id"`
	Data           []jsoniter.RawMessage `json:"data"`
}

// TransformPayloadToEvent parses one payload into an Event.
// Returns nil without error when the payload lacks its identifying fields
// and should be skipped.
func TransformPayloadToEvent(payload []byte, defaultOrganizationID string) (*events.Event, error) {
	var input IngestPayload
	if err := json.Unmarshal(payload, &input); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to parse event payload").
			Mark(ierr.ErrValidation)
	}

	if input.OrganizationID == "" {
		input.OrganizationID = defaultOrganizationID
	}
	if !isValidPayload(&input) {
		return nil, nil
	}

	timestamp, err := parseTime(input.Timestamp)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHintf("Invalid timestamp %q", input.Timestamp).
			Mark(ierr.ErrValidation)
	}

	e := &events.Event{
		ID:                     input.ID,
		OrganizationID:         input.OrganizationID,
		SubscriptionID:         input.SubscriptionID,
		ExternalSubscriptionID: input.ExternalSubscriptionID,
		Code:                   strings.TrimSpace(input.Code),
		TransactionID:          input.TransactionID,
		Timestamp:              timestamp,
		IngestedAt:             timestamp,
		Properties:             input.Properties,
	}
	if e.ID == "" {
		e.ID = lo.Ternary(input.TransactionID != "", input.TransactionID, types.GenerateUUIDWithPrefix(types.UUID_PREFIX_EVENT))
	}

	if input.EnrichedAt != "" {
		enrichedAt, err := parseTime(input.EnrichedAt)
		if err != nil {
			return nil, ierr.WithError(err).
				WithHintf("Invalid enriched_at %q", input.EnrichedAt).
				Mark(ierr.ErrValidation)
		}
		e.EnrichedAt = &enrichedAt
	}
	if input.IngestedAt != "" {
		if e.IngestedAt, err = parseTime(input.IngestedAt); err != nil {
			return nil, ierr.WithError(err).
				WithHintf("Invalid ingested_at %q", input.IngestedAt).
				Mark(ierr.ErrValidation)
		}
	}

	if input.PreciseAmount != nil && *input.PreciseAmount != "" {
		amount, err := decimal.NewFromString(*input.PreciseAmount)
		if err != nil {
			return nil, ierr.WithError(err).
				WithHintf("Invalid precise_amount %q", *input.PreciseAmount).
				Mark(ierr.ErrValidation)
		}
		e.PreciseAmount = decimal.NewNullDecimal(amount)
	}

	return e, nil
}

// TransformBatch transforms every item of a batch. Invalid items are skipped
// and malformed ones are returned as errors alongside the valid events.
func TransformBatch(payload []byte) ([]*events.Event, []error, error) {
	var batch IngestBatch
	if err := json.Unmarshal(payload, &batch); err != nil {
		return nil, nil, ierr.WithError(err).
			WithHint("Failed to parse event batch").
			Mark(ierr.ErrValidation)
	}

	var (
		result []*events.Event
		errs   []error
	)
	for _, item := range batch.Data {
		e, err := TransformPayloadToEvent(item, batch.OrganizationID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if e != nil {
			result = append(result, e)
		}
	}
	return result, errs, nil
}

func isValidPayload(input *IngestPayload) bool {
	return input.OrganizationID != "" &&
		input.SubscriptionID != "" &&
		strings.TrimSpace(input.Code) != "" &&
		input.Timestamp != ""
}

func parseTime(value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
