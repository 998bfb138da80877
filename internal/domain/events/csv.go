package events

import (
	"io"
	"time"

	ierr "github.com/flexprice/usagemeter/internal/errors"
	"github.com/gocarina/gocsv"
	"github.com/shopspring/decimal"
)

// EventRecord is the flat CSV shape of an event.
// Properties are carried as a JSON object in a single column.
type EventRecord struct {
	ID                     string `csv:"id"`
	OrganizationID         string `csv:"organization_id"`
	SubscriptionID         string `csv:"subscription_id"`
	ExternalSubscriptionID string `csv:"external_subscription_id,omitempty"`
	Code                   string `csv:"code"`
	TransactionID          string `csv:"transaction_id"`
	Timestamp              string `csv:"timestamp"`
	EnrichedAt             string `csv:"enriched_at,omitempty"`
	IngestedAt             string `csv:"ingested_at,omitempty"`
	Properties             string `csv:"properties,omitempty"`
	PreciseAmount          string `csv:"precise_amount,omitempty"`
}

// ToEvent parses the record. Timestamps are RFC3339.
func (r *EventRecord) ToEvent() (*Event, error) {
	ts, err := time.Parse(time.RFC3339Nano, r.Timestamp)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHintf("Invalid timestamp %q for transaction %s", r.Timestamp, r.TransactionID).
			Mark(ierr.ErrValidation)
	}

	event := &Event{
		ID:                     r.ID,
		OrganizationID:         r.OrganizationID,
		SubscriptionID:         r.SubscriptionID,
		ExternalSubscriptionID: r.ExternalSubscriptionID,
		Code:                   r.Code,
		TransactionID:          r.TransactionID,
		Timestamp:              ts,
		IngestedAt:             ts,
	}

	if r.EnrichedAt != "" {
		enrichedAt, err := time.Parse(time.RFC3339Nano, r.EnrichedAt)
		if err != nil {
			return nil, ierr.WithError(err).
				WithHintf("Invalid enriched_at %q for transaction %s", r.EnrichedAt, r.TransactionID).
				Mark(ierr.ErrValidation)
		}
		event.EnrichedAt = &enrichedAt
	}

	if r.IngestedAt != "" {
		event.IngestedAt, err = time.Parse(time.RFC3339Nano, r.IngestedAt)
		if err != nil {
			return nil, ierr.WithError(err).
				WithHintf("Invalid ingested_at %q for transaction %s", r.IngestedAt, r.TransactionID).
				Mark(ierr.ErrValidation)
		}
	}

	if event.Properties, err = ParseProperties([]byte(r.Properties)); err != nil {
		return nil, err
	}

	if r.PreciseAmount != "" {
		amount, err := decimal.NewFromString(r.PreciseAmount)
		if err != nil {
			return nil, ierr.WithError(err).
				WithHintf("Invalid precise_amount %q for transaction %s", r.PreciseAmount, r.TransactionID).
				Mark(ierr.ErrValidation)
		}
		event.PreciseAmount = decimal.NewNullDecimal(amount)
	}

	if event.ID == "" {
		event.ID = event.TransactionID
	}

	return event, nil
}

// NewEventRecord flattens an event for CSV output
func NewEventRecord(e *Event) (*EventRecord, error) {
	props, err := e.Properties.MarshalJSON()
	if err != nil {
		return nil, err
	}

	r := &EventRecord{
		ID:                     e.ID,
		OrganizationID:         e.OrganizationID,
		SubscriptionID:         e.SubscriptionID,
		ExternalSubscriptionID: e.ExternalSubscriptionID,
		Code:                   e.Code,
		TransactionID:          e.TransactionID,
		Timestamp:              e.Timestamp.Format(time.RFC3339Nano),
		IngestedAt:             e.IngestedAt.Format(time.RFC3339Nano),
		Properties:             string(props),
	}
	if e.EnrichedAt != nil {
		r.EnrichedAt = e.EnrichedAt.Format(time.RFC3339Nano)
	}
	if e.PreciseAmount.Valid {
		r.PreciseAmount = e.PreciseAmount.Decimal.String()
	}
	return r, nil
}

// ReadEventsCSV decodes a CSV stream with a header row into events
func ReadEventsCSV(r io.Reader) ([]*Event, error) {
	var records []*EventRecord
	if err := gocsv.Unmarshal(r, &records); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to read events CSV").
			Mark(ierr.ErrValidation)
	}

	result := make([]*Event, 0, len(records))
	for _, rec := range records {
		event, err := rec.ToEvent()
		if err != nil {
			return nil, err
		}
		result = append(result, event)
	}
	return result, nil
}

// WriteEventsCSV encodes events as CSV with a header row
func WriteEventsCSV(w io.Writer, evts []*Event) error {
	records := make([]*EventRecord, 0, len(evts))
	for _, e := range evts {
		rec, err := NewEventRecord(e)
		if err != nil {
			return err
		}
		records = append(records, rec)
	}

	if err := gocsv.Marshal(&records, w); err != nil {
		return ierr.WithError(err).
			WithHint("Failed to write events CSV").
			Mark(ierr.ErrInternal)
	}
	return nil
}
