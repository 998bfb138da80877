package events

import (
	"time"

	"github.com/flexprice/usagemeter/internal/types"
	"github.com/shopspring/decimal"
)

// Event is a single usage record. Events are immutable once ingested.
// Several events may share a TransactionID when the same logical transaction
// was re-enriched or re-ingested; only one of them counts toward usage.
type Event struct {
	// ID is the unique row identifier
	ID string `json:"id"`

	OrganizationID         string `json:"organization_id"`
	SubscriptionID         string `json:"subscription_id"`
	ExternalSubscriptionID string `json:"external_subscription_id,omitempty"`

	// Code is the billable metric code the event reports against
	Code string `json:"code"`

	// TransactionID is the client supplied idempotency key
	TransactionID string `json:"transaction_id"`

	// Timestamp is when the usage happened
	Timestamp time.Time `json:"timestamp"`

	// EnrichedAt is set once the event went through enrichment
	EnrichedAt *time.Time `json:"enriched_at,omitempty"`

	// IngestedAt is when the row was written by the ingestion pipeline
	IngestedAt time.Time `json:"ingested_at"`

	Properties Properties `json:"properties"`

	// PreciseAmount is the numeric value extracted from the metric's field
	PreciseAmount decimal.NullDecimal `json:"precise_amount"`
}

// Amount returns the precise amount, or zero when the event carries none
func (e *Event) Amount() decimal.Decimal {
	if !e.PreciseAmount.Valid {
		return decimal.Zero
	}
	return e.PreciseAmount.Decimal
}

func (e *Event) HasAmount() bool {
	return e.PreciseAmount.Valid
}

func (e *Event) Property(key string) (PropertyValue, bool) {
	return e.Properties.Get(key)
}

// OperationType reads the add/remove marker from the properties.
// Anything other than an explicit remove is an add.
func (e *Event) OperationType() types.OperationType {
	v, ok := e.Properties.Get(types.PropertyOperationType)
	if ok && types.OperationType(v.String()) == types.OperationTypeRemove {
		return types.OperationTypeRemove
	}
	return types.OperationTypeAdd
}

func (e *Event) IsRemove() bool {
	return e.OperationType() == types.OperationTypeRemove
}

// Before orders events by timestamp, then by transaction id, then by id
func (e *Event) Before(other *Event) bool {
	if !e.Timestamp.Equal(other.Timestamp) {
		return e.Timestamp.Before(other.Timestamp)
	}
	if e.TransactionID != other.TransactionID {
		return e.TransactionID < other.TransactionID
	}
	return e.ID < other.ID
}

// PartialAggregate is a persisted aggregation state covering [From, Cutoff)
// of a boundary. State is an opaque blob produced by the aggregation engine.
type PartialAggregate struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	SubscriptionID string    `json:"subscription_id"`
	Code           string    `json:"code"`
	Fingerprint    string    `json:"fingerprint"`
	From           time.Time `json:"from"`
	Cutoff         time.Time `json:"cutoff"`
	State          []byte    `json:"state"`
	EventCount     uint64    `json:"event_count"`
	CreatedAt      time.Time `json:"created_at"`
}
