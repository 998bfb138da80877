package events

import (
	"context"
	"time"

	ierr "github.com/flexprice/usagemeter/internal/errors"
	"github.com/flexprice/usagemeter/internal/validator"
)

// Repository is the row-scan backend. It returns every candidate event of the
// window, duplicates included, so deduplication stays in the aggregation engine.
type Repository interface {
	FindEvents(ctx context.Context, params *FindEventsParams) ([]*Event, error)
}

// PreAggregatedRepository is the pre-aggregated backend. It serves a stored
// partial state up to a cutoff plus the deduplicated events from the cutoff on.
type PreAggregatedRepository interface {
	// GetPartialAggregate returns the latest partial for the fingerprint,
	// or an ErrNotFound error when none was materialized yet
	GetPartialAggregate(ctx context.Context, params *PartialParams) (*PartialAggregate, error)

	// FindTailEvents deduplicates over the whole window and returns the
	// surviving events with a timestamp at or after the cutoff
	FindTailEvents(ctx context.Context, params *TailParams) ([]*Event, error)

	SavePartialAggregate(ctx context.Context, partial *PartialAggregate) error

	// InvalidatePartials removes every partial of the subscription whose
	// cutoff lies after Since. An event at Since is not part of them.
	InvalidatePartials(ctx context.Context, params *InvalidatePartialsParams) error
}

// FindEventsParams scopes an event scan to one subscription and metric code
type FindEventsParams struct {
	OrganizationID string    `json:"organization_id" validate:"required"`
	SubscriptionID string    `json:"subscription_id" validate:"required"`
	Code           string    `json:"code" validate:"required"`
	From           time.Time `json:"from" validate:"required"`
	To             time.Time `json:"to" validate:"required"`

	// MaxTimestamp caps the window inclusively
	MaxTimestamp *time.Time `json:"max_timestamp,omitempty"`
}

func (p *FindEventsParams) Validate() error {
	if err := validator.ValidateRequest(p); err != nil {
		return err
	}
	if !p.From.Before(p.To) {
		return ierr.NewError("from must be before to").
			WithHintf("Invalid event window %s to %s", p.From, p.To).
			Mark(ierr.ErrInvalidBoundary)
	}
	return nil
}

// Contains reports whether t falls inside [From, To) and under MaxTimestamp
func (p *FindEventsParams) Contains(t time.Time) bool {
	if t.Before(p.From) || !t.Before(p.To) {
		return false
	}
	if p.MaxTimestamp != nil && t.After(*p.MaxTimestamp) {
		return false
	}
	return true
}

// TailParams selects the events of a window from Cutoff on
type TailParams struct {
	FindEventsParams
	Cutoff time.Time `json:"cutoff"`
}

func (p *TailParams) Validate() error {
	if err := p.FindEventsParams.Validate(); err != nil {
		return err
	}
	if p.Cutoff.Before(p.From) || p.Cutoff.After(p.To) {
		return ierr.NewError("cutoff outside of window").
			WithHintf("Cutoff %s must be between %s and %s", p.Cutoff, p.From, p.To).
			Mark(ierr.ErrInvalidBoundary)
	}
	return nil
}

// PartialParams identifies a stored partial aggregate
type PartialParams struct {
	OrganizationID string    `json:"organization_id" validate:"required"`
	SubscriptionID string    `json:"subscription_id" validate:"required"`
	Code           string    `json:"code" validate:"required"`
	Fingerprint    string    `json:"fingerprint" validate:"required"`
	From           time.Time `json:"from"`
}

func (p *PartialParams) Validate() error {
	return validator.ValidateRequest(p)
}

// InvalidatePartialsParams selects the partials a late event makes stale
type InvalidatePartialsParams struct {
	OrganizationID string    `json:"organization_id" validate:"required"`
	SubscriptionID string    `json:"subscription_id" validate:"required"`
	Since          time.Time `json:"since" validate:"required"`
}

func (p *InvalidatePartialsParams) Validate() error {
	return validator.ValidateRequest(p)
}
