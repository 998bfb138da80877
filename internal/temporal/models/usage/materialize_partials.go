package usage

import (
	"time"

	"github.com/flexprice/usagemeter/internal/domain/usage"
	ierr "github.com/flexprice/usagemeter/internal/errors"
)

// AggregateUsageInput is the input of the aggregate usage activity
type AggregateUsageInput struct {
	Request *usage.Request `json:"request"`
}

func (i *AggregateUsageInput) Validate() error {
	if i.Request == nil {
		return ierr.NewError("request is required").
			WithHint("Aggregation request is required").
			Mark(ierr.ErrValidation)
	}
	return nil
}

// MaterializePartialInput is the input of the materialize partial activity
type MaterializePartialInput struct {
	Request *usage.Request `json:"request"`
	Cutoff  time.Time      `json:"cutoff"`
}

// MaterializePartialsWorkflowInput snapshots every request at one cutoff
type MaterializePartialsWorkflowInput struct {
	Requests []*usage.Request `json:"requests"`
	Cutoff   time.Time        `json:"cutoff"`
}

func (i *MaterializePartialsWorkflowInput) Validate() error {
	if len(i.Requests) == 0 {
		return ierr.NewError("requests are required").
			WithHint("At least one request is required").
			Mark(ierr.ErrValidation)
	}
	if i.Cutoff.IsZero() {
		return ierr.NewError("cutoff is required").
			WithHint("Cutoff is required").
			Mark(ierr.ErrValidation)
	}
	for idx, req := range i.Requests {
		if req == nil {
			return ierr.NewErrorf("request %d is nil", idx).
				WithHint("Requests cannot contain empty entries").
				Mark(ierr.ErrValidation)
		}
	}
	return nil
}

// PartialSummary identifies one materialized partial
type PartialSummary struct {
	ID             string    `json:"id"`
	SubscriptionID string    `json:"subscription_id"`
	Code           string    `json:"code"`
	Fingerprint    string    `json:"fingerprint"`
	Cutoff         time.Time `json:"cutoff"`
	EventCount     uint64    `json:"event_count"`
}

type MaterializePartialsWorkflowResult struct {
	Partials    []PartialSummary `json:"partials"`
	Failed      int              `json:"failed"`
	CompletedAt time.Time        `json:"completed_at"`
}
