package usage

import (
	"time"

	"github.com/flexprice/usagemeter/internal/domain/proration"
	ierr "github.com/flexprice/usagemeter/internal/errors"
	"github.com/flexprice/usagemeter/internal/types"
)

// Boundary is the billing window usage is computed over
type Boundary struct {
	// From is the inclusive period start
	From time.Time `json:"from"`
	// To is the exclusive period end
	To time.Time `json:"to"`

	// ChargesFrom and ChargesTo narrow the window when the charge was
	// attached or detached inside the period
	ChargesFrom *time.Time `json:"charges_from,omitempty"`
	ChargesTo   *time.Time `json:"charges_to,omitempty"`

	// DurationDays is the period length used as the proration denominator
	DurationDays int `json:"duration_days"`

	// MaxTimestamp is an inclusive cap on event timestamps
	MaxTimestamp *time.Time `json:"max_timestamp,omitempty"`

	// Timezone decides calendar days for proration. Empty means UTC.
	Timezone string `json:"timezone,omitempty"`
}

func (b *Boundary) Validate() error {
	if b.From.IsZero() || b.To.IsZero() {
		return ierr.NewError("boundary from and to are required").
			WithHint("Both from and to must be set on the boundary").
			Mark(ierr.ErrInvalidBoundary)
	}
	if !b.From.Before(b.To) {
		return ierr.NewError("boundary from must be before to").
			WithHintf("Invalid boundary %s to %s", b.From.Format(time.RFC3339), b.To.Format(time.RFC3339)).
			Mark(ierr.ErrInvalidBoundary)
	}
	if b.DurationDays <= 0 {
		return ierr.NewErrorf("boundary duration must be positive, got %d", b.DurationDays).
			WithHint("duration_days must be at least 1").
			Mark(ierr.ErrInvalidBoundary)
	}
	if b.ChargesFrom != nil && b.ChargesTo != nil && !b.ChargesFrom.Before(*b.ChargesTo) {
		return ierr.NewError("charges window is empty").
			WithHint("charges_from must be before charges_to").
			Mark(ierr.ErrInvalidBoundary)
	}
	if !b.WindowStart().Before(b.WindowEnd()) {
		return ierr.NewError("charges window does not overlap the boundary").
			WithHint("charges_from and charges_to must intersect from and to").
			Mark(ierr.ErrInvalidBoundary)
	}
	if b.MaxTimestamp != nil && b.MaxTimestamp.Before(b.WindowStart()) {
		return ierr.NewError("max timestamp is before the window").
			WithHint("max_timestamp must not be before the window start").
			Mark(ierr.ErrInvalidBoundary)
	}
	if _, err := types.LoadLocation(b.Timezone); err != nil {
		return ierr.WithError(err).
			WithHintf("Unknown timezone %q", b.Timezone).
			Mark(ierr.ErrInvalidBoundary)
	}
	return nil
}

// Location returns the boundary timezone, UTC when unset or unknown
func (b *Boundary) Location() *time.Location {
	loc, err := types.LoadLocation(b.Timezone)
	if err != nil || loc == nil {
		return time.UTC
	}
	return loc
}

// WindowStart is the inclusive start of the effective window
func (b *Boundary) WindowStart() time.Time {
	if b.ChargesFrom != nil {
		return proration.Latest(b.From, *b.ChargesFrom)
	}
	return b.From
}

// WindowEnd is the exclusive end of the effective window, before any MaxTimestamp cap
func (b *Boundary) WindowEnd() time.Time {
	if b.ChargesTo != nil {
		return proration.Earliest(b.To, *b.ChargesTo)
	}
	return b.To
}

// ObservationEnd is the instant held values stop accruing: the window end,
// or MaxTimestamp when it comes first
func (b *Boundary) ObservationEnd() time.Time {
	end := b.WindowEnd()
	if b.MaxTimestamp != nil && b.MaxTimestamp.Before(end) {
		return *b.MaxTimestamp
	}
	return end
}

// Contains reports whether an event timestamp is in scope
func (b *Boundary) Contains(t time.Time) bool {
	if t.Before(b.WindowStart()) || !t.Before(b.WindowEnd()) {
		return false
	}
	if b.MaxTimestamp != nil && t.After(*b.MaxTimestamp) {
		return false
	}
	return true
}

// PeriodSeconds is the full period length used to normalize time weighted values
func (b *Boundary) PeriodSeconds() time.Duration {
	return b.To.Sub(b.From)
}
