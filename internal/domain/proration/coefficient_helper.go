// Package proration turns active intervals into fractions of a billing period.
package proration

import (
	"time"

	"github.com/shopspring/decimal"
)

// DivisionScale is the number of decimal places kept when a fraction is finally divided out
const DivisionScale int32 = 28

// ActiveDays counts the calendar days in loc spanned by [from, to], both
// ends inclusive. A reversed interval spans no days.
func ActiveDays(from, to time.Time, loc *time.Location) int {
	if to.Before(from) {
		return 0
	}
	return daysInDurationWithDST(from, to, loc) + 1
}

// daysInDurationWithDST counts calendar day boundaries crossed between start
// and end in loc. Counting on civil dates keeps 23h and 25h days whole.
func daysInDurationWithDST(start, end time.Time, loc *time.Location) int {
	s := CalendarDay(start, loc)
	e := CalendarDay(end, loc)
	return int(e.Sub(s).Hours() / 24)
}

// CalendarDay returns midnight UTC of the civil date of t in loc
func CalendarDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DayKey formats the civil date of t in loc
func DayKey(t time.Time, loc *time.Location) string {
	return CalendarDay(t, loc).Format(time.DateOnly)
}

func ClampDays(days, durationDays int) int {
	if days < 0 {
		return 0
	}
	if days > durationDays {
		return durationDays
	}
	return days
}

// Seconds returns the exact elapsed seconds between start and end, never negative
func Seconds(start, end time.Time) decimal.Decimal {
	if !end.After(start) {
		return decimal.Zero
	}
	return decimal.NewFromInt(end.Sub(start).Nanoseconds()).Shift(-9)
}

// LastInstant is the last representable instant of a half-open interval ending at end
func LastInstant(end time.Time) time.Time {
	return end.Add(-time.Nanosecond)
}

func Latest(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func Earliest(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
