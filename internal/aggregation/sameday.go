package aggregation

import (
	"time"

	"github.com/flexprice/usagemeter/internal/domain/events"
	"github.com/flexprice/usagemeter/internal/domain/proration"
	"github.com/samber/lo"
)

// CollapseSameDay applies the same-day rule to the chronological events of a
// single property value: a remove followed by any later event on the same
// calendar day in loc cancels out and is dropped. A remove that is the last
// event of its day is kept.
func CollapseSameDay(evts []*events.Event, loc *time.Location) []*events.Event {
	return collapseSameDay(evts,
		func(e *events.Event) bool { return e.IsRemove() },
		func(e *events.Event) string { return proration.DayKey(e.Timestamp, loc) },
	)
}

func collapseSameDay[T any](items []T, isRemove func(T) bool, day func(T) string) []T {
	out := make([]T, 0, len(items))
	for i, it := range items {
		if isRemove(it) && i+1 < len(items) && day(items[i+1]) == day(it) {
			continue
		}
		out = append(out, it)
	}
	return out
}

// IsActiveUniqueProperty reports whether the value event carries for field was
// already active before event. Only events strictly before it are considered,
// though event itself still counts as the next event of its day, so a remove
// on the same day just before it is cancelled.
func IsActiveUniqueProperty(history []*events.Event, event *events.Event, field string, loc *time.Location) bool {
	value, ok := event.Properties.GetString(field)
	if !ok {
		return false
	}

	prior := lo.Filter(history, func(h *events.Event, _ int) bool {
		if h == event || !h.Before(event) {
			return false
		}
		v, ok := h.Properties.GetString(field)
		return ok && v == value
	})
	if len(prior) == 0 {
		return false
	}

	SortChronologically(prior)
	collapsed := CollapseSameDay(append(prior, event), loc)
	collapsed = collapsed[:len(collapsed)-1]
	if len(collapsed) == 0 {
		return false
	}
	return !collapsed[len(collapsed)-1].IsRemove()
}
