package aggregation

import (
	"fmt"
	"sort"

	"github.com/flexprice/usagemeter/internal/domain/events"
	"github.com/flexprice/usagemeter/internal/domain/usage"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// Deduplicate keeps one event per transaction id and returns the survivors in
// chronological order. The surviving copy is the one with the greatest
// EnrichedAt (present beats absent), then the greatest IngestedAt, then the
// greatest ID. Copies enriched at the same instant with different amounts are
// reported as ambiguous duplicates; the same rule still picks the survivor.
func Deduplicate(evts []*events.Event) ([]*events.Event, []usage.Warning) {
	byTransaction := lo.GroupBy(evts, dedupKey)

	result := make([]*events.Event, 0, len(byTransaction))
	var warnings []usage.Warning
	for tx, copies := range byTransaction {
		winner := copies[0]
		for _, c := range copies[1:] {
			if preferred(c, winner) {
				winner = c
			}
		}
		if ambiguous(winner, copies) {
			warnings = append(warnings, usage.Warning{
				Code:          usage.WarningAmbiguousDuplicate,
				Message:       fmt.Sprintf("copies of transaction %s share enriched_at and differ in precise_amount", tx),
				TransactionID: tx,
			})
		}
		result = append(result, winner)
	}

	SortChronologically(result)
	sort.Slice(warnings, func(i, j int) bool {
		return warnings[i].TransactionID < warnings[j].TransactionID
	})
	return result, warnings
}

// dedupKey falls back to the row id for events without a transaction id
func dedupKey(e *events.Event) string {
	if e.TransactionID == "" {
		return "id:" + e.ID
	}
	return e.TransactionID
}

// preferred reports whether a should be kept over b
func preferred(a, b *events.Event) bool {
	switch {
	case a.EnrichedAt != nil && b.EnrichedAt == nil:
		return true
	case a.EnrichedAt == nil && b.EnrichedAt != nil:
		return false
	case a.EnrichedAt != nil && !a.EnrichedAt.Equal(*b.EnrichedAt):
		return a.EnrichedAt.After(*b.EnrichedAt)
	}
	if !a.IngestedAt.Equal(b.IngestedAt) {
		return a.IngestedAt.After(b.IngestedAt)
	}
	return a.ID > b.ID
}

func ambiguous(winner *events.Event, copies []*events.Event) bool {
	if winner.EnrichedAt == nil {
		return false
	}
	for _, c := range copies {
		if c == winner || c.EnrichedAt == nil || !c.EnrichedAt.Equal(*winner.EnrichedAt) {
			continue
		}
		if !sameAmount(c.PreciseAmount, winner.PreciseAmount) {
			return true
		}
	}
	return false
}

func sameAmount(a, b decimal.NullDecimal) bool {
	if a.Valid != b.Valid {
		return false
	}
	return !a.Valid || a.Decimal.Equal(b.Decimal)
}

// SortChronologically orders events by timestamp, transaction id and id
func SortChronologically(evts []*events.Event) {
	sort.SliceStable(evts, func(i, j int) bool {
		return evts[i].Before(evts[j])
	})
}
