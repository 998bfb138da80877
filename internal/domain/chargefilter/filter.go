// Package chargefilter selects which filter of a charge an event is billed under.
package chargefilter

import (
	"sort"

	"github.com/flexprice/usagemeter/internal/domain/events"
	ierr "github.com/flexprice/usagemeter/internal/errors"
	"github.com/samber/lo"
)

// AllFilterValues is the wildcard value: any value of the key matches,
// but the key itself must be present on the event
const AllFilterValues = "__ALL_FILTER_VALUES__"

// FilterValue is one key of a filter with its accepted values
type FilterValue struct {
	Key    string   `json:"key" validate:"required"`
	Values []string `json:"values" validate:"required,min=1"`
}

// Filter is a conjunction of key constraints attached to a charge
type Filter struct {
	ID       string        `json:"id"`
	ChargeID string        `json:"charge_id,omitempty"`
	Values   []FilterValue `json:"values"`
}

func (f *Filter) Keys() []string {
	return lo.Map(f.Values, func(v FilterValue, _ int) string { return v.Key })
}

// Specificity is the number of keys the filter declares
func (f *Filter) Specificity() int {
	return len(f.Values)
}

// ToMap returns the filter as key to accepted values
func (f *Filter) ToMap() map[string][]string {
	m := make(map[string][]string, len(f.Values))
	for _, v := range f.Values {
		m[v.Key] = append(m[v.Key], v.Values...)
	}
	return m
}

// Matches reports whether every key of the filter is satisfied by props
func (f *Filter) Matches(props events.Properties) bool {
	for _, fv := range f.Values {
		if !valueAccepted(props, fv.Key, fv.Values) {
			return false
		}
	}
	return true
}

func valueAccepted(props events.Properties, key string, accepted []string) bool {
	v, ok := props.GetString(key)
	if !ok {
		return false
	}
	return lo.Contains(accepted, AllFilterValues) || lo.Contains(accepted, v)
}

// Match returns the most specific filter the properties satisfy, or nil when
// none does. Two satisfied filters of the same top specificity are ambiguous.
func Match(props events.Properties, filters []*Filter) (*Filter, error) {
	matched := lo.Filter(filters, func(f *Filter, _ int) bool {
		return f != nil && f.Matches(props)
	})
	if len(matched) == 0 {
		return nil, nil
	}

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].Specificity() != matched[j].Specificity() {
			return matched[i].Specificity() > matched[j].Specificity()
		}
		return matched[i].ID < matched[j].ID
	})

	if len(matched) > 1 && matched[0].Specificity() == matched[1].Specificity() {
		return nil, ierr.NewErrorf("event matches filters %s and %s equally", matched[0].ID, matched[1].ID).
			WithHint("Charge filters overlap with the same number of keys").
			WithReportableDetails(map[string]interface{}{
				"filter_ids": lo.Map(lo.Filter(matched, func(f *Filter, _ int) bool {
					return f.Specificity() == matched[0].Specificity()
				}), func(f *Filter, _ int) string { return f.ID }),
			}).
			Mark(ierr.ErrAmbiguousFilterMatch)
	}

	return matched[0], nil
}

// MatchingVsIgnored splits the properties against the selected filter.
// Matching holds the filter's keys with the event's values, ignored holds
// the event properties the filter does not declare.
func MatchingVsIgnored(props events.Properties, selected *Filter) (map[string]string, map[string]string) {
	matching := make(map[string]string)
	ignored := make(map[string]string)

	declared := map[string]bool{}
	if selected != nil {
		for _, k := range selected.Keys() {
			declared[k] = true
		}
	}

	props.Each(func(k string, v events.PropertyValue) {
		if declared[k] {
			matching[k] = v.String()
			return
		}
		ignored[k] = v.String()
	})
	return matching, ignored
}

// IgnoredFor lists the filters that take precedence over selected for some
// events: strictly more specific filters that can match together with it.
// Usage for selected must exclude the events those filters capture.
func IgnoredFor(selected *Filter, all []*Filter) []map[string][]string {
	if selected == nil {
		return nil
	}

	own := selected.ToMap()
	var ignored []map[string][]string
	for _, other := range all {
		if other == nil || other == selected || other.ID == selected.ID {
			continue
		}
		if other.Specificity() <= selected.Specificity() {
			continue
		}
		if !compatible(own, other.ToMap()) {
			continue
		}
		ignored = append(ignored, other.ToMap())
	}
	return ignored
}

// compatible reports whether some event can satisfy both filters
func compatible(a, b map[string][]string) bool {
	for key, av := range a {
		bv, shared := b[key]
		if !shared {
			continue
		}
		if lo.Contains(av, AllFilterValues) || lo.Contains(bv, AllFilterValues) {
			continue
		}
		if len(lo.Intersect(av, bv)) == 0 {
			return false
		}
	}
	return true
}

// Restriction is the event selection of one filtered charge
type Restriction struct {
	Matching map[string][]string
	Ignored  []map[string][]string
}

// NewRestriction builds the restriction of selected among all filters of a
// charge. It fails with ErrAmbiguousFilterMatch when another filter of the
// same specificity can match an event together with selected and no more
// specific filter captures every such event.
func NewRestriction(selected *Filter, all []*Filter) (Restriction, error) {
	if selected == nil {
		return Restriction{}, nil
	}
	if tie := tiedWith(selected, all); tie != nil {
		return Restriction{}, ierr.NewErrorf("filters %s and %s can match the same event equally", selected.ID, tie.ID).
			WithHint("Charge filters overlap with the same number of keys").
			WithReportableDetails(map[string]interface{}{
				"filter_ids": []string{selected.ID, tie.ID},
			}).
			Mark(ierr.ErrAmbiguousFilterMatch)
	}
	return Restriction{
		Matching: selected.ToMap(),
		Ignored:  IgnoredFor(selected, all),
	}, nil
}

// tiedWith returns the first filter that ties with selected on some event
func tiedWith(selected *Filter, all []*Filter) *Filter {
	own := selected.ToMap()
	for _, other := range all {
		if other == nil || other == selected || other.ID == selected.ID {
			continue
		}
		if other.Specificity() != selected.Specificity() || !compatible(own, other.ToMap()) {
			continue
		}
		overlap := intersect(own, other.ToMap())
		resolved := lo.ContainsBy(all, func(f *Filter) bool {
			return f != nil && f.Specificity() > selected.Specificity() && covers(f.ToMap(), overlap)
		})
		if !resolved {
			return other
		}
	}
	return nil
}

// intersect is the constraint an event satisfying both compatible filters meets
func intersect(a, b map[string][]string) map[string][]string {
	out := make(map[string][]string, len(a)+len(b))
	for key, av := range a {
		out[key] = av
	}
	for key, bv := range b {
		av, shared := out[key]
		switch {
		case !shared, lo.Contains(av, AllFilterValues):
			out[key] = bv
		case lo.Contains(bv, AllFilterValues):
		default:
			out[key] = lo.Intersect(av, bv)
		}
	}
	return out
}

// covers reports whether every event meeting constraint satisfies f
func covers(f, constraint map[string][]string) bool {
	for key, accepted := range f {
		values, ok := constraint[key]
		if !ok {
			return false
		}
		if lo.Contains(accepted, AllFilterValues) {
			continue
		}
		if lo.Contains(values, AllFilterValues) || len(lo.Without(values, accepted...)) > 0 {
			return false
		}
	}
	return true
}

func (r Restriction) IsEmpty() bool {
	return len(r.Matching) == 0 && len(r.Ignored) == 0
}

// Allows reports whether an event with props is selected
func (r Restriction) Allows(props events.Properties) bool {
	for key, accepted := range r.Matching {
		if !valueAccepted(props, key, accepted) {
			return false
		}
	}
	for _, entry := range r.Ignored {
		if len(entry) == 0 {
			continue
		}
		all := true
		for key, values := range entry {
			if !valueAccepted(props, key, values) {
				all = false
				break
			}
		}
		if all {
			return false
		}
	}
	return true
}
