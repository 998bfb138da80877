package aggregation

import (
	"sort"

	"github.com/flexprice/usagemeter/internal/domain/events"
	"github.com/flexprice/usagemeter/internal/domain/usage"
)

// EventGroup is the sub-sequence of events sharing one group key
type EventGroup struct {
	Key    usage.GroupKey
	Events []*events.Event
}

// GroupKeyFor reads the grouping properties of an event in key order.
// A missing property yields a null component, distinct from an empty string.
func GroupKeyFor(e *events.Event, keys []string) usage.GroupKey {
	key := make(usage.GroupKey, 0, len(keys))
	for _, k := range keys {
		v, ok := e.Properties.GetString(k)
		if !ok {
			key = append(key, usage.GroupValue{Null: true})
			continue
		}
		key = append(key, usage.GroupValue{Value: v})
	}
	return key
}

// Group partitions events by the given keys, keeping each group's events in
// input order. The result is keyed by GroupKey.String().
func Group(evts []*events.Event, keys []string) map[string]*EventGroup {
	groups := make(map[string]*EventGroup)
	for _, e := range evts {
		key := GroupKeyFor(e, keys)
		id := key.String()
		g, ok := groups[id]
		if !ok {
			g = &EventGroup{Key: key}
			groups[id] = g
		}
		g.Events = append(g.Events, e)
	}
	return groups
}

func sortedGroupIDs[T any](groups map[string]T) []string {
	ids := make([]string, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
