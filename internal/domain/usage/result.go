package usage

import (
	"sort"

	ierr "github.com/flexprice/usagemeter/internal/errors"
	"github.com/flexprice/usagemeter/internal/types"
	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// GroupValue is one component of a group key. Null marks an event that
// did not carry the grouping property.
type GroupValue struct {
	Value string
	Null  bool
}

// GroupKey is the tuple of grouping property values, in GroupedBy order
type GroupKey []GroupValue

// NewGroupKey builds a key from optional values. A nil pointer is a null component.
func NewGroupKey(values ...*string) GroupKey {
	key := make(GroupKey, 0, len(values))
	for _, v := range values {
		if v == nil {
			key = append(key, GroupValue{Null: true})
			continue
		}
		key = append(key, GroupValue{Value: *v})
	}
	return key
}

// String encodes the key as a JSON array, e.g. ["europe",null]
func (k GroupKey) String() string {
	stream := json.BorrowStream(nil)
	defer json.ReturnStream(stream)

	stream.WriteArrayStart()
	for i, v := range k {
		if i > 0 {
			stream.WriteMore()
		}
		if v.Null {
			stream.WriteNil()
			continue
		}
		stream.WriteStringWithHTMLEscaped(v.Value)
	}
	stream.WriteArrayEnd()
	return string(stream.Buffer())
}

func (k GroupKey) pointers() []*string {
	values := make([]*string, len(k))
	for i := range k {
		if k[i].Null {
			continue
		}
		v := k[i].Value
		values[i] = &v
	}
	return values
}

// Map pairs the key components with the grouping property names
func (k GroupKey) Map(groupedBy []string) map[string]*string {
	m := make(map[string]*string, len(groupedBy))
	values := k.pointers()
	for i, name := range groupedBy {
		if i < len(values) {
			m[name] = values[i]
		}
	}
	return m
}

func (k GroupKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.pointers())
}

func (k *GroupKey) UnmarshalJSON(data []byte) error {
	var values []*string
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}
	*k = NewGroupKey(values...)
	return nil
}

// ParseGroupKey decodes the String form of a key
func ParseGroupKey(s string) (GroupKey, error) {
	var k GroupKey
	if err := k.UnmarshalJSON([]byte(s)); err != nil {
		return nil, ierr.WithError(err).
			WithHintf("Invalid group key %q, expected a JSON array of strings or nulls", s).
			Mark(ierr.ErrValidation)
	}
	return k, nil
}

// GroupResult is the aggregated value of one group
type GroupResult struct {
	Key   GroupKey            `json:"key"`
	Value decimal.NullDecimal `json:"value"`
}

// Warning is a non fatal condition met while aggregating
type Warning struct {
	Code          string `json:"code"`
	Message       string `json:"message"`
	TransactionID string `json:"transaction_id,omitempty"`
}

const WarningAmbiguousDuplicate = "ambiguous_duplicate"

// Result is the output of an aggregation. Groups is nil for ungrouped requests.
type Result struct {
	Kind       types.AggregationType `json:"kind"`
	Value      decimal.NullDecimal   `json:"value"`
	Groups     []GroupResult         `json:"groups,omitempty"`
	EventCount int                   `json:"event_count"`
	Warnings   []Warning             `json:"warnings,omitempty"`
}

func (r *Result) IsGrouped() bool {
	return r.Groups != nil
}

// Group returns the value of the group with the given key
func (r *Result) Group(values ...*string) (decimal.NullDecimal, bool) {
	want := NewGroupKey(values...).String()
	for _, g := range r.Groups {
		if g.Key.String() == want {
			return g.Value, true
		}
	}
	return decimal.NullDecimal{}, false
}

// SortGroups orders groups by their encoded key
func (r *Result) SortGroups() {
	sort.SliceStable(r.Groups, func(i, j int) bool {
		return r.Groups[i].Key.String() < r.Groups[j].Key.String()
	})
}
