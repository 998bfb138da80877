package aggregation

import (
	"time"

	"github.com/flexprice/usagemeter/internal/domain/usage"
	ierr "github.com/flexprice/usagemeter/internal/errors"
	"github.com/flexprice/usagemeter/internal/types"
	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const partialStateVersion = 1

// PartialState is the serializable snapshot of a request's accumulators after
// feeding every event before Cutoff. Restoring it and feeding the remaining
// events gives the same result as feeding everything at once.
type PartialState struct {
	Version     int                   `json:"version"`
	Kind        types.AggregationType `json:"kind"`
	Prorated    bool                  `json:"prorated"`
	Fingerprint string                `json:"fingerprint"`
	Cutoff      time.Time             `json:"cutoff"`
	EventCount  int                   `json:"event_count"`
	Groups      []GroupState          `json:"groups"`
	Warnings    []usage.Warning       `json:"warnings,omitempty"`
}

// GroupState is the accumulator snapshot of one group
type GroupState struct {
	Key   usage.GroupKey   `json:"key"`
	State AccumulatorState `json:"state"`
}

// AccumulatorState holds exactly one kind specific snapshot
type AccumulatorState struct {
	Count    *CountState    `json:"count,omitempty"`
	Sum      *SumState      `json:"sum,omitempty"`
	Max      *MaxState      `json:"max,omitempty"`
	Latest   *LatestState   `json:"latest,omitempty"`
	Weighted *WeightedState `json:"weighted,omitempty"`
	Timeline *TimelineState `json:"timeline,omitempty"`
}

type CountState struct {
	Count int64 `json:"count"`
}

type SumState struct {
	Sum decimal.Decimal `json:"sum"`
}

type MaxState struct {
	Max decimal.NullDecimal `json:"max"`
}

type LatestState struct {
	Value     decimal.NullDecimal `json:"value"`
	Timestamp time.Time           `json:"timestamp"`
}

// WeightedState is the running integral of a held quantity.
// Numerator is the sum of value times seconds up to LastTime.
type WeightedState struct {
	Running   decimal.Decimal `json:"running"`
	LastTime  time.Time       `json:"last_time"`
	Numerator decimal.Decimal `json:"numerator"`
}

// TimelineState tracks add/remove history per partition key. Numerator holds
// the settled prorated contributions in amount times days.
type TimelineState struct {
	Numerator decimal.Decimal         `json:"numerator"`
	Keys      map[string]*KeyTimeline `json:"keys"`
}

// KeyTimeline is the state of one partition key. Pending holds the operations
// of Day, which cannot be settled until a later day is seen for the key.
type KeyTimeline struct {
	Active   bool        `json:"active"`
	OpenAdds []OpenAdd   `json:"open_adds,omitempty"`
	Day      string      `json:"day,omitempty"`
	Pending  []PendingOp `json:"pending,omitempty"`
}

// OpenAdd is an add that has not met its remove yet
type OpenAdd struct {
	Start  time.Time       `json:"start"`
	Amount decimal.Decimal `json:"amount"`
}

type PendingOp struct {
	Timestamp time.Time       `json:"timestamp"`
	Remove    bool            `json:"remove"`
	Amount    decimal.Decimal `json:"amount"`
}

func (t *TimelineState) clone() *TimelineState {
	c := &TimelineState{
		Numerator: t.Numerator,
		Keys:      make(map[string]*KeyTimeline, len(t.Keys)),
	}
	for k, kt := range t.Keys {
		c.Keys[k] = &KeyTimeline{
			Active:   kt.Active,
			OpenAdds: append([]OpenAdd(nil), kt.OpenAdds...),
			Day:      kt.Day,
			Pending:  append([]PendingOp(nil), kt.Pending...),
		}
	}
	return c
}

// EncodePartialState serializes a snapshot for storage
func EncodePartialState(state *PartialState) ([]byte, error) {
	raw, err := json.Marshal(state)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to encode partial aggregate state").
			Mark(ierr.ErrInternal)
	}
	return raw, nil
}

// DecodePartialState reads a stored snapshot
func DecodePartialState(raw []byte) (*PartialState, error) {
	var state PartialState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Stored partial aggregate state is unreadable").
			Mark(ierr.ErrInternal)
	}
	if state.Version != partialStateVersion {
		return nil, ierr.NewErrorf("unsupported partial state version %d", state.Version).
			WithHintf("Expected version %d, rematerialize the partial", partialStateVersion).
			Mark(ierr.ErrInternal)
	}
	return &state, nil
}

// EmptyPartialState is the state of a window with nothing aggregated yet
func EmptyPartialState(req *usage.Request) *PartialState {
	return &PartialState{
		Version:     partialStateVersion,
		Kind:        req.Kind,
		Prorated:    req.IsProrated(),
		Fingerprint: req.Fingerprint(),
		Cutoff:      req.Boundary.WindowStart(),
	}
}
