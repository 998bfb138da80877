package aggregation

import (
	"github.com/flexprice/usagemeter/internal/domain/events"
	"github.com/flexprice/usagemeter/internal/domain/usage"
	ierr "github.com/flexprice/usagemeter/internal/errors"
	"github.com/flexprice/usagemeter/internal/types"
	"github.com/shopspring/decimal"
)

// Accumulator folds a chronological event sequence of one group into a value
type Accumulator interface {
	// Add feeds the next event. Events must arrive in chronological order.
	Add(e *events.Event)
	// Value finalizes without changing the accumulator
	Value() decimal.NullDecimal
	// State snapshots the accumulator for a partial aggregate
	State() AccumulatorState
}

// NewAccumulator returns an empty accumulator for the request's kind
func NewAccumulator(req *usage.Request, key usage.GroupKey) Accumulator {
	switch req.Kind {
	case types.AggregationCount:
		if req.IsProrated() {
			return newTimelineAccumulator(req, timelineProratedCount, nil)
		}
		return &countAccumulator{}
	case types.AggregationSum:
		if req.IsProrated() {
			return newTimelineAccumulator(req, timelineProratedSum, nil)
		}
		return &sumAccumulator{}
	case types.AggregationUniqueCount:
		return newTimelineAccumulator(req, timelineUnique, nil)
	case types.AggregationMax:
		return &maxAccumulator{}
	case types.AggregationLatest:
		return &latestAccumulator{}
	case types.AggregationWeightedSum:
		return newWeightedSumAccumulator(req, key, nil)
	default:
		return nil
	}
}

// RestoreAccumulator rebuilds an accumulator from a snapshot
func RestoreAccumulator(req *usage.Request, key usage.GroupKey, st AccumulatorState) (Accumulator, error) {
	missing := func() error {
		return ierr.NewErrorf("partial state has no %s snapshot", req.Kind).
			WithHint("Partial aggregate was built for a different request").
			Mark(ierr.ErrInternal)
	}

	switch req.Kind {
	case types.AggregationCount:
		if req.IsProrated() {
			if st.Timeline == nil {
				return nil, missing()
			}
			return newTimelineAccumulator(req, timelineProratedCount, st.Timeline), nil
		}
		if st.Count == nil {
			return nil, missing()
		}
		return &countAccumulator{state: *st.Count}, nil
	case types.AggregationSum:
		if req.IsProrated() {
			if st.Timeline == nil {
				return nil, missing()
			}
			return newTimelineAccumulator(req, timelineProratedSum, st.Timeline), nil
		}
		if st.Sum == nil {
			return nil, missing()
		}
		return &sumAccumulator{state: *st.Sum}, nil
	case types.AggregationUniqueCount:
		if st.Timeline == nil {
			return nil, missing()
		}
		return newTimelineAccumulator(req, timelineUnique, st.Timeline), nil
	case types.AggregationMax:
		if st.Max == nil {
			return nil, missing()
		}
		return &maxAccumulator{state: *st.Max}, nil
	case types.AggregationLatest:
		if st.Latest == nil {
			return nil, missing()
		}
		return &latestAccumulator{state: *st.Latest}, nil
	case types.AggregationWeightedSum:
		if st.Weighted == nil {
			return nil, missing()
		}
		return newWeightedSumAccumulator(req, key, st.Weighted), nil
	default:
		return nil, req.Kind.Validate()
	}
}

type countAccumulator struct {
	state CountState
}

func (a *countAccumulator) Add(_ *events.Event) {
	a.state.Count++
}

func (a *countAccumulator) Value() decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.NewFromInt(a.state.Count))
}

func (a *countAccumulator) State() AccumulatorState {
	st := a.state
	return AccumulatorState{Count: &st}
}

type sumAccumulator struct {
	state SumState
}

func (a *sumAccumulator) Add(e *events.Event) {
	a.state.Sum = a.state.Sum.Add(e.Amount())
}

func (a *sumAccumulator) Value() decimal.NullDecimal {
	return decimal.NewNullDecimal(a.state.Sum)
}

func (a *sumAccumulator) State() AccumulatorState {
	st := a.state
	return AccumulatorState{Sum: &st}
}

// maxAccumulator skips events without an amount
type maxAccumulator struct {
	state MaxState
}

func (a *maxAccumulator) Add(e *events.Event) {
	if !e.HasAmount() {
		return
	}
	if !a.state.Max.Valid || e.Amount().GreaterThan(a.state.Max.Decimal) {
		a.state.Max = decimal.NewNullDecimal(e.Amount())
	}
}

func (a *maxAccumulator) Value() decimal.NullDecimal {
	return a.state.Max
}

func (a *maxAccumulator) State() AccumulatorState {
	st := a.state
	return AccumulatorState{Max: &st}
}

// latestAccumulator keeps the amount of the last event carrying one
type latestAccumulator struct {
	state LatestState
}

func (a *latestAccumulator) Add(e *events.Event) {
	if !e.HasAmount() {
		return
	}
	a.state.Value = e.PreciseAmount
	a.state.Timestamp = e.Timestamp
}

func (a *latestAccumulator) Value() decimal.NullDecimal {
	return a.state.Value
}

func (a *latestAccumulator) State() AccumulatorState {
	st := a.state
	return AccumulatorState{Latest: &st}
}
