package aggregation

import (
	"time"

	"github.com/flexprice/usagemeter/internal/domain/events"
	"github.com/flexprice/usagemeter/internal/domain/proration"
	"github.com/flexprice/usagemeter/internal/domain/usage"
	"github.com/shopspring/decimal"
)

// weightedSumAccumulator integrates a held quantity over time. The running
// value starts at the initial value at the window start, each event adds its
// amount as a signed delta, and the integral is closed at the observation end.
type weightedSumAccumulator struct {
	end           time.Time
	periodSeconds decimal.Decimal
	state         WeightedState
}

func newWeightedSumAccumulator(req *usage.Request, key usage.GroupKey, st *WeightedState) *weightedSumAccumulator {
	a := &weightedSumAccumulator{
		end:           req.Boundary.ObservationEnd(),
		periodSeconds: proration.Seconds(req.Boundary.From, req.Boundary.To),
	}
	if st != nil {
		a.state = *st
		return a
	}
	a.state = WeightedState{
		Running:   req.InitialValueFor(key),
		LastTime:  req.Boundary.WindowStart(),
		Numerator: decimal.Zero,
	}
	return a
}

func (a *weightedSumAccumulator) Add(e *events.Event) {
	if e.Timestamp.After(a.state.LastTime) {
		a.state.Numerator = a.state.Numerator.Add(
			a.state.Running.Mul(proration.Seconds(a.state.LastTime, e.Timestamp)))
		a.state.LastTime = e.Timestamp
	}
	a.state.Running = a.state.Running.Add(e.Amount())
}

func (a *weightedSumAccumulator) Value() decimal.NullDecimal {
	numerator := a.state.Numerator.Add(
		a.state.Running.Mul(proration.Seconds(a.state.LastTime, a.end)))
	return decimal.NewNullDecimal(numerator.DivRound(a.periodSeconds, proration.DivisionScale))
}

func (a *weightedSumAccumulator) State() AccumulatorState {
	st := a.state
	return AccumulatorState{Weighted: &st}
}
