package aggregation

import (
	"time"

	"github.com/flexprice/usagemeter/internal/domain/events"
	"github.com/flexprice/usagemeter/internal/domain/proration"
	"github.com/flexprice/usagemeter/internal/domain/usage"
	"github.com/shopspring/decimal"
)

type timelineMode int

const (
	timelineUnique timelineMode = iota
	timelineProratedCount
	timelineProratedSum
)

// nullPartition keys events that lack the partition property
const nullPartition = "\x00null"

// timelineAccumulator follows add/remove operations per partition key.
// unique_count counts the keys active at the end. Prorated count and sum
// charge each add for the calendar days until its remove or the window end.
//
// Operations are buffered per key until a later calendar day is seen so the
// same-day rule can look ahead. The buffer is part of the state, which keeps
// a restored partial exact when the cutoff falls inside a day.
type timelineAccumulator struct {
	mode         timelineMode
	field        string
	loc          *time.Location
	windowStart  time.Time
	lastInstant  time.Time
	durationDays int
	state        *TimelineState
}

func newTimelineAccumulator(req *usage.Request, mode timelineMode, st *TimelineState) *timelineAccumulator {
	a := &timelineAccumulator{
		mode:         mode,
		field:        req.FieldName,
		loc:          req.Boundary.Location(),
		windowStart:  req.Boundary.WindowStart(),
		lastInstant:  proration.LastInstant(req.Boundary.WindowEnd()),
		durationDays: req.Boundary.DurationDays,
		state:        st,
	}
	if a.state == nil {
		a.state = &TimelineState{Numerator: decimal.Zero, Keys: map[string]*KeyTimeline{}}
	} else {
		a.state = a.state.clone()
	}
	if a.state.Keys == nil {
		a.state.Keys = map[string]*KeyTimeline{}
	}
	return a
}

func (a *timelineAccumulator) partitionKey(e *events.Event) (string, bool) {
	if a.field == "" {
		return "", a.mode != timelineUnique
	}
	v, ok := e.Properties.GetString(a.field)
	if !ok {
		if a.mode == timelineUnique {
			return "", false
		}
		return nullPartition, true
	}
	return v, true
}

func (a *timelineAccumulator) amount(e *events.Event) decimal.Decimal {
	if a.mode == timelineProratedSum {
		return e.Amount()
	}
	return decimal.NewFromInt(1)
}

func (a *timelineAccumulator) Add(e *events.Event) {
	key, ok := a.partitionKey(e)
	if !ok {
		return
	}

	kt, ok := a.state.Keys[key]
	if !ok {
		kt = &KeyTimeline{}
		a.state.Keys[key] = kt
	}

	day := proration.DayKey(e.Timestamp, a.loc)
	if kt.Day != day {
		a.state.Numerator = a.state.Numerator.Add(a.settle(kt))
		kt.Day = day
	}
	kt.Pending = append(kt.Pending, PendingOp{
		Timestamp: e.Timestamp,
		Remove:    e.IsRemove(),
		Amount:    a.amount(e),
	})
}

// settle applies the buffered operations of the key's day and returns the
// prorated contribution of the adds they closed
func (a *timelineAccumulator) settle(kt *KeyTimeline) decimal.Decimal {
	ops := collapseSameDay(kt.Pending,
		func(op PendingOp) bool { return op.Remove },
		func(PendingOp) string { return kt.Day },
	)
	kt.Pending = nil

	contribution := decimal.Zero
	for _, op := range ops {
		if !op.Remove {
			kt.Active = true
			if a.mode != timelineUnique {
				kt.OpenAdds = append(kt.OpenAdds, OpenAdd{
					Start:  proration.Latest(op.Timestamp, a.windowStart),
					Amount: op.Amount,
				})
			}
			continue
		}

		kt.Active = false
		end := proration.Earliest(op.Timestamp, a.lastInstant)
		for _, open := range kt.OpenAdds {
			contribution = contribution.Add(a.charge(open, end))
		}
		kt.OpenAdds = nil
	}
	return contribution
}

// charge is the amount times the days the add was held until end
func (a *timelineAccumulator) charge(open OpenAdd, end time.Time) decimal.Decimal {
	days := proration.ClampDays(proration.ActiveDays(open.Start, end, a.loc), a.durationDays)
	return open.Amount.Mul(decimal.NewFromInt(int64(days)))
}

func (a *timelineAccumulator) Value() decimal.NullDecimal {
	final := a.clone()

	numerator := final.state.Numerator
	active := int64(0)
	for _, kt := range final.state.Keys {
		numerator = numerator.Add(final.settle(kt))
		for _, open := range kt.OpenAdds {
			numerator = numerator.Add(final.charge(open, final.lastInstant))
		}
		if kt.Active {
			active++
		}
	}

	if a.mode == timelineUnique {
		return decimal.NewNullDecimal(decimal.NewFromInt(active))
	}
	return decimal.NewNullDecimal(numerator.DivRound(
		decimal.NewFromInt(int64(a.durationDays)), proration.DivisionScale))
}

func (a *timelineAccumulator) clone() *timelineAccumulator {
	c := *a
	c.state = a.state.clone()
	return &c
}

func (a *timelineAccumulator) State() AccumulatorState {
	return AccumulatorState{Timeline: a.state.clone()}
}
