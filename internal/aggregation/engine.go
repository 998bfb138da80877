// Package aggregation turns deduplicated, filtered and grouped usage events
// into billable quantities.
package aggregation

import (
	"context"
	"sort"
	"time"

	"github.com/flexprice/usagemeter/internal/domain/chargefilter"
	"github.com/flexprice/usagemeter/internal/domain/events"
	"github.com/flexprice/usagemeter/internal/domain/usage"
	ierr "github.com/flexprice/usagemeter/internal/errors"
	"github.com/flexprice/usagemeter/internal/logger"
	"github.com/flexprice/usagemeter/internal/types"
	"github.com/samber/lo"
)

// Engine runs the aggregation pipeline. It holds no per request state and is
// safe for concurrent use.
type Engine struct {
	logger *logger.Logger
}

func NewEngine(log *logger.Logger) *Engine {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Engine{logger: log}
}

// Prepare deduplicates the candidate events, clips them to the boundary and
// applies the request's filters and pinned group values. The result is in
// chronological order.
func (e *Engine) Prepare(ctx context.Context, req *usage.Request, evts []*events.Event) ([]*events.Event, []usage.Warning) {
	deduped, warnings := Deduplicate(evts)
	e.reportWarnings(ctx, req, warnings)

	restriction := chargefilter.Restriction{
		Matching: req.MatchingFilters,
		Ignored:  req.IgnoredFilters,
	}
	prepared := lo.Filter(deduped, func(ev *events.Event, _ int) bool {
		if !req.Boundary.Contains(ev.Timestamp) {
			return false
		}
		for k, v := range req.GroupedByValues {
			if got, ok := ev.Properties.GetString(k); !ok || got != v {
				return false
			}
		}
		return restriction.Allows(ev.Properties)
	})
	return prepared, warnings
}

// Aggregate computes the request over the candidate events of a row-scan read
func (e *Engine) Aggregate(ctx context.Context, req *usage.Request, evts []*events.Event) (*usage.Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	e.logIgnoredProration(ctx, req)

	prepared, warnings := e.Prepare(ctx, req, evts)

	r, err := newRun(req)
	if err != nil {
		return nil, err
	}

	groups := Group(prepared, req.GroupedBy)
	for _, id := range sortedGroupIDs(groups) {
		g := groups[id]
		acc := r.accumulator(g.Key)
		for _, ev := range g.Events {
			acc.Add(ev)
		}
	}
	r.eventCount = len(prepared)
	r.warnings = warnings

	e.logger.WithContext(ctx).Debugw("aggregated usage",
		"subscription_id", req.SubscriptionID,
		"code", req.Code,
		"kind", req.Kind,
		"event_count", len(prepared),
		"group_count", len(groups),
	)
	return r.result(), nil
}

// BuildPartial aggregates the events before cutoff into a snapshot. evts must
// be the candidates of the whole window so deduplication sees every copy.
func (e *Engine) BuildPartial(ctx context.Context, req *usage.Request, evts []*events.Event, cutoff time.Time) (*PartialState, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if cutoff.Before(req.Boundary.WindowStart()) || cutoff.After(req.Boundary.WindowEnd()) {
		return nil, ierr.NewError("cutoff outside of boundary").
			WithHintf("Cutoff %s must be between %s and %s",
				cutoff.Format(time.RFC3339), req.Boundary.WindowStart().Format(time.RFC3339),
				req.Boundary.WindowEnd().Format(time.RFC3339)).
			Mark(ierr.ErrInvalidBoundary)
	}

	prepared, warnings := e.Prepare(ctx, req, evts)

	r, err := newRun(req)
	if err != nil {
		return nil, err
	}
	for _, ev := range prepared {
		if ev.Timestamp.Before(cutoff) {
			r.add(ev)
		}
	}
	r.warnings = warnings

	return r.state(cutoff), nil
}

// Merge restores a partial snapshot and feeds the tail events at or after its
// cutoff. The tail must already be deduplicated over the whole window.
func (e *Engine) Merge(ctx context.Context, req *usage.Request, partial *PartialState, tail []*events.Event) (*usage.Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	e.logIgnoredProration(ctx, req)

	if partial == nil {
		partial = EmptyPartialState(req)
	}
	if err := partial.Compatible(req); err != nil {
		return nil, err
	}

	r, err := restoreRun(req, partial)
	if err != nil {
		return nil, err
	}

	prepared, warnings := e.Prepare(ctx, req, tail)
	for _, ev := range prepared {
		if !ev.Timestamp.Before(partial.Cutoff) {
			r.add(ev)
		}
	}
	r.warnings = mergeWarnings(partial.Warnings, warnings)

	e.logger.WithContext(ctx).Debugw("merged partial aggregate with tail",
		"subscription_id", req.SubscriptionID,
		"code", req.Code,
		"kind", req.Kind,
		"cutoff", partial.Cutoff,
		"partial_event_count", partial.EventCount,
		"tail_event_count", len(prepared),
	)
	return r.result(), nil
}

// Compatible checks that the snapshot was built for this request and that its
// cutoff does not reach past the request's MaxTimestamp
func (s *PartialState) Compatible(req *usage.Request) error {
	if s.Kind != req.Kind || s.Prorated != req.IsProrated() {
		return ierr.NewErrorf("partial state is %s (prorated=%t), request is %s (prorated=%t)",
			s.Kind, s.Prorated, req.Kind, req.IsProrated()).
			WithHint("Partial aggregate was built for a different request").
			Mark(ierr.ErrValidation)
	}
	if s.Fingerprint != "" && s.Fingerprint != req.Fingerprint() {
		return ierr.NewError("partial state fingerprint mismatch").
			WithHint("Partial aggregate was built for a different request").
			Mark(ierr.ErrValidation)
	}
	if s.Cutoff.Before(req.Boundary.WindowStart()) || s.Cutoff.After(req.Boundary.WindowEnd()) {
		return ierr.NewError("partial cutoff outside of boundary").
			WithHintf("Cutoff %s is outside the requested window", s.Cutoff.Format(time.RFC3339)).
			Mark(ierr.ErrInvalidBoundary)
	}
	if capAt := req.Boundary.MaxTimestamp; capAt != nil && s.Cutoff.After(capAt.Add(time.Nanosecond)) {
		return ierr.NewError("partial cutoff is after max timestamp").
			WithHintf("Partial covers events up to %s, request stops at %s",
				s.Cutoff.Format(time.RFC3339Nano), capAt.Format(time.RFC3339Nano)).
			Mark(ierr.ErrInvalidBoundary)
	}
	return nil
}

func (e *Engine) reportWarnings(ctx context.Context, req *usage.Request, warnings []usage.Warning) {
	for _, w := range warnings {
		e.logger.WithContext(ctx).Warnw("ambiguous duplicate, keeping deterministic copy",
			"transaction_id", w.TransactionID,
			"subscription_id", req.SubscriptionID,
			"code", req.Code,
			"error", ierr.NewError(w.Message).Mark(ierr.ErrAmbiguousDuplicate),
		)
	}
}

func (e *Engine) logIgnoredProration(ctx context.Context, req *usage.Request) {
	if req.Prorated && !req.Kind.SupportsProration() && req.Kind != types.AggregationWeightedSum {
		e.logger.WithContext(ctx).Debugw("prorated flag has no effect for aggregation kind",
			"kind", req.Kind,
			"code", req.Code,
		)
	}
}

func mergeWarnings(lists ...[]usage.Warning) []usage.Warning {
	all := lo.UniqBy(lo.Flatten(lists), func(w usage.Warning) string {
		return w.Code + "/" + w.TransactionID
	})
	sort.Slice(all, func(i, j int) bool {
		return all[i].TransactionID < all[j].TransactionID
	})
	if len(all) == 0 {
		return nil
	}
	return all
}

// run holds the accumulators of one request, one per group
type run struct {
	req          *usage.Request
	accumulators map[string]*groupAccumulator
	eventCount   int
	warnings     []usage.Warning
}

type groupAccumulator struct {
	key usage.GroupKey
	acc Accumulator
}

func newRun(req *usage.Request) (*run, error) {
	r := &run{req: req, accumulators: map[string]*groupAccumulator{}}
	if !req.IsGrouped() {
		r.accumulator(usage.GroupKey{})
		return r, nil
	}
	// held quantities of known groups accrue even without events
	if req.Kind == types.AggregationWeightedSum {
		for k := range req.GroupedInitialValues {
			key, err := usage.ParseGroupKey(k)
			if err != nil {
				return nil, err
			}
			r.accumulator(key)
		}
	}
	return r, nil
}

func restoreRun(req *usage.Request, st *PartialState) (*run, error) {
	if len(st.Groups) == 0 {
		return newRun(req)
	}

	r := &run{
		req:          req,
		accumulators: map[string]*groupAccumulator{},
		eventCount:   st.EventCount,
	}
	for _, g := range st.Groups {
		acc, err := RestoreAccumulator(req, g.Key, g.State)
		if err != nil {
			return nil, err
		}
		r.accumulators[g.Key.String()] = &groupAccumulator{key: g.Key, acc: acc}
	}
	return r, nil
}

func (r *run) accumulator(key usage.GroupKey) Accumulator {
	id := key.String()
	if g, ok := r.accumulators[id]; ok {
		return g.acc
	}
	g := &groupAccumulator{key: key, acc: NewAccumulator(r.req, key)}
	r.accumulators[id] = g
	return g.acc
}

func (r *run) add(ev *events.Event) {
	r.accumulator(GroupKeyFor(ev, r.req.GroupedBy)).Add(ev)
	r.eventCount++
}

func (r *run) result() *usage.Result {
	res := &usage.Result{
		Kind:       r.req.Kind,
		EventCount: r.eventCount,
		Warnings:   r.warnings,
	}

	if !r.req.IsGrouped() {
		res.Value = r.accumulator(usage.GroupKey{}).Value()
		return res
	}

	res.Groups = make([]usage.GroupResult, 0, len(r.accumulators))
	for _, id := range sortedGroupIDs(r.accumulators) {
		g := r.accumulators[id]
		res.Groups = append(res.Groups, usage.GroupResult{Key: g.key, Value: g.acc.Value()})
	}
	return res
}

func (r *run) state(cutoff time.Time) *PartialState {
	st := &PartialState{
		Version:     partialStateVersion,
		Kind:        r.req.Kind,
		Prorated:    r.req.IsProrated(),
		Fingerprint: r.req.Fingerprint(),
		Cutoff:      cutoff,
		EventCount:  r.eventCount,
		Warnings:    r.warnings,
		Groups:      make([]GroupState, 0, len(r.accumulators)),
	}
	for _, id := range sortedGroupIDs(r.accumulators) {
		g := r.accumulators[id]
		st.Groups = append(st.Groups, GroupState{Key: g.key, State: g.acc.State()})
	}
	return st
}
