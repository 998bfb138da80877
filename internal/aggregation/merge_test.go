package aggregation

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/flexprice/usagemeter/internal/domain/events"
	"github.com/flexprice/usagemeter/internal/domain/usage"
	ierr "github.com/flexprice/usagemeter/internal/errors"
	"github.com/flexprice/usagemeter/internal/types"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// splitFixture mixes same day add/remove pairs, a duplicate whose copies fall
// on different days, events without grouping properties and same timestamp ties
func splitFixture() []*events.Event {
	props := func(user, region string) eventOpt {
		return func(e *events.Event) {
			e.Properties.Set("user", events.NewStringValue(user))
			if region != "" {
				e.Properties.Set("region", events.NewStringValue(region))
			}
		}
	}
	return []*events.Event{
		newEvent("tx_01", at(0, 3), withAmount("2"), props("u1", "eu")),
		newEvent("tx_02", at(1, 9), withAmount("3"), props("u2", "us")),
		newEvent("tx_03", at(1, 12), withAmount("0"), props("u2", "us"), withRemove()),
		newEvent("tx_04", at(1, 15), withAmount("4"), props("u2", "us")),
		newEvent("tx_05", at(3, 23), withAmount("0"), props("u1", "eu"), withRemove()),
		newEvent("tx_06", at(4, 0), withID("dup_old"), withAmount("1"), withEnrichedAt(at(4, 1)), props("u3", "eu")),
		newEvent("tx_06", at(6, 0), withID("dup_new"), withAmount("2"), withEnrichedAt(at(6, 1)), props("u3", "eu")),
		newEvent("tx_08", at(10, 12), withAmount("5.5"), props("u4", "")),
		newEvent("tx_09", at(20, 8), withAmount("-1"), props("u4", ""), withRemove()),
		newEvent("tx_10", at(20, 9), withAmount("1.25"), props("u1", "eu")),
		newEvent("tx_11", at(30, 23), withAmount("7"), props("u5", "us")),
		newEvent("tx_12", at(30, 23), withAmount("0.1"), props("u5", "us"), withRemove()),
	}
}

func splitRequests() map[string]*usage.Request {
	reqs := map[string]*usage.Request{}
	for _, kind := range []types.AggregationType{
		types.AggregationCount,
		types.AggregationSum,
		types.AggregationUniqueCount,
		types.AggregationMax,
		types.AggregationLatest,
		types.AggregationWeightedSum,
	} {
		for _, prorated := range []bool{false, true} {
			if prorated && !kind.SupportsProration() {
				continue
			}
			for _, grouped := range []bool{false, true} {
				req := newRequest(kind)
				req.Prorated = prorated
				req.FieldName = "user"
				req.InitialValue = decimal.RequireFromString("1.5")
				if grouped {
					req.GroupedBy = []string{"region"}
					req.GroupedInitialValues = map[string]decimal.Decimal{
						usage.NewGroupKey(lo.ToPtr("apac")).String(): decimal.NewFromInt(3),
					}
				}
				reqs[fmt.Sprintf("%s/prorated=%t/grouped=%t", kind, prorated, grouped)] = req
			}
		}
	}

	tokyo := newRequest(types.AggregationUniqueCount)
	tokyo.FieldName = "user"
	tokyo.Boundary.Timezone = "Asia/Tokyo"
	reqs["unique_count/tokyo"] = tokyo

	tokyoProrated := newRequest(types.AggregationCount)
	tokyoProrated.Prorated = true
	tokyoProrated.FieldName = "user"
	tokyoProrated.Boundary.Timezone = "Asia/Tokyo"
	reqs["count/prorated/tokyo"] = tokyoProrated

	capped := newRequest(types.AggregationWeightedSum)
	capped.Boundary.MaxTimestamp = lo.ToPtr(at(25, 0))
	reqs["weighted_sum/capped"] = capped

	filtered := newRequest(types.AggregationSum)
	filtered.Prorated = true
	filtered.FieldName = "user"
	filtered.MatchingFilters = map[string][]string{"region": {"eu", "us"}}
	filtered.IgnoredFilters = []map[string][]string{{"user": {"u2"}}}
	reqs["sum/prorated/filtered"] = filtered

	return reqs
}

func splitCutoffs(evts []*events.Event) []time.Time {
	cutoffs := []time.Time{periodStart, periodEnd}
	for _, e := range evts {
		cutoffs = append(cutoffs, e.Timestamp, e.Timestamp.Add(time.Nanosecond))
	}
	for d := 0; d <= 31; d++ {
		cutoffs = append(cutoffs, at(d, 0), at(d, 15))
	}
	cutoffs = lo.Filter(cutoffs, func(c time.Time, _ int) bool {
		return !c.Before(periodStart) && !c.After(periodEnd)
	})
	sort.Slice(cutoffs, func(i, j int) bool { return cutoffs[i].Before(cutoffs[j]) })
	return lo.UniqBy(cutoffs, func(c time.Time) int64 { return c.UnixNano() })
}

func resultValues(res *usage.Result) map[string]string {
	show := func(v decimal.NullDecimal) string {
		if !v.Valid {
			return "null"
		}
		return v.Decimal.String()
	}
	if !res.IsGrouped() {
		return map[string]string{"": show(res.Value)}
	}
	out := map[string]string{}
	for _, g := range res.Groups {
		out[g.Key.String()] = show(g.Value)
	}
	return out
}

func TestMerge_EquivalentAtEverySplit(t *testing.T) {
	ctx := context.Background()
	engine := testEngine()
	all := splitFixture()
	deduped, _ := Deduplicate(all)

	for name, req := range splitRequests() {
		t.Run(name, func(t *testing.T) {
			want, err := engine.Aggregate(ctx, req, all)
			require.NoError(t, err)

			for _, cutoff := range splitCutoffs(all) {
				if capAt := req.Boundary.MaxTimestamp; capAt != nil && cutoff.After(capAt.Add(time.Nanosecond)) {
					continue
				}

				partial, err := engine.BuildPartial(ctx, req, all, cutoff)
				require.NoError(t, err)

				raw, err := EncodePartialState(partial)
				require.NoError(t, err)
				restored, err := DecodePartialState(raw)
				require.NoError(t, err)

				tail := lo.Filter(deduped, func(e *events.Event, _ int) bool {
					return !e.Timestamp.Before(cutoff)
				})

				got, err := engine.Merge(ctx, req, restored, tail)
				require.NoError(t, err)

				assert.Equal(t, resultValues(want), resultValues(got), "cutoff %s", cutoff.Format(time.RFC3339Nano))
				assert.Equal(t, want.EventCount, got.EventCount, "cutoff %s", cutoff.Format(time.RFC3339Nano))
			}
		})
	}
}

func TestMerge_NilPartialIsRowScan(t *testing.T) {
	req := newRequest(types.AggregationSum)
	deduped, _ := Deduplicate(fiveEvents())

	got, err := testEngine().Merge(context.Background(), req, nil, deduped)
	require.NoError(t, err)
	assertDecimal(t, "15", got.Value)
}

func TestMerge_RejectsForeignPartial(t *testing.T) {
	ctx := context.Background()
	engine := testEngine()

	sumReq := newRequest(types.AggregationSum)
	partial, err := engine.BuildPartial(ctx, sumReq, fiveEvents(), at(3, 0))
	require.NoError(t, err)

	t.Run("different kind", func(t *testing.T) {
		_, err := engine.Merge(ctx, newRequest(types.AggregationCount), partial, nil)
		require.Error(t, err)
		assert.True(t, ierr.IsValidation(err))
	})

	t.Run("different filters", func(t *testing.T) {
		req := newRequest(types.AggregationSum)
		req.MatchingFilters = map[string][]string{"region": {"europe"}}
		_, err := engine.Merge(ctx, req, partial, nil)
		require.Error(t, err)
	})

	t.Run("cutoff after max timestamp", func(t *testing.T) {
		req := newRequest(types.AggregationSum)
		req.Boundary.MaxTimestamp = lo.ToPtr(at(2, 0))
		_, err := engine.Merge(ctx, req, partial, nil)
		require.Error(t, err)
		assert.True(t, ierr.IsInvalidBoundary(err))
	})

	t.Run("later max timestamp reuses the partial", func(t *testing.T) {
		req := newRequest(types.AggregationSum)
		req.Boundary.MaxTimestamp = lo.ToPtr(at(4, 0))
		deduped, _ := Deduplicate(fiveEvents())
		tail := lo.Filter(deduped, func(e *events.Event, _ int) bool { return !e.Timestamp.Before(at(3, 0)) })

		got, err := engine.Merge(ctx, req, partial, tail)
		require.NoError(t, err)
		assertDecimal(t, "10", got.Value)
	})
}

func TestBuildPartial_CutoffOutsideBoundary(t *testing.T) {
	_, err := testEngine().BuildPartial(context.Background(), newRequest(types.AggregationSum), fiveEvents(), periodEnd.Add(time.Hour))
	require.Error(t, err)
	assert.True(t, ierr.IsInvalidBoundary(err))
}

func TestDecodePartialState_RejectsUnknownVersion(t *testing.T) {
	_, err := DecodePartialState([]byte(`{"version": 99, "kind": "sum"}`))
	assert.Error(t, err)

	_, err = DecodePartialState([]byte(`not json`))
	assert.Error(t, err)
}
