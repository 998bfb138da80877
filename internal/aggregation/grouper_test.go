package aggregation

import (
	"strings"
	"testing"

	"github.com/flexprice/usagemeter/internal/domain/events"
	"github.com/flexprice/usagemeter/internal/domain/usage"
	"github.com/flexprice/usagemeter/internal/types"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroupKeyFor(t *testing.T) {
	e := newEvent("tx_1", at(1, 0), withProps("region", "", "cloud", "aws"))

	key := GroupKeyFor(e, []string{"cloud", "region", "plan"})
	require.Len(t, key, 3)
	assert.Equal(t, usage.GroupValue{Value: "aws"}, key[0])
	assert.Equal(t, usage.GroupValue{Value: ""}, key[1])
	assert.Equal(t, usage.GroupValue{Null: true}, key[2])
	assert.Equal(t, `["aws","",null]`, key.String())
}

func TestGroup(t *testing.T) {
	evts := []*events.Event{
		newEvent("tx_1", at(1, 0), withProps("region", "europe")),
		newEvent("tx_2", at(2, 0)),
		newEvent("tx_3", at(3, 0), withProps("region", "")),
		newEvent("tx_4", at(4, 0), withProps("region", "europe")),
	}

	groups := Group(evts, []string{"region"})
	require.Len(t, groups, 3)

	europe := groups[usage.NewGroupKey(lo.ToPtr("europe")).String()]
	require.NotNil(t, europe)
	assert.Equal(t, []string{"tx_1", "tx_4"}, lo.Map(europe.Events, func(e *events.Event, _ int) string { return e.TransactionID }))

	null := groups[usage.NewGroupKey(nil).String()]
	require.NotNil(t, null)
	assert.Len(t, null.Events, 1)

	empty := groups[usage.NewGroupKey(lo.ToPtr("")).String()]
	require.NotNil(t, empty)
	assert.Len(t, empty.Events, 1)
}

func TestAggregate_GroupedSum(t *testing.T) {
	req := newRequest(types.AggregationSum)
	req.GroupedBy = []string{"region"}

	res := aggregate(t, req, fiveEvents())
	require.True(t, res.IsGrouped())
	require.Len(t, res.Groups, 2)

	europe, ok := res.Group(lo.ToPtr("europe"))
	require.True(t, ok)
	assertDecimal(t, "9", europe)

	null, ok := res.Group(nil)
	require.True(t, ok)
	assertDecimal(t, "6", null)
}

func TestAggregate_GroupingClosure(t *testing.T) {
	evts := []*events.Event{
		newEvent("tx_1", at(0, 1), withAmount("1.25"), withProps("region", "europe", "cloud", "aws")),
		newEvent("tx_2", at(1, 2), withAmount("2"), withProps("region", "us", "cloud", "aws")),
		newEvent("tx_3", at(2, 3), withAmount("0.5"), withProps("cloud", "gcp")),
		newEvent("tx_4", at(3, 4), withAmount("7"), withProps("region", "europe", "cloud", "gcp")),
		newEvent("tx_5", at(9, 5), withAmount("3.1")),
		newEvent("tx_6", at(20, 6), withAmount("11"), withProps("region", "us")),
	}

	for _, kind := range []types.AggregationType{types.AggregationCount, types.AggregationSum} {
		for _, keys := range [][]string{{"region"}, {"cloud"}, {"region", "cloud"}} {
			t.Run(string(kind)+"/"+strings.Join(keys, ","), func(t *testing.T) {
				ungrouped := aggregate(t, newRequest(kind), evts)

				req := newRequest(kind)
				req.GroupedBy = keys
				grouped := aggregate(t, req, evts)

				sum := decimal.Zero
				for _, g := range grouped.Groups {
					sum = sum.Add(g.Value.Decimal)
				}
				assert.True(t, ungrouped.Value.Decimal.Equal(sum), "grouped total %s != %s", sum, ungrouped.Value.Decimal)
			})
		}
	}
}
