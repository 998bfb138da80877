package chargefilter

import (
	"testing"

	"github.com/flexprice/usagemeter/internal/domain/events"
	ierr "github.com/flexprice/usagemeter/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func filter(id string, kv ...interface{}) *Filter {
	f := &Filter{ID: id}
	for i := 0; i+1 < len(kv); i += 2 {
		f.Values = append(f.Values, FilterValue{Key: kv[i].(string), Values: kv[i+1].([]string)})
	}
	return f
}

func TestMatch(t *testing.T) {
	a := filter("filter_a", "region", []string{"europe"})
	b := filter("filter_b", "region", []string{"europe"}, "plan", []string{"pro"})
	wildcard := filter("filter_w", "cloud", []string{AllFilterValues})

	tests := []struct {
		name    string
		props   events.Properties
		filters []*Filter
		want    *Filter
	}{
		{
			name:    "most specific filter wins",
			props:   events.PropertiesFromStrings("region", "europe", "plan", "pro"),
			filters: []*Filter{a, b},
			want:    b,
		},
		{
			name:    "order of filters does not matter",
			props:   events.PropertiesFromStrings("region", "europe", "plan", "pro"),
			filters: []*Filter{b, a},
			want:    b,
		},
		{
			name:    "less specific filter when the extra key differs",
			props:   events.PropertiesFromStrings("region", "europe", "plan", "free"),
			filters: []*Filter{a, b},
			want:    a,
		},
		{
			name:    "no match is not an error",
			props:   events.PropertiesFromStrings("region", "us"),
			filters: []*Filter{a, b},
			want:    nil,
		},
		{
			name:    "wildcard matches any present value",
			props:   events.PropertiesFromStrings("cloud", "gcp"),
			filters: []*Filter{wildcard},
			want:    wildcard,
		},
		{
			name:    "wildcard requires the key",
			props:   events.PropertiesFromStrings("region", "europe"),
			filters: []*Filter{wildcard},
			want:    nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Match(tt.props, tt.filters)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMatch_TieIsAmbiguous(t *testing.T) {
	byRegion := filter("filter_region", "region", []string{"europe"})
	byPlan := filter("filter_plan", "plan", []string{"pro"})

	_, err := Match(events.PropertiesFromStrings("region", "europe", "plan", "pro"), []*Filter{byRegion, byPlan})
	require.Error(t, err)
	assert.True(t, ierr.IsAmbiguousFilterMatch(err))
	assert.Equal(t, []string{"filter_plan", "filter_region"}, ierr.GetReportableDetails(err)["filter_ids"])
}

func TestMatchingVsIgnored(t *testing.T) {
	selected := filter("filter_b", "region", []string{"europe"}, "plan", []string{"pro"})
	props := events.PropertiesFromStrings("region", "europe", "plan", "pro", "cloud", "aws")
	props.Set("units", events.NewBoolValue(true))

	matching, ignored := MatchingVsIgnored(props, selected)
	assert.Equal(t, map[string]string{"region": "europe", "plan": "pro"}, matching)
	assert.Equal(t, map[string]string{"cloud": "aws", "units": "true"}, ignored)

	matching, ignored = MatchingVsIgnored(props, nil)
	assert.Empty(t, matching)
	assert.Len(t, ignored, 4)
}

func TestIgnoredFor(t *testing.T) {
	a := filter("filter_a", "region", []string{"europe"})
	b := filter("filter_b", "region", []string{"europe"}, "plan", []string{"pro"})
	c := filter("filter_c", "region", []string{"us"}, "plan", []string{"pro"})
	d := filter("filter_d", "cloud", []string{AllFilterValues}, "plan", []string{"free"})

	ignored := IgnoredFor(a, []*Filter{a, b, c, d})
	assert.Equal(t, []map[string][]string{
		{"region": {"europe"}, "plan": {"pro"}},
		{"cloud": {AllFilterValues}, "plan": {"free"}},
	}, ignored)

	assert.Empty(t, IgnoredFor(b, []*Filter{a, b, c, d}))
	assert.Nil(t, IgnoredFor(nil, []*Filter{a}))
}

func TestRestriction_BillsEachEventUnderOneFilter(t *testing.T) {
	a := filter("filter_a", "region", []string{"europe"})
	b := filter("filter_b", "region", []string{"europe"}, "plan", []string{"pro"})
	all := []*Filter{a, b}

	propsList := []events.Properties{
		events.PropertiesFromStrings("region", "europe", "plan", "pro"),
		events.PropertiesFromStrings("region", "europe", "plan", "free"),
		events.PropertiesFromStrings("region", "europe"),
		events.PropertiesFromStrings("region", "us", "plan", "pro"),
	}

	for _, props := range propsList {
		selected, err := Match(props, all)
		require.NoError(t, err)

		billedUnder := 0
		for _, f := range all {
			restriction, err := NewRestriction(f, all)
			require.NoError(t, err)
			if restriction.Allows(props) {
				billedUnder++
				assert.Equal(t, selected, f)
			}
		}
		if selected == nil {
			assert.Zero(t, billedUnder)
		} else {
			assert.Equal(t, 1, billedUnder)
		}
	}
}

func TestRestriction_Empty(t *testing.T) {
	r, err := NewRestriction(nil, nil)
	require.NoError(t, err)
	assert.True(t, r.IsEmpty())
	assert.True(t, r.Allows(events.PropertiesFromStrings("anything", "goes")))
}

func TestNewRestriction_EqualOverlapIsAmbiguous(t *testing.T) {
	region := filter("filter_region", "region", []string{"europe"})
	plan := filter("filter_plan", "plan", []string{"pro"})
	both := filter("filter_both", "region", []string{"europe"}, "plan", []string{"pro"})
	usOnly := filter("filter_us", "region", []string{"us"})
	anyCloud := filter("filter_cloud", "cloud", []string{AllFilterValues})
	wideBoth := filter("filter_wide", "region", []string{AllFilterValues}, "plan", []string{"pro"})

	tests := []struct {
		name      string
		selected  *Filter
		all       []*Filter
		ambiguous bool
	}{
		{
			name:      "different keys overlapping on one event",
			selected:  region,
			all:       []*Filter{region, plan},
			ambiguous: true,
		},
		{
			name:      "either side of the tie",
			selected:  plan,
			all:       []*Filter{region, plan},
			ambiguous: true,
		},
		{
			name:     "disjoint values on the same key",
			selected: region,
			all:      []*Filter{region, usOnly},
		},
		{
			name:     "overlap captured by a more specific filter",
			selected: region,
			all:      []*Filter{region, plan, both},
		},
		{
			name:     "overlap captured by a wildcard filter",
			selected: region,
			all:      []*Filter{region, plan, wideBoth},
		},
		{
			name:      "wildcard key ties with a concrete key",
			selected:  region,
			all:       []*Filter{region, anyCloud},
			ambiguous: true,
		},
		{
			name:     "only filter",
			selected: region,
			all:      []*Filter{region},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRestriction(tt.selected, tt.all)
			if tt.ambiguous {
				require.Error(t, err)
				assert.True(t, ierr.IsAmbiguousFilterMatch(err))
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestNewRestriction_AgreesWithMatch(t *testing.T) {
	region := filter("filter_region", "region", []string{"europe"})
	plan := filter("filter_plan", "plan", []string{"pro"})
	all := []*Filter{region, plan}

	props := events.PropertiesFromStrings("region", "europe", "plan", "pro")
	_, matchErr := Match(props, all)
	require.Error(t, matchErr)

	for _, f := range all {
		_, err := NewRestriction(f, all)
		assert.True(t, ierr.IsAmbiguousFilterMatch(err), f.ID)
	}
}
