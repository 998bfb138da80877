package usage

import (
	"testing"
	"time"

	ierr "github.com/flexprice/usagemeter/internal/errors"
	"github.com/flexprice/usagemeter/internal/types"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	from = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	to   = time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
)

func validRequest() *Request {
	return &Request{
		OrganizationID: "org_1",
		SubscriptionID: "sub_1",
		Code:           "api_calls",
		Kind:           types.AggregationSum,
		Boundary:       Boundary{From: from, To: to, DurationDays: 31},
	}
}

func TestBoundary_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(b *Boundary)
		wantErr bool
	}{
		{name: "valid", mutate: func(b *Boundary) {}},
		{name: "timezone abbreviation", mutate: func(b *Boundary) { b.Timezone = "IST" }},
		{name: "zero duration", mutate: func(b *Boundary) { b.DurationDays = 0 }, wantErr: true},
		{name: "negative duration", mutate: func(b *Boundary) { b.DurationDays = -3 }, wantErr: true},
		{name: "empty period", mutate: func(b *Boundary) { b.To = b.From }, wantErr: true},
		{name: "missing from", mutate: func(b *Boundary) { b.From = time.Time{} }, wantErr: true},
		{name: "empty charges window", mutate: func(b *Boundary) {
			b.ChargesFrom = lo.ToPtr(from.AddDate(0, 0, 5))
			b.ChargesTo = lo.ToPtr(from.AddDate(0, 0, 5))
		}, wantErr: true},
		{name: "charges window outside period", mutate: func(b *Boundary) {
			b.ChargesFrom = lo.ToPtr(to.AddDate(0, 0, 1))
		}, wantErr: true},
		{name: "max timestamp before from", mutate: func(b *Boundary) {
			b.MaxTimestamp = lo.ToPtr(from.Add(-time.Second))
		}, wantErr: true},
		{name: "unknown timezone", mutate: func(b *Boundary) { b.Timezone = "Nowhere/Land" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := Boundary{From: from, To: to, DurationDays: 31}
			tt.mutate(&b)
			err := b.Validate()
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, ierr.IsInvalidBoundary(err))
		})
	}
}

func TestBoundary_Window(t *testing.T) {
	b := Boundary{
		From:         from,
		To:           to,
		ChargesFrom:  lo.ToPtr(from.AddDate(0, 0, 4)),
		ChargesTo:    lo.ToPtr(to.AddDate(0, 1, 0)),
		DurationDays: 31,
		MaxTimestamp: lo.ToPtr(from.AddDate(0, 0, 10)),
	}

	assert.Equal(t, from.AddDate(0, 0, 4), b.WindowStart())
	assert.Equal(t, to, b.WindowEnd())
	assert.Equal(t, from.AddDate(0, 0, 10), b.ObservationEnd())

	assert.False(t, b.Contains(from))
	assert.True(t, b.Contains(from.AddDate(0, 0, 4)))
	assert.True(t, b.Contains(from.AddDate(0, 0, 10)))
	assert.False(t, b.Contains(from.AddDate(0, 0, 10).Add(time.Nanosecond)))
	assert.Equal(t, time.UTC, b.Location())
}

func TestRequest_Validate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, validRequest().Validate())
	})

	t.Run("boundary errors come first", func(t *testing.T) {
		req := validRequest()
		req.Boundary.DurationDays = 0
		req.Code = ""
		err := req.Validate()
		require.Error(t, err)
		assert.True(t, ierr.IsInvalidBoundary(err))
	})

	t.Run("missing code", func(t *testing.T) {
		req := validRequest()
		req.Code = ""
		assert.True(t, ierr.IsValidation(req.Validate()))
	})

	t.Run("duplicate grouping keys", func(t *testing.T) {
		req := validRequest()
		req.GroupedBy = []string{"region", "region"}
		assert.True(t, ierr.IsValidation(req.Validate()))
	})

	t.Run("grouped initial value with wrong arity", func(t *testing.T) {
		req := validRequest()
		req.Kind = types.AggregationWeightedSum
		req.GroupedBy = []string{"region", "cloud"}
		req.GroupedInitialValues = map[string]decimal.Decimal{`["eu"]`: decimal.NewFromInt(1)}
		assert.True(t, ierr.IsValidation(req.Validate()))
	})
}

func TestRequest_Fingerprint(t *testing.T) {
	base := validRequest()
	base.MatchingFilters = map[string][]string{"region": {"us", "eu"}}

	same := validRequest()
	same.MatchingFilters = map[string][]string{"region": {"eu", "us"}}
	same.Boundary.MaxTimestamp = lo.ToPtr(from.AddDate(0, 0, 3))
	assert.Equal(t, base.Fingerprint(), same.Fingerprint())

	other := validRequest()
	other.MatchingFilters = map[string][]string{"region": {"eu"}}
	assert.NotEqual(t, base.Fingerprint(), other.Fingerprint())

	prorated := validRequest()
	prorated.MatchingFilters = base.MatchingFilters
	prorated.Prorated = true
	assert.NotEqual(t, base.Fingerprint(), prorated.Fingerprint())

	// the prorated flag does not change max
	maxPlain := validRequest()
	maxPlain.Kind = types.AggregationMax
	maxProrated := validRequest()
	maxProrated.Kind = types.AggregationMax
	maxProrated.Prorated = true
	assert.Equal(t, maxPlain.Fingerprint(), maxProrated.Fingerprint())
}

func TestRequest_FingerprintKeepsFieldBoundaries(t *testing.T) {
	split := validRequest()
	split.GroupedBy = []string{"a", "b"}
	joined := validRequest()
	joined.GroupedBy = []string{"a:b"}
	assert.NotEqual(t, split.Fingerprint(), joined.Fingerprint())

	charged := validRequest()
	charged.Boundary.ChargesFrom = lo.ToPtr(from)
	assert.NotEqual(t, validRequest().Fingerprint(), charged.Fingerprint())

	initial := validRequest()
	initial.InitialValue = decimal.NewFromInt(3)
	assert.NotEqual(t, validRequest().Fingerprint(), initial.Fingerprint())
	assert.Len(t, initial.Fingerprint(), 64)
}

func TestGroupKey_StringMatchesJSON(t *testing.T) {
	key := NewGroupKey(lo.ToPtr(`a<b>&"c"`), nil, lo.ToPtr("é"))
	encoded, err := json.Marshal(key)
	require.NoError(t, err)
	assert.Equal(t, string(encoded), key.String())
	assert.Equal(t, "[]", NewGroupKey().String())
}

func TestGroupKey(t *testing.T) {
	key := NewGroupKey(lo.ToPtr("europe"), nil, lo.ToPtr(""))
	assert.Equal(t, `["europe",null,""]`, key.String())

	parsed, err := ParseGroupKey(key.String())
	require.NoError(t, err)
	assert.Equal(t, key, parsed)

	assert.Equal(t, map[string]*string{
		"region": lo.ToPtr("europe"),
		"plan":   nil,
		"cloud":  lo.ToPtr(""),
	}, key.Map([]string{"region", "plan", "cloud"}))

	_, err = ParseGroupKey("europe")
	assert.True(t, ierr.IsValidation(err))
}
