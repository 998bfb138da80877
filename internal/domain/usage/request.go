package usage

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/flexprice/usagemeter/internal/domain/events"
	ierr "github.com/flexprice/usagemeter/internal/errors"
	"github.com/flexprice/usagemeter/internal/types"
	"github.com/flexprice/usagemeter/internal/validator"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// Request describes one usage computation for a subscription and metric code
type Request struct {
	OrganizationID string `json:"organization_id" validate:"required"`
	SubscriptionID string `json:"subscription_id" validate:"required"`
	Code           string `json:"code" validate:"required"`

	Boundary Boundary              `json:"boundary"`
	Kind     types.AggregationType `json:"kind" validate:"required"`
	Prorated bool                  `json:"prorated,omitempty"`

	// FieldName is the property unique_count counts distinct values of.
	// Prorated count and sum use it to pair removes with their adds.
	FieldName string `json:"field_name,omitempty"`

	GroupedBy []string `json:"grouped_by,omitempty"`
	// GroupedByValues pins grouping properties to one value each
	GroupedByValues map[string]string `json:"grouped_by_values,omitempty"`

	// MatchingFilters keeps events whose property is one of the listed values
	MatchingFilters map[string][]string `json:"matching_filters,omitempty"`
	// IgnoredFilters drops events matching every key of any listed entry
	IgnoredFilters []map[string][]string `json:"ignored_filters,omitempty"`

	// InitialValue is the weighted_sum value carried in at the window start
	InitialValue decimal.Decimal `json:"initial_value"`
	// GroupedInitialValues carries per group initial values keyed by GroupKey.String()
	GroupedInitialValues map[string]decimal.Decimal `json:"grouped_initial_values,omitempty"`
}

// Validate checks the boundary first so an invalid window never reaches a store
func (r *Request) Validate() error {
	if err := r.Boundary.Validate(); err != nil {
		return err
	}
	if err := validator.ValidateRequest(r); err != nil {
		return err
	}
	if err := r.Kind.Validate(); err != nil {
		return err
	}
	if r.Kind.RequiresField() && r.FieldName == "" {
		return ierr.NewErrorf("field_name is required for %s", r.Kind).
			WithHint("Set field_name to the property whose distinct values are counted").
			Mark(ierr.ErrValidation)
	}
	if lo.Contains(r.GroupedBy, "") {
		return ierr.NewError("grouped_by contains an empty key").
			WithHint("Grouping keys must be non-empty property names").
			Mark(ierr.ErrValidation)
	}
	if dup := lo.FindDuplicates(r.GroupedBy); len(dup) > 0 {
		return ierr.NewErrorf("grouped_by contains duplicate keys %v", dup).
			WithHint("Each grouping key may appear once").
			Mark(ierr.ErrValidation)
	}
	for k := range r.GroupedInitialValues {
		key, err := ParseGroupKey(k)
		if err != nil {
			return err
		}
		if len(key) != len(r.GroupedBy) {
			return ierr.NewErrorf("grouped initial value key %s does not match grouped_by", k).
				WithHintf("Keys must have %d components", len(r.GroupedBy)).
				Mark(ierr.ErrValidation)
		}
	}
	return nil
}

func (r *Request) IsGrouped() bool {
	return len(r.GroupedBy) > 0
}

// IsProrated reports whether proration changes the result for this kind
func (r *Request) IsProrated() bool {
	return r.Prorated && r.Kind.SupportsProration()
}

// InitialValueFor returns the weighted_sum initial value of a group
func (r *Request) InitialValueFor(key GroupKey) decimal.Decimal {
	if !r.IsGrouped() {
		return r.InitialValue
	}
	if v, ok := r.GroupedInitialValues[key.String()]; ok {
		return v
	}
	return decimal.Zero
}

// FindEventsParams scopes the store read to the request window
func (r *Request) FindEventsParams() *events.FindEventsParams {
	return &events.FindEventsParams{
		OrganizationID: r.OrganizationID,
		SubscriptionID: r.SubscriptionID,
		Code:           r.Code,
		From:           r.Boundary.WindowStart(),
		To:             r.Boundary.WindowEnd(),
		MaxTimestamp:   r.Boundary.MaxTimestamp,
	}
}

// Fingerprint identifies the request shape a partial aggregate was built for.
// MaxTimestamp is left out so a partial serves any cap at or after its cutoff.
func (r *Request) Fingerprint() string {
	h := sha256.New()
	field := func(name string, values ...string) {
		fmt.Fprintf(h, "%s:%d", name, len(values))
		for _, v := range values {
			fmt.Fprintf(h, ":%q", v)
		}
		h.Write([]byte{'\n'})
	}
	instant := func(t *time.Time) string {
		if t == nil {
			return ""
		}
		return strconv.FormatInt(t.UnixNano(), 10)
	}

	field("o", r.OrganizationID)
	field("s", r.SubscriptionID)
	field("c", r.Code)
	field("f", instant(&r.Boundary.From))
	field("t", instant(&r.Boundary.To))
	field("cf", instant(r.Boundary.ChargesFrom))
	field("ct", instant(r.Boundary.ChargesTo))
	field("d", strconv.Itoa(r.Boundary.DurationDays))
	field("tz", r.Boundary.Timezone)
	field("k", string(r.Kind))
	field("p", strconv.FormatBool(r.IsProrated()))
	field("fn", r.FieldName)
	field("g", r.GroupedBy...)
	for _, k := range sortedKeys(r.GroupedByValues) {
		field("gv", k, r.GroupedByValues[k])
	}
	for _, k := range sortedKeys(r.MatchingFilters) {
		vals := append([]string(nil), r.MatchingFilters[k]...)
		sort.Strings(vals)
		field("mf", append([]string{k}, vals...)...)
	}
	for i, entry := range r.IgnoredFilters {
		for _, k := range sortedKeys(entry) {
			field("if", append([]string{strconv.Itoa(i), k}, entry[k]...)...)
		}
	}
	field("iv", r.InitialValue.String())
	for _, k := range sortedKeys(r.GroupedInitialValues) {
		field("giv", k, r.GroupedInitialValues[k].String())
	}

	return hex.EncodeToString(h.Sum(nil))
}

func sortedKeys[V any](m map[string]V) []string {
	keys := lo.Keys(m)
	sort.Strings(keys)
	return keys
}
