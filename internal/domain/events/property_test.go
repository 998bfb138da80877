package events

import (
	"testing"

	"github.com/flexprice/usagemeter/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProperties_JSONPreservesOrderAndTypes(t *testing.T) {
	raw := `{"zone":"b","units":12.50,"enabled":true,"nested":{"a":1},"skipped":null,"alpha":"x"}`

	props, err := ParseProperties([]byte(raw))
	require.NoError(t, err)

	assert.Equal(t, []string{"zone", "units", "enabled", "nested", "alpha"}, props.Keys())

	units, ok := props.Get("units")
	require.True(t, ok)
	assert.Equal(t, PropertyTypeNumber, units.Type())
	d, ok := units.Decimal()
	require.True(t, ok)
	assert.True(t, d.Equal(decimal.RequireFromString("12.5")))
	assert.Equal(t, "12.5", units.String())

	enabled, _ := props.Get("enabled")
	b, ok := enabled.Bool()
	assert.True(t, ok)
	assert.True(t, b)

	nested, _ := props.GetString("nested")
	assert.Equal(t, `{"a":1}`, nested)
	assert.False(t, props.Has("skipped"))

	out, err := props.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `{"zone":"b","units":12.5,"enabled":true,"nested":"{\"a\":1}","alpha":"x"}`, string(out))
}

func TestProperties_InvalidJSON(t *testing.T) {
	_, err := ParseProperties([]byte(`{"a":`))
	assert.Error(t, err)

	empty, err := ParseProperties(nil)
	require.NoError(t, err)
	assert.Zero(t, empty.Len())
}

func TestProperties_SetKeepsPosition(t *testing.T) {
	p := PropertiesFromStrings("a", "1", "b", "2")
	p.Set("a", NewNumberValue(decimal.NewFromInt(3)))
	assert.Equal(t, []string{"a", "b"}, p.Keys())
	assert.Equal(t, map[string]string{"a": "3", "b": "2"}, p.ToStringMap())

	clone := p.Clone()
	clone.Set("c", NewStringValue("4"))
	assert.Equal(t, 2, p.Len())
	assert.Equal(t, 3, clone.Len())
}

func TestPropertyValue_Equal(t *testing.T) {
	assert.True(t, NewNumberValue(decimal.RequireFromString("1.0")).Equal(NewNumberValue(decimal.NewFromInt(1))))
	assert.False(t, NewStringValue("1").Equal(NewNumberValue(decimal.NewFromInt(1))))
	assert.True(t, NewBoolValue(false).Equal(NewBoolValue(false)))

	d, ok := NewStringValue("2.75").Decimal()
	assert.True(t, ok)
	assert.Equal(t, "2.75", d.String())

	_, ok = NewBoolValue(true).Decimal()
	assert.False(t, ok)
}

func TestEvent_OperationType(t *testing.T) {
	e := &Event{}
	assert.Equal(t, types.OperationTypeAdd, e.OperationType())

	e.Properties = PropertiesFromStrings(types.PropertyOperationType, "remove")
	assert.True(t, e.IsRemove())

	e.Properties = PropertiesFromStrings(types.PropertyOperationType, "something")
	assert.Equal(t, types.OperationTypeAdd, e.OperationType())
}
