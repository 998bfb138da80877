package events

import (
	"io"

	ierr "github.com/flexprice/usagemeter/internal/errors"
	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// PropertyType is the scalar type of a property value
type PropertyType string

const (
	PropertyTypeString PropertyType = "string"
	PropertyTypeNumber PropertyType = "number"
	PropertyTypeBool   PropertyType = "boolean"
)

// PropertyValue is a typed scalar carried in an event's property bag.
// Numbers are kept as decimals so numeric aggregation never goes through float64.
type PropertyValue struct {
	kind PropertyType
	str  string
	num  decimal.Decimal
	b    bool
}

func NewStringValue(s string) PropertyValue {
	return PropertyValue{kind: PropertyTypeString, str: s}
}

func NewNumberValue(d decimal.Decimal) PropertyValue {
	return PropertyValue{kind: PropertyTypeNumber, num: d}
}

func NewBoolValue(b bool) PropertyValue {
	return PropertyValue{kind: PropertyTypeBool, b: b}
}

func (v PropertyValue) Type() PropertyType {
	if v.kind == "" {
		return PropertyTypeString
	}
	return v.kind
}

// String returns the canonical representation used for filtering and grouping
func (v PropertyValue) String() string {
	switch v.kind {
	case PropertyTypeNumber:
		return v.num.String()
	case PropertyTypeBool:
		if v.b {
			return "true"
		}
		return "false"
	default:
		return v.str
	}
}

// Decimal returns the numeric value. Strings holding a number are accepted.
func (v PropertyValue) Decimal() (decimal.Decimal, bool) {
	switch v.kind {
	case PropertyTypeNumber:
		return v.num, true
	case PropertyTypeString, "":
		d, err := decimal.NewFromString(v.str)
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	default:
		return decimal.Zero, false
	}
}

func (v PropertyValue) Bool() (bool, bool) {
	if v.kind != PropertyTypeBool {
		return false, false
	}
	return v.b, true
}

func (v PropertyValue) Equal(other PropertyValue) bool {
	if v.Type() != other.Type() {
		return false
	}
	switch v.Type() {
	case PropertyTypeNumber:
		return v.num.Equal(other.num)
	case PropertyTypeBool:
		return v.b == other.b
	default:
		return v.str == other.str
	}
}

// Properties is an insertion-ordered mapping of property keys to typed values.
// The zero value is an empty bag ready to use.
type Properties struct {
	keys   []string
	values map[string]PropertyValue
}

// Property is a single key/value pair
type Property struct {
	Key   string
	Value PropertyValue
}

func NewProperties(props ...Property) Properties {
	var p Properties
	for _, prop := range props {
		p.Set(prop.Key, prop.Value)
	}
	return p
}

// PropertiesFromStrings builds a bag of string values in the order of keys given
func PropertiesFromStrings(kv ...string) Properties {
	var p Properties
	for i := 0; i+1 < len(kv); i += 2 {
		p.Set(kv[i], NewStringValue(kv[i+1]))
	}
	return p
}

// Set adds or replaces a value. Replacing keeps the original key position.
func (p *Properties) Set(key string, value PropertyValue) {
	if p.values == nil {
		p.values = make(map[string]PropertyValue)
	}
	if _, exists := p.values[key]; !exists {
		p.keys = append(p.keys, key)
	}
	p.values[key] = value
}

func (p Properties) Get(key string) (PropertyValue, bool) {
	v, ok := p.values[key]
	return v, ok
}

// GetString returns the canonical string of a property, if present
func (p Properties) GetString(key string) (string, bool) {
	v, ok := p.values[key]
	if !ok {
		return "", false
	}
	return v.String(), true
}

func (p Properties) Has(key string) bool {
	_, ok := p.values[key]
	return ok
}

func (p Properties) Len() int {
	return len(p.keys)
}

// Keys returns a copy of the keys in insertion order
func (p Properties) Keys() []string {
	keys := make([]string, len(p.keys))
	copy(keys, p.keys)
	return keys
}

func (p Properties) Each(fn func(key string, value PropertyValue)) {
	for _, k := range p.keys {
		fn(k, p.values[k])
	}
}

func (p Properties) Clone() Properties {
	var c Properties
	p.Each(func(k string, v PropertyValue) {
		c.Set(k, v)
	})
	return c
}

// ToStringMap flattens the bag into canonical strings
func (p Properties) ToStringMap() map[string]string {
	m := make(map[string]string, len(p.keys))
	p.Each(func(k string, v PropertyValue) {
		m[k] = v.String()
	})
	return m
}

// MarshalJSON writes the bag as a JSON object preserving key order
func (p Properties) MarshalJSON() ([]byte, error) {
	stream := json.BorrowStream(nil)
	defer json.ReturnStream(stream)

	stream.WriteObjectStart()
	for i, k := range p.keys {
		if i > 0 {
			stream.WriteMore()
		}
		stream.WriteObjectField(k)
		v := p.values[k]
		switch v.Type() {
		case PropertyTypeNumber:
			stream.WriteRaw(v.num.String())
		case PropertyTypeBool:
			stream.WriteBool(v.b)
		default:
			stream.WriteString(v.str)
		}
	}
	stream.WriteObjectEnd()

	if stream.Error != nil {
		return nil, ierr.WithError(stream.Error).
			WithHint("Failed to encode event properties").
			Mark(ierr.ErrInternal)
	}

	buf := stream.Buffer()
	out := make([]byte, len(buf))
	copy(out, buf)
	return out, nil
}

// UnmarshalJSON reads a JSON object preserving key order.
// Null values are dropped, nested objects and arrays are kept as their raw JSON text.
func (p *Properties) UnmarshalJSON(data []byte) error {
	iter := json.BorrowIterator(data)
	defer json.ReturnIterator(iter)

	*p = Properties{}
	if iter.WhatIsNext() == jsoniter.NilValue {
		iter.ReadNil()
		return nil
	}

	iter.ReadObjectCB(func(it *jsoniter.Iterator, key string) bool {
		switch it.WhatIsNext() {
		case jsoniter.StringValue:
			p.Set(key, NewStringValue(it.ReadString()))
		case jsoniter.NumberValue:
			num := it.ReadNumber()
			d, err := decimal.NewFromString(string(num))
			if err != nil {
				it.ReportError("decode property "+key, err.Error())
				return false
			}
			p.Set(key, NewNumberValue(d))
		case jsoniter.BoolValue:
			p.Set(key, NewBoolValue(it.ReadBool()))
		case jsoniter.NilValue:
			it.Skip()
		default:
			p.Set(key, NewStringValue(string(it.SkipAndReturnBytes())))
		}
		return true
	})

	if iter.Error != nil && iter.Error != io.EOF {
		return ierr.WithError(iter.Error).
			WithHint("Invalid event properties").
			Mark(ierr.ErrValidation)
	}
	return nil
}

// ParseProperties decodes a JSON object into a property bag
func ParseProperties(raw []byte) (Properties, error) {
	var p Properties
	if len(raw) == 0 {
		return p, nil
	}
	if err := p.UnmarshalJSON(raw); err != nil {
		return Properties{}, err
	}
	return p, nil
}
