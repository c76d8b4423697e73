package wire

import (
	"fmt"
	"strconv"
	"time"

	"github.com/entstore/entstore/entstore/filter"
	"github.com/entstore/entstore/entstore/key"
)

// Value is the tagged wire form of a property or filter value. Exactly
// one field is set. Integers travel as decimal strings so consumers can
// choose their own integer representation on decode.
type Value struct {
	Null      bool             `json:"nullValue,omitempty"`
	String    *string          `json:"stringValue,omitempty"`
	Integer   *string          `json:"integerValue,omitempty"`
	Double    *float64         `json:"doubleValue,omitempty"`
	Boolean   *bool            `json:"booleanValue,omitempty"`
	Timestamp *time.Time       `json:"timestampValue,omitempty"`
	Bytes     []byte           `json:"blobValue,omitempty"`
	Key       *key.Key         `json:"keyValue,omitempty"`
	Entity    map[string]Value `json:"entityValue,omitempty"`
	List      []Value          `json:"listValue,omitempty"`
}

// EncodeValue converts a model value to its wire form.
func EncodeValue(v filter.Value) (Value, error) {
	switch val := v.(type) {
	case filter.StringValue:
		s := string(val)
		return Value{String: &s}, nil
	case filter.IntegerValue:
		s := strconv.FormatInt(int64(val), 10)
		return Value{Integer: &s}, nil
	case filter.DoubleValue:
		f := float64(val)
		return Value{Double: &f}, nil
	case filter.BooleanValue:
		b := bool(val)
		return Value{Boolean: &b}, nil
	case filter.TimestampValue:
		t := time.Time(val)
		return Value{Timestamp: &t}, nil
	case filter.BytesValue:
		return Value{Bytes: []byte(val)}, nil
	case filter.NullValue:
		return Value{Null: true}, nil
	case filter.KeyValue:
		return Value{Key: val.Key}, nil
	case filter.EntityValue:
		props := make(map[string]Value, len(val))
		for name, inner := range val {
			enc, err := EncodeValue(inner)
			if err != nil {
				return Value{}, err
			}
			props[name] = enc
		}
		return Value{Entity: props}, nil
	case filter.ListValue:
		list := make([]Value, 0, len(val))
		for _, inner := range val {
			enc, err := EncodeValue(inner)
			if err != nil {
				return Value{}, err
			}
			list = append(list, enc)
		}
		return Value{List: list}, nil
	case nil:
		return Value{Null: true}, nil
	default:
		return Value{}, fmt.Errorf("wire: unsupported value %T", v)
	}
}

// MustEncodeValue is EncodeValue for values known to be a closed variant.
func MustEncodeValue(v filter.Value) Value {
	enc, err := EncodeValue(v)
	if err != nil {
		panic(err)
	}
	return enc
}

// DecodeValue converts a wire value back to a model value, with integers
// as IntegerValue.
func DecodeValue(v Value) (filter.Value, error) {
	switch {
	case v.Null:
		return filter.NullValue{}, nil
	case v.String != nil:
		return filter.StringValue(*v.String), nil
	case v.Integer != nil:
		n, err := strconv.ParseInt(*v.Integer, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("wire: malformed integer %q: %w", *v.Integer, err)
		}
		return filter.IntegerValue(n), nil
	case v.Double != nil:
		return filter.DoubleValue(*v.Double), nil
	case v.Boolean != nil:
		return filter.BooleanValue(*v.Boolean), nil
	case v.Timestamp != nil:
		return filter.TimestampValue(*v.Timestamp), nil
	case v.Bytes != nil:
		return filter.BytesValue(v.Bytes), nil
	case v.Key != nil:
		return filter.KeyValue{Key: v.Key}, nil
	case v.Entity != nil:
		props := make(filter.EntityValue, len(v.Entity))
		for name, inner := range v.Entity {
			dec, err := DecodeValue(inner)
			if err != nil {
				return nil, err
			}
			props[name] = dec
		}
		return props, nil
	case v.List != nil:
		list := make(filter.ListValue, 0, len(v.List))
		for _, inner := range v.List {
			dec, err := DecodeValue(inner)
			if err != nil {
				return nil, err
			}
			list = append(list, dec)
		}
		return list, nil
	default:
		return filter.NullValue{}, nil
	}
}
