package filter

import (
	"time"

	"github.com/entstore/entstore/entstore/key"
)

// Value is a filter comparison value. The variants cover the property
// value kinds the store supports; there is no open "any" escape hatch.
type Value interface {
	isValue()
}

// StringValue holds a string.
type StringValue string

func (StringValue) isValue() {}

// IntegerValue holds a 64-bit integer.
type IntegerValue int64

func (IntegerValue) isValue() {}

// DoubleValue holds a float.
type DoubleValue float64

func (DoubleValue) isValue() {}

// BooleanValue holds a bool.
type BooleanValue bool

func (BooleanValue) isValue() {}

// TimestampValue holds a point in time.
type TimestampValue time.Time

func (TimestampValue) isValue() {}

// BytesValue holds an opaque byte sequence.
type BytesValue []byte

func (BytesValue) isValue() {}

// NullValue is the explicit null.
type NullValue struct{}

func (NullValue) isValue() {}

// KeyValue references an entity key.
type KeyValue struct {
	Key *key.Key
}

func (KeyValue) isValue() {}

// EntityValue holds an embedded entity's property bag.
type EntityValue map[string]Value

func (EntityValue) isValue() {}

// ListValue holds an ordered sequence of values; it is the operand form
// for IN and NOT_IN.
type ListValue []Value

func (ListValue) isValue() {}

// Convenience constructors for the common variants.

func String(s string) StringValue          { return StringValue(s) }
func Integer(i int64) IntegerValue         { return IntegerValue(i) }
func Double(f float64) DoubleValue         { return DoubleValue(f) }
func Boolean(b bool) BooleanValue          { return BooleanValue(b) }
func Timestamp(t time.Time) TimestampValue { return TimestampValue(t) }
func Bytes(b []byte) BytesValue            { return BytesValue(b) }
func Null() NullValue                      { return NullValue{} }
func KeyRef(k *key.Key) KeyValue           { return KeyValue{Key: k} }

// List wraps values for IN/NOT_IN operands.
func List(vs ...Value) ListValue { return ListValue(vs) }
