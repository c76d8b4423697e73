package wire

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entstore/entstore/entstore/filter"
)

func TestIntegersTravelAsDecimalStrings(t *testing.T) {
	v := MustEncodeValue(filter.Integer(9007199254740993)) // above float64's exact range
	require.NotNil(t, v.Integer)
	assert.Equal(t, "9007199254740993", *v.Integer)

	raw, err := json.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, `{"integerValue":"9007199254740993"}`, string(raw))

	back, err := DecodeValue(v)
	require.NoError(t, err)
	assert.Equal(t, filter.IntegerValue(9007199254740993), back)
}

func TestDecodeValueRejectsMalformedInteger(t *testing.T) {
	bad := "12x"
	_, err := DecodeValue(Value{Integer: &bad})
	assert.Error(t, err)
}

func TestEncodeNestedValues(t *testing.T) {
	v, err := EncodeValue(filter.EntityValue{
		"tags": filter.List(filter.String("a"), filter.Null()),
	})
	require.NoError(t, err)
	require.NotNil(t, v.Entity)
	list := v.Entity["tags"].List
	require.Len(t, list, 2)
	assert.NotNil(t, list[0].String)
	assert.True(t, list[1].Null)
}
