package entstore

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entstore/entstore/entstore/key"
	"github.com/entstore/entstore/entstore/wire"
)

func strptr(s string) *string    { return &s }
func f64ptr(f float64) *float64  { return &f }
func boolptr(b bool) *bool       { return &b }
func timeptr(t time.Time) *time.Time { return &t }

func TestDecodeMoreResultsRejectsUnknown(t *testing.T) {
	known := []string{
		wire.MoreResultsUnspecified,
		wire.NotFinished,
		wire.MoreResultsAfterLimit,
		wire.MoreResultsAfterCursor,
		wire.NoMoreResults,
	}
	for _, s := range known {
		m, err := decodeMoreResults(s)
		require.NoError(t, err, s)
		assert.Equal(t, s, m.String())
	}

	for _, s := range []string{"", "MAYBE", "no_more_results"} {
		_, err := decodeMoreResults(s)
		require.Error(t, err, s)
		assert.True(t, IsKind(err, ErrDecode))
	}
}

func TestDecodeEntityDefaultNumbers(t *testing.T) {
	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	we := wire.Entity{
		Key: key.IDKey("Task", 1, nil),
		Properties: map[string]wire.Value{
			"title":    {String: strptr("laundry")},
			"priority": {Integer: strptr("7")},
			"score":    {Double: f64ptr(0.5)},
			"done":     {Boolean: boolptr(false)},
			"due":      {Timestamp: timeptr(ts)},
			"blob":     {Bytes: []byte{1, 2}},
			"gone":     {Null: true},
			"nested":   {Entity: map[string]wire.Value{"inner": {Integer: strptr("-3")}}},
			"tags":     {List: []wire.Value{{String: strptr("a")}, {Integer: strptr("2")}}},
		},
	}
	e, err := decodeEntity(we, NumberPolicy{})
	require.NoError(t, err)

	assert.Equal(t, "laundry", e.Properties["title"])
	assert.Equal(t, int64(7), e.Properties["priority"])
	assert.Equal(t, 0.5, e.Properties["score"])
	assert.Equal(t, false, e.Properties["done"])
	assert.Equal(t, ts, e.Properties["due"])
	assert.Equal(t, []byte{1, 2}, e.Properties["blob"])
	assert.Nil(t, e.Properties["gone"])
	assert.Equal(t, map[string]any{"inner": int64(-3)}, e.Properties["nested"])
	assert.Equal(t, []any{"a", int64(2)}, e.Properties["tags"])
}

func TestDecodeIntegerOverflowWithoutPolicy(t *testing.T) {
	we := wire.Entity{
		Key:        key.IDKey("Task", 1, nil),
		Properties: map[string]wire.Value{"big": {Integer: strptr("9223372036854775808")}},
	}
	_, err := decodeEntity(we, NumberPolicy{})
	require.Error(t, err)
	assert.True(t, IsKind(err, ErrDecode))
}

func TestNumberPolicyWrap(t *testing.T) {
	we := wire.Entity{
		Key:        key.IDKey("Task", 1, nil),
		Properties: map[string]wire.Value{"big": {Integer: strptr("9223372036854775808")}},
	}
	e, err := decodeEntity(we, NumberPolicy{Wrap: true})
	require.NoError(t, err)

	wrapped, ok := e.Properties["big"].(Integer)
	require.True(t, ok, "got %T", e.Properties["big"])
	assert.Equal(t, "9223372036854775808", wrapped.String())
	_, err = wrapped.Int64()
	assert.Error(t, err, "the token stays verbatim even when it overflows")
}

func TestNumberPolicyCast(t *testing.T) {
	cast := func(token string) (any, error) {
		n, ok := new(big.Int).SetString(token, 10)
		if !ok {
			return nil, assert.AnError
		}
		return n, nil
	}
	we := wire.Entity{
		Key: key.IDKey("Task", 1, nil),
		Properties: map[string]wire.Value{
			"big":   {Integer: strptr("9223372036854775808")},
			"small": {Integer: strptr("5")},
		},
	}

	e, err := decodeEntity(we, NumberPolicy{Cast: cast})
	require.NoError(t, err)
	assert.IsType(t, &big.Int{}, e.Properties["big"])
	assert.IsType(t, &big.Int{}, e.Properties["small"])

	// Scoped to named properties, the rest take the default path.
	e, err = decodeEntity(we, NumberPolicy{Cast: cast, Properties: []string{"big"}})
	require.NoError(t, err)
	assert.IsType(t, &big.Int{}, e.Properties["big"])
	assert.Equal(t, int64(5), e.Properties["small"])
}

func TestEntityDecodeIntoStruct(t *testing.T) {
	type task struct {
		Title    string `entstore:"title"`
		Priority int64  `entstore:"priority"`
		Done     bool   `entstore:"done"`
	}
	e := Entity{
		Key: key.IDKey("Task", 1, nil),
		Properties: map[string]any{
			"title":    "laundry",
			"priority": int64(7),
			"done":     true,
		},
	}

	var got task
	require.NoError(t, e.Decode(&got))
	assert.Equal(t, task{Title: "laundry", Priority: 7, Done: true}, got)
}

func TestDecodeExplainMetrics(t *testing.T) {
	em := decodeExplain(&wire.ExplainMetrics{
		PlanSummary: &wire.PlanSummary{IndexesUsed: []map[string]any{{"query_scope": "kind"}}},
		ExecutionStats: &wire.ExecutionStats{
			ResultsReturned:     3,
			ExecutionDurationMS: 12,
			ReadOperations:      4,
			DebugStats:          map[string]any{"backend": "sqlite"},
		},
	})
	require.NotNil(t, em)
	require.NotNil(t, em.PlanSummary)
	require.NotNil(t, em.ExecutionStats)
	assert.Equal(t, 12*time.Millisecond, em.ExecutionStats.ExecutionDuration)
	assert.Equal(t, map[string]any{"backend": "sqlite"}, em.ExecutionStats.DebugStats)

	assert.Nil(t, decodeExplain(nil))
}
