package entstore

import (
	"strconv"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/entstore/entstore/entstore/key"
	"github.com/entstore/entstore/entstore/wire"
)

// MoreResults is the pagination state returned with every result page.
type MoreResults int

const (
	MoreResultsUnspecified MoreResults = iota
	NotFinished
	MoreResultsAfterLimit
	MoreResultsAfterCursor
	NoMoreResults
)

func (m MoreResults) String() string {
	switch m {
	case NotFinished:
		return wire.NotFinished
	case MoreResultsAfterLimit:
		return wire.MoreResultsAfterLimit
	case MoreResultsAfterCursor:
		return wire.MoreResultsAfterCursor
	case NoMoreResults:
		return wire.NoMoreResults
	default:
		return wire.MoreResultsUnspecified
	}
}

// decodeMoreResults accepts only the five known states. Guessing a
// pagination state risks infinite loops or silent truncation, so any
// other value is an unrecoverable decode error.
func decodeMoreResults(s string) (MoreResults, error) {
	switch s {
	case wire.MoreResultsUnspecified:
		return MoreResultsUnspecified, nil
	case wire.NotFinished:
		return NotFinished, nil
	case wire.MoreResultsAfterLimit:
		return MoreResultsAfterLimit, nil
	case wire.MoreResultsAfterCursor:
		return MoreResultsAfterCursor, nil
	case wire.NoMoreResults:
		return NoMoreResults, nil
	default:
		return 0, DecodeError("unrecognized more-results state " + strconv.Quote(s))
	}
}

// RunInfo is the pagination metadata of one result page.
type RunInfo struct {
	EndCursor      Cursor
	MoreResults    MoreResults
	ExplainMetrics *ExplainMetrics
}

// ExplainMetrics carries query diagnostics, populated only when the run
// requested explain analysis.
type ExplainMetrics struct {
	PlanSummary    *PlanSummary
	ExecutionStats *ExecutionStats
}

type PlanSummary struct {
	IndexesUsed []map[string]any
}

// ExecutionStats describes what the run cost. DebugStats is an open
// diagnostic mapping passed through verbatim.
type ExecutionStats struct {
	ResultsReturned   int64
	ExecutionDuration time.Duration
	ReadOperations    int64
	DebugStats        map[string]any
}

// Entity is one decoded result: its key plus a property bag shaped by
// the run's number policy.
type Entity struct {
	Key        *key.Key
	Properties map[string]any
}

// Decode maps the property bag onto dst, a pointer to a struct or map.
func (e Entity) Decode(dst any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  dst,
		TagName: "entstore",
	})
	if err != nil {
		return Wrap(ErrDecode, "decode entity", err)
	}
	if err := dec.Decode(e.Properties); err != nil {
		return Wrap(ErrDecode, "decode entity", err)
	}
	return nil
}

// Integer is a wire integer kept in its token form under
// NumberPolicy.Wrap.
type Integer string

func (i Integer) String() string { return string(i) }

// Int64 parses the token.
func (i Integer) Int64() (int64, error) {
	return strconv.ParseInt(string(i), 10, 64)
}

func decodeResponse(resp *wire.RunQueryResponse, numbers NumberPolicy) ([]Entity, *RunInfo, error) {
	more, err := decodeMoreResults(resp.MoreResults)
	if err != nil {
		return nil, nil, err
	}
	entities := make([]Entity, 0, len(resp.Entities))
	for _, we := range resp.Entities {
		e, err := decodeEntity(we, numbers)
		if err != nil {
			return nil, nil, err
		}
		entities = append(entities, e)
	}
	info := &RunInfo{
		EndCursor:      Cursor(resp.EndCursor),
		MoreResults:    more,
		ExplainMetrics: decodeExplain(resp.ExplainMetrics),
	}
	return entities, info, nil
}

func decodeExplain(em *wire.ExplainMetrics) *ExplainMetrics {
	if em == nil {
		return nil
	}
	out := &ExplainMetrics{}
	if em.PlanSummary != nil {
		out.PlanSummary = &PlanSummary{IndexesUsed: em.PlanSummary.IndexesUsed}
	}
	if em.ExecutionStats != nil {
		out.ExecutionStats = &ExecutionStats{
			ResultsReturned:   em.ExecutionStats.ResultsReturned,
			ExecutionDuration: time.Duration(em.ExecutionStats.ExecutionDurationMS) * time.Millisecond,
			ReadOperations:    em.ExecutionStats.ReadOperations,
			DebugStats:        em.ExecutionStats.DebugStats,
		}
	}
	return out
}

func decodeEntity(we wire.Entity, numbers NumberPolicy) (Entity, error) {
	props := make(map[string]any, len(we.Properties))
	for name, v := range we.Properties {
		dec, err := decodeProperty(name, v, numbers)
		if err != nil {
			return Entity{}, err
		}
		props[name] = dec
	}
	return Entity{Key: we.Key, Properties: props}, nil
}

func decodeProperty(name string, v wire.Value, numbers NumberPolicy) (any, error) {
	switch {
	case v.Null:
		return nil, nil
	case v.String != nil:
		return *v.String, nil
	case v.Integer != nil:
		return decodeInteger(name, *v.Integer, numbers)
	case v.Double != nil:
		return *v.Double, nil
	case v.Boolean != nil:
		return *v.Boolean, nil
	case v.Timestamp != nil:
		return *v.Timestamp, nil
	case v.Bytes != nil:
		return v.Bytes, nil
	case v.Key != nil:
		return v.Key, nil
	case v.Entity != nil:
		out := make(map[string]any, len(v.Entity))
		for inner, iv := range v.Entity {
			dec, err := decodeProperty(inner, iv, numbers)
			if err != nil {
				return nil, err
			}
			out[inner] = dec
		}
		return out, nil
	case v.List != nil:
		out := make([]any, 0, len(v.List))
		for _, el := range v.List {
			dec, err := decodeProperty(name, el, numbers)
			if err != nil {
				return nil, err
			}
			out = append(out, dec)
		}
		return out, nil
	default:
		return nil, nil
	}
}

func decodeInteger(name, token string, numbers NumberPolicy) (any, error) {
	if numbers.Cast != nil && numbers.applies(name) {
		v, err := numbers.Cast(token)
		if err != nil {
			return nil, Wrap(ErrDecode, "integer cast on "+name, err)
		}
		return v, nil
	}
	if numbers.Wrap {
		return Integer(token), nil
	}
	n, err := strconv.ParseInt(token, 10, 64)
	if err != nil {
		return nil, Wrap(ErrDecode, "integer property "+name+" does not fit int64; set NumberPolicy.Wrap or Cast", err)
	}
	return n, nil
}
