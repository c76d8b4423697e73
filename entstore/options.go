package entstore

import (
	"time"

	"github.com/entstore/entstore/entstore/wire"
)

// Consistency selects the read consistency of a run.
type Consistency int

const (
	// ConsistencyDefault leaves the choice to the store.
	ConsistencyDefault Consistency = iota
	ConsistencyStrong
	ConsistencyEventual
)

func (c Consistency) wire() string {
	switch c {
	case ConsistencyStrong:
		return wire.ConsistencyStrong
	case ConsistencyEventual:
		return wire.ConsistencyEventual
	default:
		return ""
	}
}

// ExplainOptions requests query diagnostics with the results. With
// Analyze false only the plan summary is produced.
type ExplainOptions struct {
	Analyze bool
}

// NumberPolicy controls how wire integers (decimal string tokens)
// become Go values on decode. The zero value parses into int64 and
// fails on overflow. Wrap keeps the token as an Integer. Cast, when
// set, converts the token itself, for all properties or just the named
// ones.
type NumberPolicy struct {
	Wrap       bool
	Cast       func(token string) (any, error)
	Properties []string
}

func (p NumberPolicy) applies(property string) bool {
	if len(p.Properties) == 0 {
		return true
	}
	for _, name := range p.Properties {
		if name == property {
			return true
		}
	}
	return false
}

// RunOptions is the options bag accepted by Run, RunStream and
// aggregation runs. The zero value is valid.
type RunOptions struct {
	Consistency Consistency
	// ReadTime pins the read to a point in time when non-zero.
	ReadTime time.Time
	Explain  *ExplainOptions
	Numbers  NumberPolicy
}

func (o RunOptions) wireExplain() *wire.ExplainOptions {
	if o.Explain == nil {
		return nil
	}
	return &wire.ExplainOptions{Analyze: o.Explain.Analyze}
}

func (o RunOptions) wireReadTime() *time.Time {
	if o.ReadTime.IsZero() {
		return nil
	}
	t := o.ReadTime
	return &t
}
