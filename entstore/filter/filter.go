// Package filter models query filters: property comparisons and
// AND/OR/NOT composite trees of unbounded depth and fan-out.
package filter

import "strings"

// Operator is a property comparison operator.
type Operator string

const (
	OpEqual              Operator = "="
	OpLessThan           Operator = "<"
	OpGreaterThan        Operator = ">"
	OpLessThanOrEqual    Operator = "<="
	OpGreaterThanOrEqual Operator = ">="
	OpNotEqual           Operator = "!="
	OpHasAncestor        Operator = "HAS_ANCESTOR"
	OpIn                 Operator = "IN"
	OpNotIn              Operator = "NOT_IN"
)

// Known reports whether op is one of the supported operators.
func (op Operator) Known() bool {
	switch op {
	case OpEqual, OpLessThan, OpGreaterThan, OpLessThanOrEqual,
		OpGreaterThanOrEqual, OpNotEqual, OpHasAncestor, OpIn, OpNotIn:
		return true
	}
	return false
}

// Combinator joins the operands of a composite filter.
type Combinator string

const (
	And Combinator = "AND"
	Or  Combinator = "OR"
	Not Combinator = "NOT"
)

// KeyProperty is the pseudo-property name that addresses the entity key.
const KeyProperty = "__key__"

// Filter is a node in a filter tree.
type Filter interface {
	isFilter()
}

// Property compares a single property against a value.
type Property struct {
	Name  string
	Op    Operator
	Value Value
}

func (Property) isFilter() {}

// Composite joins child filters with a combinator.
type Composite struct {
	Comb     Combinator
	Operands []Filter
}

func (Composite) isFilter() {}

// Where builds a property filter. The property name is trimmed of
// surrounding whitespace before storage; the operator is trimmed too, so
// callers may write " >= " and friends.
func Where(name string, op Operator, v Value) Property {
	return Property{
		Name:  strings.TrimSpace(name),
		Op:    Operator(strings.TrimSpace(string(op))),
		Value: v,
	}
}

// Ancestor builds the key-path containment filter. It always compares
// the entity key against a key value.
func Ancestor(v KeyValue) Property {
	return Property{Name: KeyProperty, Op: OpHasAncestor, Value: v}
}

// AndOf combines filters conjunctively.
func AndOf(operands ...Filter) Composite { return Composite{Comb: And, Operands: operands} }

// OrOf combines filters disjunctively.
func OrOf(operands ...Filter) Composite { return Composite{Comb: Or, Operands: operands} }

// NotOf negates a filter.
func NotOf(inner Filter) Composite { return Composite{Comb: Not, Operands: []Filter{inner}} }
