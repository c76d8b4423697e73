package entstore

import (
	"github.com/entstore/entstore/entstore/filter"
	"github.com/entstore/entstore/entstore/wire"
)

// toWire maps the Query's state to the canonical structured-query wire
// form. It never mutates the Query and is deterministic, so it is safe
// to call once per execution attempt; it must be, since cursor fields
// may change between attempts.
func (q *Query) toWire() (*wire.StructuredQuery, error) {
	out := &wire.StructuredQuery{}

	for _, kind := range q.kinds {
		out.Kind = append(out.Kind, wire.KindExpression{Name: kind})
	}

	node, err := q.combinedFilter()
	if err != nil {
		return nil, err
	}
	out.Filter = node

	for _, o := range q.orders {
		dir := wire.Ascending
		if o.descending {
			dir = wire.Descending
		}
		out.Order = append(out.Order, wire.PropertyOrder{
			Property:  wire.PropertyReference{Name: o.name},
			Direction: dir,
		})
	}

	if len(q.selection) > 0 {
		out.Projection = append([]string(nil), q.selection...)
	}
	if len(q.groupBy) > 0 {
		out.DistinctOn = append([]string(nil), q.groupBy...)
	}

	// Cursors pass through opaquely, never re-encoded.
	if len(q.startCursor) > 0 {
		out.StartCursor = append([]byte(nil), q.startCursor...)
	}
	if len(q.endCursor) > 0 {
		out.EndCursor = append([]byte(nil), q.endCursor...)
	}

	if q.limit != unset {
		n := q.limit
		out.Limit = &n
	}
	if q.offset != unset {
		n := q.offset
		out.Offset = &n
	}
	return out, nil
}

// combinedFilter conjoins the legacy entries and the composite trees.
// An empty set yields no filter node at all, and a single filter is
// emitted unwrapped rather than inside a one-operand AND.
func (q *Query) combinedFilter() (*wire.FilterNode, error) {
	nodes := make([]wire.FilterNode, 0, len(q.filters)+len(q.compositeFilters))
	for _, entry := range q.filters {
		node, err := filterNode(entry)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	for _, tree := range q.compositeFilters {
		node, err := filterNode(tree)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	switch len(nodes) {
	case 0:
		return nil, nil
	case 1:
		return &nodes[0], nil
	default:
		return &wire.FilterNode{Composite: &wire.CompositeFilterNode{
			Combinator: wire.CombinatorAnd,
			Operands:   nodes,
		}}, nil
	}
}

func filterNode(f filter.Filter) (wire.FilterNode, error) {
	switch node := f.(type) {
	case filter.Property:
		value, err := wire.EncodeValue(node.Value)
		if err != nil {
			return wire.FilterNode{}, Wrap(ErrTranslate, "encode filter value", err)
		}
		return wire.FilterNode{Property: &wire.PropertyFilterNode{
			Property: wire.PropertyReference{Name: node.Name},
			Operator: string(node.Op),
			Value:    value,
		}}, nil
	case filter.Composite:
		operands := make([]wire.FilterNode, 0, len(node.Operands))
		for _, op := range node.Operands {
			child, err := filterNode(op)
			if err != nil {
				return wire.FilterNode{}, err
			}
			operands = append(operands, child)
		}
		return wire.FilterNode{Composite: &wire.CompositeFilterNode{
			Combinator: string(node.Comb),
			Operands:   operands,
		}}, nil
	default:
		return wire.FilterNode{}, New(ErrTranslate, "unknown filter node")
	}
}
