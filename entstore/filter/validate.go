package filter

import "fmt"

// Validate walks a filter tree and rejects shapes the store cannot
// accept: composites with no operands, unknown operators and combinators,
// ancestor comparisons against non-key values, and IN/NOT_IN operands
// that are not lists. Malformed trees are a client-side error and are
// never sent to the network.
func Validate(f Filter) error {
	switch node := f.(type) {
	case Property:
		return validateProperty(node)
	case Composite:
		if len(node.Operands) == 0 {
			return fmt.Errorf("composite %s filter has no operands", node.Comb)
		}
		switch node.Comb {
		case And, Or:
		case Not:
			if len(node.Operands) != 1 {
				return fmt.Errorf("NOT filter takes exactly one operand, got %d", len(node.Operands))
			}
		default:
			return fmt.Errorf("unknown combinator %q", node.Comb)
		}
		for _, op := range node.Operands {
			if op == nil {
				return fmt.Errorf("composite %s filter has a nil operand", node.Comb)
			}
			if err := Validate(op); err != nil {
				return err
			}
		}
		return nil
	case nil:
		return fmt.Errorf("nil filter")
	default:
		return fmt.Errorf("unknown filter node %T", f)
	}
}

func validateProperty(p Property) error {
	if p.Name == "" {
		return fmt.Errorf("property filter has an empty property name")
	}
	if !p.Op.Known() {
		return fmt.Errorf("unknown operator %q on property %q", p.Op, p.Name)
	}
	switch p.Op {
	case OpHasAncestor:
		kv, ok := p.Value.(KeyValue)
		if !ok {
			return fmt.Errorf("%s on %q requires a key value, got %T", OpHasAncestor, p.Name, p.Value)
		}
		if kv.Key == nil || len(kv.Key.Path) == 0 {
			return fmt.Errorf("%s on %q requires a non-empty key", OpHasAncestor, p.Name)
		}
	case OpIn, OpNotIn:
		if _, ok := p.Value.(ListValue); !ok {
			return fmt.Errorf("%s on %q requires a list value, got %T", p.Op, p.Name, p.Value)
		}
	}
	return nil
}
