package sqlstore

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/entstore/entstore/entstore/storage"
	"github.com/entstore/entstore/entstore/storage/sqlbuilder"
	"github.com/entstore/entstore/entstore/wire"
)

const propsCol = "props"

// compileFilter turns a wire filter node into an SQL predicate over the
// entities table, pushing arguments through the placeholder builder.
func compileFilter(a storage.Adapter, b *sqlbuilder.Builder, node *wire.FilterNode) (string, error) {
	switch {
	case node == nil:
		return "", fmt.Errorf("nil filter node")
	case node.Property != nil && node.Composite != nil:
		return "", fmt.Errorf("filter node sets both property and composite")
	case node.Property != nil:
		return compileProperty(a, b, node.Property)
	case node.Composite != nil:
		return compileComposite(a, b, node.Composite)
	default:
		return "", fmt.Errorf("empty filter node")
	}
}

func compileComposite(a storage.Adapter, b *sqlbuilder.Builder, node *wire.CompositeFilterNode) (string, error) {
	if len(node.Operands) == 0 {
		return "", fmt.Errorf("composite %s filter has no operands", node.Combinator)
	}
	switch node.Combinator {
	case wire.CombinatorAnd, wire.CombinatorOr:
		parts := make([]string, 0, len(node.Operands))
		for i := range node.Operands {
			p, err := compileFilter(a, b, &node.Operands[i])
			if err != nil {
				return "", err
			}
			parts = append(parts, p)
		}
		joiner := " AND "
		if node.Combinator == wire.CombinatorOr {
			joiner = " OR "
		}
		return "(" + strings.Join(parts, joiner) + ")", nil
	case wire.CombinatorNot:
		if len(node.Operands) != 1 {
			return "", fmt.Errorf("NOT filter takes exactly one operand, got %d", len(node.Operands))
		}
		inner, err := compileFilter(a, b, &node.Operands[0])
		if err != nil {
			return "", err
		}
		return "NOT " + inner, nil
	default:
		return "", fmt.Errorf("unknown combinator %q", node.Combinator)
	}
}

func compileProperty(a storage.Adapter, b *sqlbuilder.Builder, node *wire.PropertyFilterNode) (string, error) {
	name := node.Property.Name
	op := node.Operator
	if name == "__key__" {
		return compileKeyFilter(a, b, op, node.Value)
	}
	switch op {
	case "IN", "NOT_IN":
		return compileMembership(a, b, name, op, node.Value)
	case "=", "!=", "<", ">", "<=", ">=":
		return compileComparison(a, b, name, op, node.Value)
	default:
		return "", fmt.Errorf("unknown operator %q on property %q", op, name)
	}
}

// propPath maps a dotted property name to the JSON path of its value
// container; nested properties live under entityValue.
func propPath(name string) []string {
	segs := strings.Split(name, ".")
	path := make([]string, 0, len(segs)*2-1)
	for i, seg := range segs {
		if i > 0 {
			path = append(path, "entityValue")
		}
		path = append(path, seg)
	}
	return path
}

func tagged(name, tag string) []string {
	return append(propPath(name), tag)
}

func sqlOp(op string) string {
	if op == "!=" {
		return "<>"
	}
	return op
}

func compileComparison(a storage.Adapter, b *sqlbuilder.Builder, name, op string, v wire.Value) (string, error) {
	switch {
	case v.String != nil:
		return a.ExtractText(propsCol, tagged(name, "stringValue")) + " " + sqlOp(op) + " " + b.Arg(*v.String), nil
	case v.Integer != nil:
		n, err := strconv.ParseInt(*v.Integer, 10, 64)
		if err != nil {
			return "", fmt.Errorf("malformed integer %q on property %q", *v.Integer, name)
		}
		return a.ExtractNumber(propsCol, tagged(name, "integerValue")) + " " + sqlOp(op) + " " + b.Arg(n), nil
	case v.Double != nil:
		return a.ExtractNumber(propsCol, tagged(name, "doubleValue")) + " " + sqlOp(op) + " " + b.Arg(*v.Double), nil
	case v.Boolean != nil:
		if op != "=" && op != "!=" {
			return "", fmt.Errorf("operator %q not supported for boolean property %q", op, name)
		}
		return a.ExtractBool(propsCol, tagged(name, "booleanValue")) + " " + sqlOp(op) + " " + b.Arg(a.BoolArg(*v.Boolean)), nil
	case v.Timestamp != nil:
		return a.ExtractTime(propsCol, tagged(name, "timestampValue")) + " " + sqlOp(op) + " " + b.Arg(a.TimeArg(*v.Timestamp)), nil
	case v.Bytes != nil:
		if op != "=" && op != "!=" {
			return "", fmt.Errorf("operator %q not supported for bytes property %q", op, name)
		}
		enc := base64.StdEncoding.EncodeToString(v.Bytes)
		return a.ExtractText(propsCol, tagged(name, "blobValue")) + " " + sqlOp(op) + " " + b.Arg(enc), nil
	case v.Null:
		marker := a.ExtractBool(propsCol, tagged(name, "nullValue"))
		switch op {
		case "=":
			return marker + " IS NOT NULL", nil
		case "!=":
			return marker + " IS NULL", nil
		default:
			return "", fmt.Errorf("operator %q not supported for null comparison on %q", op, name)
		}
	case v.Key != nil:
		return "", fmt.Errorf("key comparisons are only supported on __key__")
	case v.List != nil:
		return "", fmt.Errorf("list values require IN or NOT_IN, got %q on %q", op, name)
	case v.Entity != nil:
		return "", fmt.Errorf("entity values cannot be compared on %q", name)
	default:
		return "", fmt.Errorf("filter on %q has no value", name)
	}
}

func compileMembership(a storage.Adapter, b *sqlbuilder.Builder, name, op string, v wire.Value) (string, error) {
	if v.List == nil {
		return "", fmt.Errorf("%s on %q requires a list value", op, name)
	}
	if len(v.List) == 0 {
		// No value matches an empty list; NOT_IN of nothing matches all.
		if op == "IN" {
			return "1 = 0", nil
		}
		return "1 = 1", nil
	}
	parts := make([]string, 0, len(v.List))
	for _, el := range v.List {
		p, err := compileComparison(a, b, name, "=", el)
		if err != nil {
			return "", err
		}
		parts = append(parts, p)
	}
	clause := "(" + strings.Join(parts, " OR ") + ")"
	if op == "NOT_IN" {
		return "NOT " + clause, nil
	}
	return clause, nil
}

func compileKeyFilter(a storage.Adapter, b *sqlbuilder.Builder, op string, v wire.Value) (string, error) {
	if v.Key == nil {
		return "", fmt.Errorf("filter on __key__ requires a key value")
	}
	token := v.Key.Token()
	switch op {
	case "HAS_ANCESTOR":
		// The ancestor itself and every descendant under its path.
		self := "key_token " + sqlOp("=") + " " + b.Arg(token)
		sub := "key_token LIKE " + b.Arg(likeEscape(token)+"/%") + " ESCAPE '\\'"
		return "(" + self + " OR " + sub + ")", nil
	case "=", "!=", "<", ">", "<=", ">=":
		return "key_token " + sqlOp(op) + " " + b.Arg(token), nil
	default:
		return "", fmt.Errorf("unknown operator %q on __key__", op)
	}
}

func likeEscape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	s = strings.ReplaceAll(s, "_", `\_`)
	return s
}

// orderTerms renders the ORDER BY terms for a structured query, always
// ending with the insertion ordinal as a deterministic tie-break.
func orderTerms(a storage.Adapter, orders []wire.PropertyOrder) []string {
	var terms []string
	for _, o := range orders {
		desc := o.Direction == wire.Descending
		if o.Property.Name == "__key__" {
			t := "key_token"
			if desc {
				t += " DESC"
			}
			terms = append(terms, t)
			continue
		}
		terms = append(terms, a.OrderTerms(propsCol, propPath(o.Property.Name), desc)...)
	}
	return append(terms, "id ASC")
}
