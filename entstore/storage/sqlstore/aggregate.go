package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/entstore/entstore/entstore/storage/sqlbuilder"
	"github.com/entstore/entstore/entstore/wire"
)

// ExecuteAggregation evaluates count/sum/avg aggregations over the
// result set a structured query selects, honoring its filter, cursors,
// offset and limit.
func (s *Store) ExecuteAggregation(ctx context.Context, req *wire.RunAggregationRequest) (*wire.RunAggregationResponse, error) {
	q := req.Query
	if q == nil {
		return nil, fmt.Errorf("run aggregation: no query")
	}
	if len(q.Kind) != 1 {
		return nil, fmt.Errorf("run aggregation: exactly one kind expected, got %d", len(q.Kind))
	}
	if len(req.Aggregations) == 0 {
		return nil, fmt.Errorf("run aggregation: no aggregations")
	}

	b := sqlbuilder.New(s.adapter.PlaceholderStyle())
	where := []string{
		"namespace = " + b.Arg(req.Namespace),
		"kind = " + b.Arg(q.Kind[0].Name),
	}
	if q.Filter != nil {
		clause, err := compileFilter(s.adapter, b, q.Filter)
		if err != nil {
			return nil, fmt.Errorf("run aggregation: %w", err)
		}
		where = append(where, clause)
	}

	matched := "SELECT props FROM entities WHERE " + strings.Join(where, " AND ")
	if q.Limit != nil || q.Offset != nil || len(q.StartCursor) > 0 {
		skip := int64(0)
		if len(q.StartCursor) > 0 {
			payload, err := s.resolveCursor(ctx, q.StartCursor)
			if err != nil {
				return nil, fmt.Errorf("run aggregation: start cursor: %w", err)
			}
			skip = payload.Offset
		}
		if q.Offset != nil {
			skip += *q.Offset
		}
		limit := int64(math.MaxInt32)
		if q.Limit != nil {
			limit = *q.Limit
		}
		matched += " ORDER BY " + strings.Join(orderTerms(s.adapter, q.Order), ", ") +
			" LIMIT " + b.Arg(limit) + " OFFSET " + b.Arg(skip)
	}

	exprs := make([]string, 0, len(req.Aggregations))
	aliases := make([]string, 0, len(req.Aggregations))
	seen := make(map[string]bool)
	for i, agg := range req.Aggregations {
		alias := agg.Alias
		if alias == "" {
			alias = "property_" + strconv.Itoa(i+1)
		}
		if seen[alias] {
			return nil, fmt.Errorf("run aggregation: duplicate alias %q", alias)
		}
		seen[alias] = true
		aliases = append(aliases, alias)

		expr, err := aggregationExpr(s.adapter.ExtractNumber, agg)
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, expr)
	}

	querySQL := "WITH matched AS (" + matched + ") SELECT " + strings.Join(exprs, ", ") + " FROM matched"

	vals := make([]sql.NullFloat64, len(exprs))
	dest := make([]any, len(exprs))
	for i := range vals {
		dest[i] = &vals[i]
	}
	if err := s.db.QueryRowContext(ctx, querySQL, b.Args()...).Scan(dest...); err != nil {
		return nil, fmt.Errorf("run aggregation: %w", err)
	}

	results := make(map[string]wire.Value, len(exprs))
	for i, agg := range req.Aggregations {
		results[aliases[i]] = aggregationValue(agg, vals[i])
	}
	return &wire.RunAggregationResponse{Results: results}, nil
}

type extractFn func(col string, path []string) string

func aggregationExpr(num extractFn, agg wire.Aggregation) (string, error) {
	set := 0
	if agg.Count != nil {
		set++
	}
	if agg.Sum != nil {
		set++
	}
	if agg.Avg != nil {
		set++
	}
	if set != 1 {
		return "", fmt.Errorf("run aggregation: alias %q must set exactly one of count/sum/avg", agg.Alias)
	}
	switch {
	case agg.Count != nil:
		return "COUNT(*)", nil
	case agg.Sum != nil:
		return "SUM(" + numericExpr(num, agg.Sum.Name) + ")", nil
	default:
		return "AVG(" + numericExpr(num, agg.Avg.Name) + ")", nil
	}
}

func numericExpr(num extractFn, prop string) string {
	return "COALESCE(" +
		num(propsCol, tagged(prop, "doubleValue")) + ", " +
		num(propsCol, tagged(prop, "integerValue")) + ")"
}

func aggregationValue(agg wire.Aggregation, v sql.NullFloat64) wire.Value {
	switch {
	case agg.Count != nil:
		n := strconv.FormatInt(int64(v.Float64), 10)
		return wire.Value{Integer: &n}
	case agg.Sum != nil:
		if !v.Valid {
			zero := "0"
			return wire.Value{Integer: &zero}
		}
		if v.Float64 == math.Trunc(v.Float64) && math.Abs(v.Float64) < 1<<53 {
			n := strconv.FormatInt(int64(v.Float64), 10)
			return wire.Value{Integer: &n}
		}
		f := v.Float64
		return wire.Value{Double: &f}
	default:
		if !v.Valid {
			return wire.Value{Null: true}
		}
		f := v.Float64
		return wire.Value{Double: &f}
	}
}
