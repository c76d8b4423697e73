package entstore

import (
	"context"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/entstore/entstore/entstore/filter"
	"github.com/entstore/entstore/entstore/wire"
)

// AggregationQuery computes aggregates over the result set a base
// Query would select. The base query's filters, cursors and bounds
// define the matched set; projection and grouping are ignored.
type AggregationQuery struct {
	q    *Query
	aggs []wire.Aggregation
}

// NewAggregationQuery starts an aggregation over this query's matches.
func (q *Query) NewAggregationQuery() *AggregationQuery {
	return &AggregationQuery{q: q}
}

// WithCount adds a match counter under the alias. An empty alias gets a
// positional default.
func (a *AggregationQuery) WithCount(alias string) *AggregationQuery {
	return a.add(wire.Aggregation{Alias: alias, Count: &struct{}{}})
}

// WithSum adds a sum over the property under the alias.
func (a *AggregationQuery) WithSum(property, alias string) *AggregationQuery {
	return a.add(wire.Aggregation{Alias: alias, Sum: &wire.PropertyReference{Name: property}})
}

// WithAvg adds an average over the property under the alias.
func (a *AggregationQuery) WithAvg(property, alias string) *AggregationQuery {
	return a.add(wire.Aggregation{Alias: alias, Avg: &wire.PropertyReference{Name: property}})
}

func (a *AggregationQuery) add(agg wire.Aggregation) *AggregationQuery {
	if agg.Alias == "" {
		agg.Alias = "property_" + strconv.Itoa(len(a.aggs)+1)
	}
	a.aggs = append(a.aggs, agg)
	return a
}

// AggregationResult maps each aggregation alias to its value.
type AggregationResult map[string]filter.Value

// Run executes the aggregation in one round trip.
func (a *AggregationQuery) Run(ctx context.Context, opts RunOptions) (AggregationResult, error) {
	if err := a.q.checkRunnable(); err != nil {
		return nil, err
	}
	if len(a.aggs) == 0 {
		return nil, ClientError("aggregation query has no aggregations")
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "entstore.RunAggregation",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("entstore.kind", a.q.kinds[0]),
			attribute.String("entstore.namespace", a.q.namespace),
			attribute.Int("entstore.aggregations", len(a.aggs)),
		))
	defer span.End()

	sq, err := a.q.toWire()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	req := &wire.RunAggregationRequest{
		Namespace:    a.q.namespace,
		Query:        sq,
		Aggregations: a.aggs,
		Transaction:  a.q.scope.transactionID(),
		ReadTime:     opts.wireReadTime(),
		Consistency:  opts.Consistency.wire(),
	}
	resp, err := a.q.scope.executor().ExecuteAggregation(ctx, req)
	if err != nil {
		if IsKind(err, ErrClient) || IsKind(err, ErrTranslate) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		wrapped := Wrap(ErrTransport, "run aggregation", err)
		span.RecordError(wrapped)
		span.SetStatus(codes.Error, wrapped.Error())
		return nil, wrapped
	}

	out := make(AggregationResult, len(resp.Results))
	for alias, v := range resp.Results {
		dec, err := wire.DecodeValue(v)
		if err != nil {
			return nil, Wrap(ErrDecode, "aggregation result "+alias, err)
		}
		out[alias] = dec
	}
	return out, nil
}
