package entstore

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/entstore/entstore/entstore/wire"
)

const tracerName = "github.com/entstore/entstore"

// runPage executes one round trip: translate the query's current state,
// issue the request, decode the page.
func (q *Query) runPage(ctx context.Context, opts RunOptions) ([]Entity, *RunInfo, error) {
	sq, err := q.toWire()
	if err != nil {
		return nil, nil, err
	}
	req := &wire.RunQueryRequest{
		Namespace:   q.namespace,
		Query:       sq,
		Transaction: q.scope.transactionID(),
		ReadTime:    opts.wireReadTime(),
		Consistency: opts.Consistency.wire(),
		Explain:     opts.wireExplain(),
	}
	resp, err := q.scope.executor().ExecuteQuery(ctx, req)
	if err != nil {
		if IsKind(err, ErrClient) || IsKind(err, ErrTranslate) || IsKind(err, ErrDecode) {
			return nil, nil, err
		}
		return nil, nil, Wrap(ErrTransport, "run query", err)
	}
	return decodeResponse(resp, opts.Numbers)
}

// Run executes exactly one round trip and returns that page. It never
// pages on its own: when RunInfo reports NotFinished, resuming is the
// caller's choice, typically by re-running with Start set to the
// returned end cursor. RunStream is the mode that pages internally.
func (q *Query) Run(ctx context.Context, opts RunOptions) ([]Entity, *RunInfo, error) {
	if err := q.checkRunnable(); err != nil {
		return nil, nil, err
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "entstore.Run",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("entstore.kind", q.kinds[0]),
			attribute.String("entstore.namespace", q.namespace),
		))
	defer span.End()

	entities, info, err := q.runPage(ctx, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, nil, err
	}
	span.SetAttributes(attribute.Int("entstore.results", len(entities)))
	return entities, info, nil
}

// pager drives successive pages of one streaming run over a private
// copy of the query, threading cursors and remaining bounds between
// round trips. The caller's Query is never mutated.
type pager struct {
	q       *Query
	started bool
}

func newPager(q *Query) *pager {
	clone := *q
	return &pager{q: &clone}
}

func (p *pager) next(ctx context.Context, opts RunOptions) ([]Entity, *RunInfo, error) {
	entities, info, err := p.q.runPage(ctx, opts)
	if err != nil {
		return nil, nil, err
	}
	p.advance(info.EndCursor, int64(len(entities)))
	return entities, info, nil
}

// advance rewrites the private query for the follow-up request: resume
// from the page's end cursor, drop the offset (already consumed by the
// first page), and shrink an explicit limit by what this page
// delivered.
func (p *pager) advance(end Cursor, got int64) {
	p.q.startCursor = end
	if !p.started {
		p.started = true
		p.q.offset = unset
	}
	if p.q.limit != unset {
		remaining := p.q.limit - got
		if remaining < 0 {
			remaining = 0
		}
		p.q.limit = remaining
	}
}
