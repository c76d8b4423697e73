package entstore

import (
	"context"
	"errors"
	"iter"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Done is returned by Stream.Next once every result has been delivered.
var Done = errors.New("entstore: no more results")

// RunStream executes the query incrementally. Pages are fetched on
// demand as Next drains them; no round trip happens before the first
// Next call.
func (q *Query) RunStream(ctx context.Context, opts RunOptions) *Stream {
	s := &Stream{opts: opts}
	if err := q.checkRunnable(); err != nil {
		s.err = err
		return s
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	var span trace.Span
	s.ctx, span = otel.Tracer(tracerName).Start(s.ctx, "entstore.RunStream",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("entstore.kind", q.kinds[0]),
			attribute.String("entstore.namespace", q.namespace),
		))
	s.span = span

	s.pages = newPager(q)
	return s
}

// Stream yields results one at a time across page boundaries. It is
// owned by a single goroutine; Next, Info and Stop must not race.
type Stream struct {
	ctx    context.Context
	cancel context.CancelFunc
	span   trace.Span
	pages  *pager
	opts   RunOptions

	buf      []Entity
	info     *RunInfo
	err      error
	finished bool
}

// Next returns the next result. It fetches a new page only when the
// buffered one is drained and the store reported the run unfinished.
// After exhaustion it returns Done; after a failure it keeps returning
// the same error.
func (s *Stream) Next() (Entity, error) {
	if s.err != nil {
		return Entity{}, s.err
	}
	for len(s.buf) == 0 {
		if s.finished {
			s.close(nil)
			return Entity{}, Done
		}
		if err := s.ctx.Err(); err != nil {
			s.close(Wrap(ErrTransport, "stream", err))
			return Entity{}, s.err
		}
		entities, info, err := s.pages.next(s.ctx, s.opts)
		if err != nil {
			s.close(err)
			return Entity{}, err
		}
		s.buf = entities
		s.info = info
		s.finished = info.MoreResults != NotFinished
	}
	e := s.buf[0]
	s.buf = s.buf[1:]
	return e, nil
}

// Info reports the pagination metadata of the most recently fetched
// page, nil before the first fetch. Its end cursor resumes after that
// whole page, which may be ahead of what Next has handed out.
func (s *Stream) Info() *RunInfo {
	return s.info
}

// Stop abandons the stream. No further round trips are issued;
// subsequent Next calls fail.
func (s *Stream) Stop() {
	if s.err == nil {
		s.close(ClientError("stream stopped"))
	}
}

// Seq adapts the stream to a range-over-func sequence. Iteration stops
// at the first error; a nil error with the zero Entity marks normal
// exhaustion, so callers break on err != nil inside the loop body.
func (s *Stream) Seq() iter.Seq2[Entity, error] {
	return func(yield func(Entity, error) bool) {
		defer s.Stop()
		for {
			e, err := s.Next()
			if errors.Is(err, Done) {
				return
			}
			if err != nil {
				yield(Entity{}, err)
				return
			}
			if !yield(e, nil) {
				return
			}
		}
	}
}

func (s *Stream) close(err error) {
	if err != nil && s.err == nil {
		s.err = err
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.span != nil {
		if err != nil {
			s.span.RecordError(err)
			s.span.SetStatus(codes.Error, err.Error())
		}
		s.span.End()
		s.span = nil
	}
}
