// Package sqlstore is a SQL-backed entity store implementing the
// storage.Executor capability: schema-less entities as JSON rows,
// structured queries evaluated server-side, cursor pagination with the
// limit+1 protocol, and count/sum/avg aggregations.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/entstore/entstore/entstore/key"
	"github.com/entstore/entstore/entstore/storage"
	"github.com/entstore/entstore/entstore/storage/sqlbuilder"
	"github.com/entstore/entstore/entstore/wire"
)

// Options configures store behavior.
type Options struct {
	Now        func() time.Time
	CursorTTL  time.Duration
	CursorMode CursorMode
	// PageSize caps one response page when the query carries no limit.
	PageSize int
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		Now:        time.Now,
		CursorTTL:  time.Hour,
		CursorMode: CursorFull,
		PageSize:   DefaultPageSize,
	}
}

const DefaultPageSize = 100

// Store is an open SQL-backed entity store.
type Store struct {
	adapter storage.Adapter
	db      *sql.DB
	sqlt    storage.SQL
	opts    Options
}

var _ storage.Executor = (*Store)(nil)

// Open connects the adapter and creates the store's tables when absent.
func Open(ctx context.Context, adapter storage.Adapter, opts Options) (*Store, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.CursorTTL <= 0 {
		opts.CursorTTL = time.Hour
	}
	db, err := adapter.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	for _, ddl := range adapter.DDL() {
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			db.Close()
			return nil, fmt.Errorf("create tables: %w", err)
		}
	}
	return &Store{adapter: adapter, db: db, sqlt: adapter.SQL(), opts: opts}, nil
}

// Close closes the store.
func (s *Store) Close() error {
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			return err
		}
	}
	return s.adapter.Close()
}

// DB exposes the underlying connection for advanced use.
func (s *Store) DB() *sql.DB { return s.db }

// Put inserts or replaces one entity. The key must be complete and its
// names must be token-safe.
func (s *Store) Put(ctx context.Context, e *wire.Entity) error {
	if e == nil || e.Key == nil {
		return fmt.Errorf("put: entity has no key")
	}
	if e.Key.Incomplete() {
		return fmt.Errorf("put: incomplete key %v", e.Key)
	}
	for _, el := range e.Key.Path {
		if strings.ContainsAny(el.Name, "/'") || strings.ContainsAny(el.Kind, "/,'") {
			return fmt.Errorf("put: key element %q/%q is not token-safe", el.Kind, el.Name)
		}
	}
	props := normalizeProps(e.Properties)
	propsJSON, err := json.Marshal(props)
	if err != nil {
		return fmt.Errorf("put: marshal properties: %w", err)
	}
	now := s.nowMS()
	_, err = s.db.ExecContext(ctx, s.sqlt.UpsertEntity,
		e.Key.Namespace, e.Key.Kind(), e.Key.Token(), string(propsJSON), now, now)
	if err != nil {
		return fmt.Errorf("put: %w", err)
	}
	return nil
}

// PutMulti puts entities one by one in a transaction.
func (s *Store) PutMulti(ctx context.Context, entities []*wire.Entity) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()
	now := s.nowMS()
	for _, e := range entities {
		if e == nil || e.Key == nil || e.Key.Incomplete() {
			return fmt.Errorf("put: entity has no complete key")
		}
		props := normalizeProps(e.Properties)
		propsJSON, err := json.Marshal(props)
		if err != nil {
			return fmt.Errorf("put: marshal properties: %w", err)
		}
		_, err = tx.ExecContext(ctx, s.sqlt.UpsertEntity,
			e.Key.Namespace, e.Key.Kind(), e.Key.Token(), string(propsJSON), now, now)
		if err != nil {
			return fmt.Errorf("put %v: %w", e.Key, err)
		}
	}
	return tx.Commit()
}

// Get fetches one entity by key; the bool reports existence.
func (s *Store) Get(ctx context.Context, k *key.Key) (*wire.Entity, bool, error) {
	var propsJSON string
	err := s.db.QueryRowContext(ctx, s.sqlt.GetEntity, k.Namespace, k.Token()).Scan(&propsJSON)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get: %w", err)
	}
	var props map[string]wire.Value
	if err := json.Unmarshal([]byte(propsJSON), &props); err != nil {
		return nil, false, fmt.Errorf("get: unmarshal properties: %w", err)
	}
	return &wire.Entity{Key: k, Properties: props}, true, nil
}

// Delete removes one entity; the bool reports whether it existed.
func (s *Store) Delete(ctx context.Context, k *key.Key) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.sqlt.DeleteEntity, k.Namespace, k.Token())
	if err != nil {
		return false, fmt.Errorf("delete: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, nil
	}
	return n > 0, nil
}

// ExecuteQuery evaluates one structured query and returns one page.
func (s *Store) ExecuteQuery(ctx context.Context, req *wire.RunQueryRequest) (*wire.RunQueryResponse, error) {
	started := s.opts.Now()
	q := req.Query
	if q == nil {
		return nil, fmt.Errorf("run query: no query")
	}
	if len(q.Kind) != 1 {
		return nil, fmt.Errorf("run query: exactly one kind expected, got %d", len(q.Kind))
	}
	if q.Limit != nil && *q.Limit < 0 {
		return nil, fmt.Errorf("run query: negative limit %d", *q.Limit)
	}
	if q.Offset != nil && *q.Offset < 0 {
		return nil, fmt.Errorf("run query: negative offset %d", *q.Offset)
	}

	b := sqlbuilder.New(s.adapter.PlaceholderStyle())
	where := []string{
		"namespace = " + b.Arg(req.Namespace),
		"kind = " + b.Arg(q.Kind[0].Name),
	}
	if q.Filter != nil {
		clause, err := compileFilter(s.adapter, b, q.Filter)
		if err != nil {
			return nil, fmt.Errorf("run query: %w", err)
		}
		where = append(where, clause)
	}

	skip := int64(0)
	if len(q.StartCursor) > 0 {
		payload, err := s.resolveCursor(ctx, q.StartCursor)
		if err != nil {
			return nil, fmt.Errorf("run query: start cursor: %w", err)
		}
		skip = payload.Offset
	}
	if q.Offset != nil {
		skip += *q.Offset
	}
	endAt := int64(-1)
	if len(q.EndCursor) > 0 {
		payload, err := s.resolveCursor(ctx, q.EndCursor)
		if err != nil {
			return nil, fmt.Errorf("run query: end cursor: %w", err)
		}
		endAt = payload.Offset
	}

	want := int64(s.opts.PageSize)
	limited := q.Limit != nil
	if limited {
		want = *q.Limit
	}
	capped := want
	endCut := false
	if endAt >= 0 {
		avail := endAt - skip
		if avail < 0 {
			avail = 0
		}
		if avail < capped {
			capped = avail
			endCut = true
		}
	}

	querySQL := "SELECT key_token, props FROM entities WHERE " +
		strings.Join(where, " AND ") +
		" ORDER BY " + strings.Join(orderTerms(s.adapter, q.Order), ", ") +
		" LIMIT " + b.Arg(capped+1) + " OFFSET " + b.Arg(skip)

	slog.Debug("entity query", "backend", s.adapter.Backend(), "sql", querySQL)

	rows, err := s.db.QueryContext(ctx, querySQL, b.Args()...)
	if err != nil {
		return nil, fmt.Errorf("run query: %w", err)
	}
	defer rows.Close()

	type row struct {
		token string
		props string
	}
	var raw []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.token, &r.props); err != nil {
			return nil, fmt.Errorf("run query: scan: %w", err)
		}
		raw = append(raw, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("run query: rows: %w", err)
	}

	got := int64(len(raw))
	delivered := got
	if delivered > capped {
		delivered = capped
	}

	entities := make([]wire.Entity, 0, delivered)
	for _, r := range raw[:delivered] {
		k, err := key.ParseToken(req.Namespace, r.token)
		if err != nil {
			return nil, fmt.Errorf("run query: key token: %w", err)
		}
		var props map[string]wire.Value
		if err := json.Unmarshal([]byte(r.props), &props); err != nil {
			return nil, fmt.Errorf("run query: properties: %w", err)
		}
		entities = append(entities, wire.Entity{Key: k, Properties: props})
	}

	if len(q.DistinctOn) > 0 {
		entities = distinctOn(entities, q.DistinctOn)
	}
	if len(q.Projection) > 0 {
		for i := range entities {
			entities[i].Properties = project(entities[i].Properties, q.Projection)
		}
	}

	var more string
	switch {
	case got <= delivered:
		more = wire.NoMoreResults
	case limited && delivered == want:
		more = wire.MoreResultsAfterLimit
	case endCut:
		more = wire.MoreResultsAfterCursor
	default:
		more = wire.NotFinished
	}

	endCursor, err := s.makeCursor(ctx, cursorPayload{Offset: skip + delivered})
	if err != nil {
		return nil, fmt.Errorf("run query: end cursor: %w", err)
	}

	resp := &wire.RunQueryResponse{
		Entities:    entities,
		EndCursor:   endCursor,
		MoreResults: more,
	}
	if req.Explain != nil {
		resp.ExplainMetrics = s.explain(req, querySQL, started, int64(len(entities)), got)
	}
	return resp, nil
}

func (s *Store) explain(req *wire.RunQueryRequest, querySQL string, started time.Time, returned, scanned int64) *wire.ExplainMetrics {
	em := &wire.ExplainMetrics{
		PlanSummary: &wire.PlanSummary{
			IndexesUsed: []map[string]any{{
				"query_scope": "kind",
				"properties":  "(namespace, kind)",
			}},
		},
	}
	if req.Explain.Analyze {
		em.ExecutionStats = &wire.ExecutionStats{
			ResultsReturned:     returned,
			ExecutionDurationMS: s.opts.Now().Sub(started).Milliseconds(),
			ReadOperations:      scanned,
			DebugStats: map[string]any{
				"backend":     string(s.adapter.Backend()),
				"sql":         querySQL,
				"consistency": req.Consistency,
			},
		}
	}
	return em
}

// project keeps only the named properties, resolving dotted paths into
// embedded entities and flattening them under their dotted name. A
// projection of just "__key__" yields a keys-only result.
func project(props map[string]wire.Value, projection []string) map[string]wire.Value {
	out := make(map[string]wire.Value)
	for _, name := range projection {
		if name == "__key__" {
			continue
		}
		if v, ok := lookupPath(props, strings.Split(name, ".")); ok {
			out[name] = v
		}
	}
	return out
}

func lookupPath(props map[string]wire.Value, segs []string) (wire.Value, bool) {
	v, ok := props[segs[0]]
	if !ok {
		return wire.Value{}, false
	}
	for _, seg := range segs[1:] {
		if v.Entity == nil {
			return wire.Value{}, false
		}
		v, ok = v.Entity[seg]
		if !ok {
			return wire.Value{}, false
		}
	}
	return v, true
}

// distinctOn keeps the first entity per combination of the named
// property values, preserving order, within the current page.
func distinctOn(entities []wire.Entity, names []string) []wire.Entity {
	seen := make(map[string]bool)
	out := entities[:0]
	for _, e := range entities {
		parts := make([]json.RawMessage, 0, len(names))
		for _, name := range names {
			v, _ := lookupPath(e.Properties, strings.Split(name, "."))
			enc, _ := json.Marshal(v)
			parts = append(parts, enc)
		}
		sig, _ := json.Marshal(parts)
		if seen[string(sig)] {
			continue
		}
		seen[string(sig)] = true
		out = append(out, e)
	}
	return out
}

// normalizeProps pins timestamp values to UTC so their wire form is
// stable for server-side comparison.
func normalizeProps(props map[string]wire.Value) map[string]wire.Value {
	out := make(map[string]wire.Value, len(props))
	for name, v := range props {
		out[name] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v wire.Value) wire.Value {
	switch {
	case v.Timestamp != nil:
		t := v.Timestamp.UTC()
		v.Timestamp = &t
	case v.Entity != nil:
		v.Entity = normalizeProps(v.Entity)
	case v.List != nil:
		list := make([]wire.Value, len(v.List))
		for i, el := range v.List {
			list[i] = normalizeValue(el)
		}
		v.List = list
	}
	return v
}
