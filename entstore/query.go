package entstore

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/entstore/entstore/entstore/filter"
	"github.com/entstore/entstore/entstore/key"
)

// Cursor is an opaque pagination token. It is never inspected or
// re-encoded by the query layer; only the store interprets it.
type Cursor []byte

const unset = int64(-1)

// Query accumulates filters, orders, projection, grouping, cursors and
// bounds, then runs against its bound scope. Builder methods mutate the
// receiver and return it for chaining; a Query is owned by one logical
// caller and is not safe for concurrent mutation. The same Query may be
// re-run, typically after moving Start to the previous run's end
// cursor.
type Query struct {
	scope     scope
	namespace string
	kinds     []string

	// filters holds legacy flat entries; compositeFilters holds trees
	// from the newer filter API. Both sets are implicitly ANDed.
	filters          []filter.Property
	compositeFilters []filter.Filter

	orders    []order
	groupBy   []string
	selection []string

	startCursor Cursor
	endCursor   Cursor
	limit       int64
	offset      int64

	// err records the first construction mistake; surfaced on run.
	err error
}

type order struct {
	name       string
	descending bool
}

func newQuery(s scope, namespace, kind string) *Query {
	return &Query{
		scope:     s,
		namespace: namespace,
		kinds:     []string{kind},
		limit:     unset,
		offset:    unset,
	}
}

// NewQuery builds an unbound Query, useful for constructing query state
// before a scope exists. Running it fails until rebound via a scope's
// NewQuery.
func NewQuery(kind string) *Query {
	return newQuery(nil, "", kind)
}

// Namespace targets a namespace partition.
func (q *Query) Namespace(ns string) *Query {
	q.namespace = ns
	return q
}

// Filter appends a pre-built filter tree. Trees and legacy entries may
// be mixed on one query, though sticking to trees is encouraged.
func (q *Query) Filter(f filter.Filter) *Query {
	if f == nil {
		q.fail(ClientError("Filter: nil filter"))
		return q
	}
	if err := filter.Validate(f); err != nil {
		q.fail(Wrap(ErrClient, "Filter", err))
		return q
	}
	q.compositeFilters = append(q.compositeFilters, f)
	return q
}

var legacyFilterAdvisory sync.Once

// FilterEq appends a legacy equality entry, equivalent to FilterOp with
// the "=" operator.
func (q *Query) FilterEq(property string, v filter.Value) *Query {
	return q.FilterOp(property, filter.OpEqual, v)
}

// FilterOp appends a legacy property comparison. Surrounding whitespace
// on the property name and operator is trimmed.
func (q *Query) FilterOp(property string, op filter.Operator, v filter.Value) *Query {
	legacyFilterAdvisory.Do(func() {
		slog.Warn("entstore: legacy property filters are discouraged; prefer Query.Filter with a filter tree")
	})
	entry := filter.Where(property, op, v)
	if err := filter.Validate(entry); err != nil {
		q.fail(Wrap(ErrClient, "FilterOp", err))
		return q
	}
	q.filters = append(q.filters, entry)
	return q
}

// Ancestor constrains results to the given key and its descendants. It
// appends a legacy entry on the key pseudo-property; it does not touch
// the composite filter set.
func (q *Query) Ancestor(k *key.Key) *Query {
	if k == nil || len(k.Path) == 0 {
		q.fail(ClientError("Ancestor: empty key"))
		return q
	}
	q.filters = append(q.filters, filter.Ancestor(filter.KeyRef(k)))
	return q
}

// Order appends an ascending sort on the property; insertion order is
// the tie-break priority, first inserted wins.
func (q *Query) Order(property string) *Query {
	q.orders = append(q.orders, order{name: strings.TrimSpace(property)})
	return q
}

// OrderDesc appends a descending sort on the property.
func (q *Query) OrderDesc(property string) *Query {
	q.orders = append(q.orders, order{name: strings.TrimSpace(property), descending: true})
	return q
}

// GroupBy replaces the distinct-on property set; insertion order is
// preserved on the wire.
func (q *Query) GroupBy(properties ...string) *Query {
	q.groupBy = append([]string(nil), properties...)
	return q
}

// Select replaces the projection property set; insertion order is the
// output order.
func (q *Query) Select(properties ...string) *Query {
	q.selection = append([]string(nil), properties...)
	return q
}

// Start sets the opaque start cursor.
func (q *Query) Start(c Cursor) *Query {
	q.startCursor = c
	return q
}

// End sets the opaque end cursor.
func (q *Query) End(c Cursor) *Query {
	q.endCursor = c
	return q
}

// Limit bounds the result count. Zero is a meaningful explicit value;
// the unset state is the -1 sentinel. No range validation happens here,
// out-of-range values are the store's to reject.
func (q *Query) Limit(n int) *Query {
	q.limit = int64(n)
	return q
}

// Offset skips results. Same sentinel convention as Limit.
func (q *Query) Offset(n int) *Query {
	q.offset = int64(n)
	return q
}

func (q *Query) fail(err error) {
	if q.err == nil {
		q.err = err
	}
}

// checkRunnable gates every run: accumulated construction errors first,
// then scope binding.
func (q *Query) checkRunnable() error {
	if q.err != nil {
		return q.err
	}
	if q.scope == nil {
		return ClientError("query is not bound to a database or transaction scope")
	}
	if len(q.kinds) == 0 {
		return ClientError("query has no kind")
	}
	return nil
}
