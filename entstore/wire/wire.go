// Package wire defines the canonical structured-query form exchanged
// with an entity-store executor, plus the run-query request/response
// envelope. The JSON field names are the protocol; producers and
// consumers on both sides of the capability boundary share these types.
package wire

import (
	"time"

	"github.com/entstore/entstore/entstore/key"
)

// Direction orders results by a property.
type Direction string

const (
	Ascending  Direction = "ASCENDING"
	Descending Direction = "DESCENDING"
)

// Combinator values accepted in composite filter nodes.
const (
	CombinatorAnd = "AND"
	CombinatorOr  = "OR"
	CombinatorNot = "NOT"
)

// MoreResults states returned alongside a result page. Any other value
// is a protocol error; consumers must not guess.
const (
	MoreResultsUnspecified = "MORE_RESULTS_TYPE_UNSPECIFIED"
	NotFinished            = "NOT_FINISHED"
	MoreResultsAfterLimit  = "MORE_RESULTS_AFTER_LIMIT"
	MoreResultsAfterCursor = "MORE_RESULTS_AFTER_CURSOR"
	NoMoreResults          = "NO_MORE_RESULTS"
)

// KindExpression names a kind the query targets.
type KindExpression struct {
	Name string `json:"name"`
}

// PropertyReference names a property, possibly a dotted path or the
// "__key__" pseudo-property.
type PropertyReference struct {
	Name string `json:"name"`
}

// PropertyOrder is one ORDER BY term; sequence position is priority.
type PropertyOrder struct {
	Property  PropertyReference `json:"property"`
	Direction Direction         `json:"direction"`
}

// FilterNode is either a property-comparison leaf or a composite;
// exactly one of the two fields is set.
type FilterNode struct {
	Property  *PropertyFilterNode  `json:"property,omitempty"`
	Composite *CompositeFilterNode `json:"composite,omitempty"`
}

// PropertyFilterNode compares one property against a value.
type PropertyFilterNode struct {
	Property PropertyReference `json:"property"`
	Operator string            `json:"operator"`
	Value    Value             `json:"value"`
}

// CompositeFilterNode joins child nodes with a combinator.
type CompositeFilterNode struct {
	Combinator string       `json:"combinator"`
	Operands   []FilterNode `json:"operands"`
}

// StructuredQuery is the wire form of one query. Absent optional fields
// are omitted entirely; in particular Limit and Offset are pointers so
// an explicit 0 survives the trip.
type StructuredQuery struct {
	Kind        []KindExpression `json:"kind"`
	Filter      *FilterNode      `json:"filter,omitempty"`
	Order       []PropertyOrder  `json:"order,omitempty"`
	Projection  []string         `json:"projection,omitempty"`
	DistinctOn  []string         `json:"distinctOn,omitempty"`
	StartCursor []byte           `json:"startCursor,omitempty"`
	EndCursor   []byte           `json:"endCursor,omitempty"`
	Limit       *int64           `json:"limit,omitempty"`
	Offset      *int64           `json:"offset,omitempty"`
}

// Consistency of a read.
const (
	ConsistencyStrong   = "STRONG"
	ConsistencyEventual = "EVENTUAL"
)

// ExplainOptions requests query-plan diagnostics with the results.
type ExplainOptions struct {
	Analyze bool `json:"analyze"`
}

// RunQueryRequest is one round trip's input.
type RunQueryRequest struct {
	Namespace   string           `json:"namespace,omitempty"`
	Query       *StructuredQuery `json:"query"`
	Transaction []byte           `json:"transaction,omitempty"`
	ReadTime    *time.Time       `json:"readTime,omitempty"`
	Consistency string           `json:"consistency,omitempty"`
	Explain     *ExplainOptions  `json:"explain,omitempty"`
}

// Entity is the wire shape of one result entity.
type Entity struct {
	Key        *key.Key         `json:"key"`
	Properties map[string]Value `json:"properties,omitempty"`
}

// RunQueryResponse is one page of results plus pagination metadata.
type RunQueryResponse struct {
	Entities       []Entity        `json:"entities"`
	EndCursor      []byte          `json:"endCursor,omitempty"`
	MoreResults    string          `json:"moreResults"`
	ExplainMetrics *ExplainMetrics `json:"explainMetrics,omitempty"`
}

// ExplainMetrics carries server-side query diagnostics.
type ExplainMetrics struct {
	PlanSummary    *PlanSummary    `json:"planSummary,omitempty"`
	ExecutionStats *ExecutionStats `json:"executionStats,omitempty"`
}

// PlanSummary describes the plan the server chose.
type PlanSummary struct {
	IndexesUsed []map[string]any `json:"indexesUsed,omitempty"`
}

// ExecutionStats describes what executing the plan cost. DebugStats is
// an open diagnostic mapping passed through verbatim.
type ExecutionStats struct {
	ResultsReturned     int64          `json:"resultsReturned"`
	ExecutionDurationMS int64          `json:"executionDurationMs"`
	ReadOperations      int64          `json:"readOperations"`
	DebugStats          map[string]any `json:"debugStats,omitempty"`
}

// Aggregation is one requested aggregation over a query's result set.
// Exactly one of Count, Sum, Avg is set.
type Aggregation struct {
	Alias string             `json:"alias"`
	Count *struct{}          `json:"count,omitempty"`
	Sum   *PropertyReference `json:"sum,omitempty"`
	Avg   *PropertyReference `json:"avg,omitempty"`
}

// RunAggregationRequest runs aggregations over a structured query.
type RunAggregationRequest struct {
	Namespace    string           `json:"namespace,omitempty"`
	Query        *StructuredQuery `json:"query"`
	Aggregations []Aggregation    `json:"aggregations"`
	Transaction  []byte           `json:"transaction,omitempty"`
	ReadTime     *time.Time       `json:"readTime,omitempty"`
	Consistency  string           `json:"consistency,omitempty"`
}

// RunAggregationResponse maps aggregation aliases to their values.
type RunAggregationResponse struct {
	Results map[string]Value `json:"results"`
}
