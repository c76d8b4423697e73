// Package storage defines the capability a query scope consumes from an
// entity store, and the dialect adapter contract SQL-backed stores
// implement.
package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/entstore/entstore/entstore/storage/sqlbuilder"
	"github.com/entstore/entstore/entstore/wire"
)

// Backend identifies a storage implementation.
type Backend string

const (
	BackendSQLite   Backend = "sqlite"
	BackendPostgres Backend = "postgres"
)

// Executor is the execution capability a scope requires: one result page
// per query call, aggregations in one call. Pagination across pages is
// the caller's concern; the executor only reports end-of-page state.
type Executor interface {
	ExecuteQuery(ctx context.Context, req *wire.RunQueryRequest) (*wire.RunQueryResponse, error)
	ExecuteAggregation(ctx context.Context, req *wire.RunAggregationRequest) (*wire.RunAggregationResponse, error)
}

// Adapter abstracts database-specific operations for SQL-backed stores.
// JSON paths are passed as segments; the dialect renders its own
// extraction syntax.
type Adapter interface {
	Backend() Backend
	PlaceholderStyle() sqlbuilder.PlaceholderStyle

	Connect(ctx context.Context) (*sql.DB, error)
	Close() error

	// DDL returns the statements that create the store's tables when
	// they do not exist yet.
	DDL() []string

	SQL() SQL

	// ExtractText yields an SQL expression reading a text value at the
	// given JSON path of col; ExtractNumber a numeric one.
	ExtractText(col string, path []string) string
	ExtractNumber(col string, path []string) string
	ExtractBool(col string, path []string) string
	// ExtractTime yields an expression reading an RFC3339 timestamp at
	// the path as epoch seconds, so comparisons are numeric.
	ExtractTime(col string, path []string) string
	// BoolArg converts a bool to the argument form ExtractBool compares
	// against in this dialect; TimeArg does the same for ExtractTime.
	BoolArg(b bool) any
	TimeArg(t time.Time) any

	// OrderTerms yields the ORDER BY terms that sort by the property at
	// the given JSON path, numeric values before text where the dialect
	// needs separate terms.
	OrderTerms(col string, path []string, desc bool) []string
}

// SQL holds prepared SQL templates for entity and cursor operations.
type SQL struct {
	UpsertEntity string
	GetEntity    string
	DeleteEntity string

	GetCursor             string
	PutCursor             string
	CleanupExpiredCursors string
}
