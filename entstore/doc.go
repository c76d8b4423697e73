// Package entstore builds, translates and runs queries against a
// schema-less entity store through a pluggable execution capability.
//
// A Database scope hands out Queries; the fluent builder accumulates
// filters, ordering, projection, grouping, cursors and bounds, and Run
// or RunStream drive the pagination protocol against the scope's
// executor. Filters are composed with the filter package; the wire
// package defines the structured-query form requests travel in; the
// storage tree supplies SQL-backed executors for SQLite and PostgreSQL.
package entstore
