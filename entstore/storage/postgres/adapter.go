// Package postgres is the Postgres dialect adapter for the SQL-backed
// entity store, connecting through pgx's database/sql bridge. The store
// lives in a dedicated schema pinned via search_path.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/entstore/entstore/entstore/storage"
	"github.com/entstore/entstore/entstore/storage/sqlbuilder"
)

type Adapter struct {
	DSN    string
	Schema string // dedicated schema via search_path
}

func New(dsn, schema string) *Adapter {
	return &Adapter{DSN: dsn, Schema: schema}
}

func (a *Adapter) Backend() storage.Backend { return storage.BackendPostgres }

func (a *Adapter) PlaceholderStyle() sqlbuilder.PlaceholderStyle { return sqlbuilder.PlaceholderDollar }

func (a *Adapter) Close() error { return nil }

var schemaNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func quoteIdent(ident string) string {
	// ident is validated to contain no quotes; safe to wrap
	return `"` + ident + `"`
}

func (a *Adapter) ensureSchema(ctx context.Context, db *sql.DB) error {
	if a.Schema == "" || !schemaNameRe.MatchString(a.Schema) {
		return fmt.Errorf("invalid postgres schema name %q (must match %s)", a.Schema, schemaNameRe.String())
	}
	_, err := db.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+quoteIdent(a.Schema))
	return err
}

func (a *Adapter) Connect(ctx context.Context) (*sql.DB, error) {
	// 1) Connect without search_path to ensure schema exists
	cfg0, err := pgx.ParseConfig(a.DSN)
	if err != nil {
		return nil, err
	}
	db0 := stdlib.OpenDB(*cfg0)
	if err := db0.PingContext(ctx); err != nil {
		_ = db0.Close()
		return nil, err
	}
	if err := a.ensureSchema(ctx, db0); err != nil {
		_ = db0.Close()
		return nil, err
	}
	_ = db0.Close()

	// 2) Connect with search_path pinned to the schema
	cfg, err := pgx.ParseConfig(a.DSN)
	if err != nil {
		return nil, err
	}
	if cfg.RuntimeParams == nil {
		cfg.RuntimeParams = map[string]string{}
	}
	cfg.RuntimeParams["search_path"] = a.Schema
	db := stdlib.OpenDB(*cfg)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func (a *Adapter) DDL() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS entities (
			id BIGSERIAL PRIMARY KEY,
			namespace TEXT NOT NULL DEFAULT '',
			kind TEXT NOT NULL,
			key_token TEXT NOT NULL,
			props JSONB NOT NULL,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL,
			UNIQUE(namespace, key_token)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_entities_kind ON entities(namespace, kind)`,
		`CREATE TABLE IF NOT EXISTS cursors (
			handle TEXT PRIMARY KEY,
			payload TEXT NOT NULL,
			created_at BIGINT NOT NULL,
			expires_at BIGINT NOT NULL
		)`,
	}
}

func (a *Adapter) SQL() storage.SQL { return SQLTemplates }

var SQLTemplates = storage.SQL{
	UpsertEntity: `INSERT INTO entities (namespace, kind, key_token, props, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (namespace, key_token) DO UPDATE SET
			kind = EXCLUDED.kind,
			props = EXCLUDED.props,
			updated_at = EXCLUDED.updated_at`,
	GetEntity:    `SELECT props FROM entities WHERE namespace = $1 AND key_token = $2`,
	DeleteEntity: `DELETE FROM entities WHERE namespace = $1 AND key_token = $2`,

	GetCursor:             `SELECT payload, expires_at FROM cursors WHERE handle = $1`,
	PutCursor:             `INSERT INTO cursors (handle, payload, created_at, expires_at) VALUES ($1, $2, $3, $4)`,
	CleanupExpiredCursors: `DELETE FROM cursors WHERE expires_at < $1`,
}

func jsonPath(path []string) string {
	return "'{" + strings.Join(path, ",") + "}'"
}

func (a *Adapter) ExtractText(col string, path []string) string {
	return "(" + col + " #>> " + jsonPath(path) + ")"
}

func (a *Adapter) ExtractNumber(col string, path []string) string {
	return "(" + col + " #>> " + jsonPath(path) + ")::numeric"
}

func (a *Adapter) ExtractBool(col string, path []string) string {
	return "(" + col + " #>> " + jsonPath(path) + ")"
}

func (a *Adapter) ExtractTime(col string, path []string) string {
	return "EXTRACT(EPOCH FROM ((" + col + " #>> " + jsonPath(path) + "))::timestamptz)"
}

func (a *Adapter) BoolArg(b bool) any {
	if b {
		return "true"
	}
	return "false"
}

func (a *Adapter) TimeArg(t time.Time) any {
	return float64(t.UnixNano()) / 1e9
}

func (a *Adapter) OrderTerms(col string, path []string, desc bool) []string {
	dbl := append(append([]string{}, path...), "doubleValue")
	intp := append(append([]string{}, path...), "integerValue")
	ts := append(append([]string{}, path...), "timestampValue")
	str := append(append([]string{}, path...), "stringValue")
	numeric := "COALESCE(" + a.ExtractNumber(col, dbl) + ", " + a.ExtractNumber(col, intp) + ", " + a.ExtractTime(col, ts) + ")"
	text := a.ExtractText(col, str)
	suffix := ""
	if desc {
		suffix = " DESC"
	}
	return []string{numeric + suffix, text + suffix}
}
