// Package sqlite is the SQLite dialect adapter for the SQL-backed
// entity store. The default driver is modernc.org/sqlite ("sqlite");
// mattn/go-sqlite3 works through NewWithDriver(path, "sqlite3").
package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/entstore/entstore/entstore/storage"
	"github.com/entstore/entstore/entstore/storage/sqlbuilder"
)

type Adapter struct {
	Path       string
	DriverName string
}

func New(path string) *Adapter {
	return &Adapter{Path: path, DriverName: "sqlite"}
}

func NewWithDriver(path, driver string) *Adapter {
	return &Adapter{Path: path, DriverName: driver}
}

func (a *Adapter) Backend() storage.Backend {
	return storage.BackendSQLite
}

func (a *Adapter) PlaceholderStyle() sqlbuilder.PlaceholderStyle {
	return sqlbuilder.PlaceholderQuestion
}

func (a *Adapter) Connect(ctx context.Context) (*sql.DB, error) {
	dsn := a.Path
	if !strings.Contains(dsn, "?") {
		dsn = dsn + "?_busy_timeout=5000&_foreign_keys=on"
	} else {
		dsn = dsn + "&_busy_timeout=5000&_foreign_keys=on"
	}
	db, err := sql.Open(a.DriverName, dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func (a *Adapter) Close() error { return nil }

func (a *Adapter) DDL() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS entities (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			namespace TEXT NOT NULL DEFAULT '',
			kind TEXT NOT NULL,
			key_token TEXT NOT NULL,
			props TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			UNIQUE(namespace, key_token)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_entities_kind ON entities(namespace, kind)`,
		`CREATE TABLE IF NOT EXISTS cursors (
			handle TEXT PRIMARY KEY,
			payload TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL
		)`,
	}
}

func (a *Adapter) SQL() storage.SQL { return SQLTemplates }

var SQLTemplates = storage.SQL{
	UpsertEntity: `INSERT INTO entities (namespace, kind, key_token, props, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(namespace, key_token) DO UPDATE SET
			kind = excluded.kind,
			props = excluded.props,
			updated_at = excluded.updated_at`,
	GetEntity:    `SELECT props FROM entities WHERE namespace = ? AND key_token = ?`,
	DeleteEntity: `DELETE FROM entities WHERE namespace = ? AND key_token = ?`,

	GetCursor:             `SELECT payload, expires_at FROM cursors WHERE handle = ?`,
	PutCursor:             `INSERT INTO cursors (handle, payload, created_at, expires_at) VALUES (?, ?, ?, ?)`,
	CleanupExpiredCursors: `DELETE FROM cursors WHERE expires_at < ?`,
}

func jsonPath(path []string) string {
	var b strings.Builder
	b.WriteString("'$")
	for _, seg := range path {
		b.WriteString(`."`)
		b.WriteString(seg)
		b.WriteString(`"`)
	}
	b.WriteString("'")
	return b.String()
}

func (a *Adapter) ExtractText(col string, path []string) string {
	return "json_extract(" + col + ", " + jsonPath(path) + ")"
}

func (a *Adapter) ExtractNumber(col string, path []string) string {
	return "CAST(json_extract(" + col + ", " + jsonPath(path) + ") AS NUMERIC)"
}

func (a *Adapter) ExtractBool(col string, path []string) string {
	// json_extract renders JSON booleans as 1/0
	return "json_extract(" + col + ", " + jsonPath(path) + ")"
}

func (a *Adapter) ExtractTime(col string, path []string) string {
	// julianday keeps sub-second precision; 2440587.5 is the Unix epoch
	return "((julianday(json_extract(" + col + ", " + jsonPath(path) + ")) - 2440587.5) * 86400.0)"
}

func (a *Adapter) BoolArg(b bool) any {
	if b {
		return 1
	}
	return 0
}

func (a *Adapter) TimeArg(t time.Time) any {
	return float64(t.UnixNano()) / 1e9
}

func (a *Adapter) OrderTerms(col string, path []string, desc bool) []string {
	dbl := append(append([]string{}, path...), "doubleValue")
	intp := append(append([]string{}, path...), "integerValue")
	ts := append(append([]string{}, path...), "timestampValue")
	str := append(append([]string{}, path...), "stringValue")
	term := "COALESCE(" +
		a.ExtractNumber(col, dbl) + ", " +
		a.ExtractNumber(col, intp) + ", " +
		a.ExtractTime(col, ts) + ", " +
		a.ExtractText(col, str) + ")"
	if desc {
		term += " DESC"
	}
	return []string{term}
}
