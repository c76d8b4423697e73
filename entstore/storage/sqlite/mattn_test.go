//go:build cgo

package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/entstore/entstore/entstore/storage/sqlite"
)

// The cgo driver registers itself as "sqlite3"; everything else about
// the dialect is identical.
func TestConnectWithCgoDriver(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	a := sqlite.NewWithDriver(dbPath, "sqlite3")

	db, err := a.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer db.Close()

	for _, ddl := range a.DDL() {
		if _, err := db.Exec(ddl); err != nil {
			t.Fatalf("DDL: %v", err)
		}
	}
}
