package testutil

import (
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"

	"github.com/trezcool/presence/core"
	"github.com/trezcool/presence/storage/database"
)

// OpenSQLite opens a migrated SQLite database in a temporary directory, closed when the test ends.
func OpenSQLite(t *testing.T) *sqlx.DB {
	t.Helper()
	conf := &core.Config{Database: core.DatabaseConfig{
		Engine: database.EngineSQLite,
		Path:   filepath.Join(t.TempDir(), "presence.db"),
	}}
	db, err := database.Open(conf)
	if err != nil {
		t.Fatalf("OpenSQLite() failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err = database.Migrate(db); err != nil {
		t.Fatalf("OpenSQLite() failed: %v", err)
	}
	return db
}
