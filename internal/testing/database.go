// Package testing provides shared test database helpers.
package testing

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/corvid-labs/granary/db"
)

// CreateTestDB opens a fully migrated SQLite database in a temp directory.
// A file-backed database is used instead of :memory: because the pool opens
// multiple connections and each :memory: handle is a separate database.
// Cleanup is registered via t.Cleanup().
func CreateTestDB(t *testing.T) *sql.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "granary_test.db")
	conn, err := db.OpenWithMigrations(path, nil)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	t.Cleanup(func() {
		conn.Close()
	})

	return conn
}
