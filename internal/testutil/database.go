package testutil

import (
	"database/sql"
	"os"
	"testing"

	_ "github.com/lib/pq"
)

const chunksSchema = `
CREATE TABLE IF NOT EXISTS chunks (
	world_id TEXT NOT NULL,
	cx INTEGER NOT NULL,
	cz INTEGER NOT NULL,
	blocks JSONB NOT NULL DEFAULT '{}',
	palette TEXT[] NOT NULL DEFAULT '{}',
	version INTEGER NOT NULL DEFAULT 1,
	last_modified TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (world_id, cx, cz)
)`

// SetupTestDB connects to the database named by TEST_DATABASE_URL and ensures
// the chunks schema exists. Tests that need PostgreSQL call this and are
// skipped when the variable is unset.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping database test")
	}

	db, err := sql.Open("postgres", url)
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	if _, err := db.Exec(chunksSchema); err != nil {
		t.Fatalf("Failed to create chunks schema: %v", err)
	}

	t.Cleanup(func() {
		if _, err := db.Exec("DELETE FROM chunks WHERE world_id LIKE 'test-%'"); err != nil {
			t.Logf("Failed to clean up test chunks: %v", err)
		}
		if err := db.Close(); err != nil {
			t.Logf("Failed to close test database: %v", err)
		}
	})
	return db
}
