package testutil

import (
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"
)

const createSnapshotTableSQL = `
CREATE TABLE IF NOT EXISTS snapshotKV (
	key TEXT PRIMARY KEY,
	value TEXT
)`

// CreateInMemoryDB creates an in-memory SQLite database with the snapshot table
func CreateInMemoryDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to create in-memory database: %v", err)
	}
	// Each new connection to :memory: is a separate database
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createSnapshotTableSQL); err != nil {
		db.Close()
		t.Fatalf("Failed to create snapshotKV table: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	return db
}

// CreateTestDB creates a test database with two sessions worth of snapshots
func CreateTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db := CreateInMemoryDB(t)

	snapshots := []struct {
		key   string
		value string
	}{
		{
			key:   "pipeline-session:transcript",
			value: `[{"id":"u1","role":"user","content":"Estimate the drywall","timestamp":"2025-03-14T09:00:00Z"},{"id":"a1","role":"assistant","agent":"estimator","content":"Total: $4,200","timestamp":"2025-03-14T09:01:00Z"}]`,
		},
		{
			key:   "pipeline-session:archive",
			value: `[{"id":"u9","role":"user","content":"hello","timestamp":"2025-03-13T12:00:00Z"}]`,
		},
		{
			key:   "pipeline-session:broken",
			value: `{"not":"a transcript"}`,
		},
	}

	for _, s := range snapshots {
		InsertSnapshot(t, db, s.key, s.value)
	}
	return db
}

// InsertSnapshot inserts or replaces a snapshot row
func InsertSnapshot(t *testing.T, db *sql.DB, key, value string) {
	t.Helper()
	insertSQL := "INSERT OR REPLACE INTO snapshotKV (key, value) VALUES (?, ?)"
	if _, err := db.Exec(insertSQL, key, value); err != nil {
		t.Fatalf("Failed to insert snapshot: %v", err)
	}
}
