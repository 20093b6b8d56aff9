package internal

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const createSnapshotTable = `
CREATE TABLE IF NOT EXISTS snapshotKV (
	key TEXT PRIMARY KEY,
	value TEXT
)`

// OpenDatabase opens (creating if needed) a SQLite database
func OpenDatabase(path string) (*sql.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps :memory: databases coherent and serializes writers
	db.SetMaxOpenConns(1)

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	return db, nil
}

// QuerySnapshotKV queries the snapshotKV table with a LIKE pattern
func QuerySnapshotKV(db *sql.DB, pattern string) ([]KeyValuePair, error) {
	query := "SELECT key, value FROM snapshotKV WHERE key LIKE ? AND value IS NOT NULL ORDER BY key"
	rows, err := db.Query(query, pattern)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var pairs []KeyValuePair
	for rows.Next() {
		var pair KeyValuePair
		var value sql.NullString
		if err := rows.Scan(&pair.Key, &value); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		if value.Valid {
			pair.Value = value.String
			pairs = append(pairs, pair)
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return pairs, nil
}

// KeyValuePair represents a key-value pair from snapshotKV
type KeyValuePair struct {
	Key   string
	Value string
}

// SQLiteSnapshotStore keeps snapshots in a SQLite key/value table
type SQLiteSnapshotStore struct {
	db *sql.DB
}

// OpenSQLiteSnapshotStore opens the database at path and prepares the table
func OpenSQLiteSnapshotStore(path string) (*SQLiteSnapshotStore, error) {
	db, err := OpenDatabase(path)
	if err != nil {
		return nil, err
	}
	store, err := NewSQLiteSnapshotStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLiteSnapshotStore wraps an open database
func NewSQLiteSnapshotStore(db *sql.DB) (*SQLiteSnapshotStore, error) {
	if _, err := db.Exec(createSnapshotTable); err != nil {
		return nil, fmt.Errorf("failed to create snapshotKV table: %w", err)
	}
	return &SQLiteSnapshotStore{db: db}, nil
}

// Load returns the value stored under key
func (s *SQLiteSnapshotStore) Load(key string) ([]byte, bool, error) {
	var value sql.NullString
	err := s.db.QueryRow("SELECT value FROM snapshotKV WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("query failed: %w", err)
	}
	if !value.Valid {
		return nil, false, nil
	}
	return []byte(value.String), true, nil
}

// Save upserts the value under key
func (s *SQLiteSnapshotStore) Save(key string, value []byte) error {
	_, err := s.db.Exec(
		"INSERT INTO snapshotKV (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, string(value),
	)
	if err != nil {
		return fmt.Errorf("upsert failed: %w", err)
	}
	return nil
}

// Keys lists stored keys in lexical order
func (s *SQLiteSnapshotStore) Keys() ([]string, error) {
	pairs, err := QuerySnapshotKV(s.db, "%")
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(pairs))
	for _, p := range pairs {
		keys = append(keys, p.Key)
	}
	return keys, nil
}

// Close closes the underlying database
func (s *SQLiteSnapshotStore) Close() error {
	return s.db.Close()
}
