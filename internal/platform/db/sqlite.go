package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteSchema is the authoritative schema of the single-node store.
const SQLiteSchema = `
CREATE TABLE IF NOT EXISTS patients (
    id TEXT PRIMARY KEY,
    admission_id TEXT NOT NULL,
    name TEXT NOT NULL,
    site TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'active',
    document TEXT NOT NULL,
    version INTEGER NOT NULL DEFAULT 1,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_patients_status ON patients(status);

CREATE TABLE IF NOT EXISTS ward_entries (
    id TEXT PRIMARY KEY,
    patient_id TEXT NOT NULL REFERENCES patients(id) ON DELETE CASCADE,
    recorded_at TEXT NOT NULL,
    transcript TEXT NOT NULL DEFAULT '',
    diff TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ward_entries_patient ON ward_entries(patient_id, recorded_at);
`

// OpenSQLite opens the database at path, creating parent directories and
// the schema as needed. ":memory:" is accepted for tests.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// ":memory:" databases are per connection.
	conn.SetMaxOpenConns(1)

	if _, err := conn.ExecContext(ctx, SQLiteSchema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return conn, nil
}
