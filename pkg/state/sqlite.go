package state

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const snapshotSchema = `
CREATE TABLE IF NOT EXISTS state_snapshots (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	created_at TEXT NOT NULL,
	payload    TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS state_snapshot_backups (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	created_at TEXT NOT NULL,
	payload    TEXT NOT NULL
);`

// SQLiteBackend keeps snapshot history in a SQLite database. Load
// returns the most recent row; Backup copies it to a separate table.
type SQLiteBackend struct {
	mu sync.Mutex
	db *sql.DB
}

// NewSQLiteBackend opens (or creates) the database at path and ensures
// the schema exists.
func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("state: open sqlite: %w", err)
	}
	b, err := NewSQLiteBackendFromDB(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

// NewSQLiteBackendFromDB wraps an existing connection. The caller keeps
// ownership when Close is never called.
func NewSQLiteBackendFromDB(db *sql.DB) (*SQLiteBackend, error) {
	if _, err := db.Exec(snapshotSchema); err != nil {
		return nil, fmt.Errorf("state: ensure schema: %w", err)
	}
	return &SQLiteBackend{db: db}, nil
}

func (b *SQLiteBackend) Save(data map[string]any) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("state: encode snapshot: %w", err)
	}
	_, err = b.db.Exec(`INSERT INTO state_snapshots (created_at, payload) VALUES (?, ?)`,
		time.Now().UTC().Format(time.RFC3339Nano), string(raw))
	if err != nil {
		return fmt.Errorf("state: insert snapshot: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) Load() (map[string]any, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var payload string
	err := b.db.QueryRow(`SELECT payload FROM state_snapshots ORDER BY id DESC LIMIT 1`).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("state: select snapshot: %w", err)
	}
	var data map[string]any
	if err := json.Unmarshal([]byte(payload), &data); err != nil {
		return nil, fmt.Errorf("state: decode snapshot: %w", err)
	}
	return data, nil
}

// Backup copies the latest snapshot into the backup table. No snapshot
// is not an error.
func (b *SQLiteBackend) Backup() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, err := b.db.Exec(`INSERT INTO state_snapshot_backups (created_at, payload)
		SELECT created_at, payload FROM state_snapshots ORDER BY id DESC LIMIT 1`)
	if err != nil {
		return fmt.Errorf("state: backup snapshot: %w", err)
	}
	return nil
}

// Close releases the underlying connection.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
