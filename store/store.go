// Package store keeps the gateway event history in SQLite (WAL mode).
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/solar3s/rfnode/gateway"
)

// DB wraps *sql.DB with the event helpers.
type DB struct {
	*sql.DB
}

// Open opens (or creates) the SQLite file at path with WAL journal mode.
func Open(path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path)
	raw, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	if err := raw.Ping(); err != nil {
		raw.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	raw.SetMaxOpenConns(1)
	return &DB{raw}, nil
}

// Migrate creates the schema. It is idempotent.
func Migrate(db *DB) error {
	if _, err := db.Exec(ddlEvents); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

const ddlEvents = `
CREATE TABLE IF NOT EXISTS events (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    kind       TEXT    NOT NULL,
    node       INTEGER NOT NULL DEFAULT 0,
    status     TEXT    NOT NULL,
    erroneous  INTEGER NOT NULL DEFAULT 0,
    payload    BLOB    NOT NULL,          -- the event as JSON
    created_at INTEGER NOT NULL           -- Unix milliseconds
);
CREATE INDEX IF NOT EXISTS idx_events_node ON events (node, id);
`

// InsertEvent appends e to the history.
func (db *DB) InsertEvent(ctx context.Context, e gateway.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("store: encode event: %w", err)
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO events (kind, node, status, erroneous, payload, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		e.Kind.String(), e.Node, e.Status, e.Erroneous, payload, e.Time.UnixMilli())
	if err != nil {
		return fmt.Errorf("store: insert event: %w", err)
	}
	return nil
}

// ListEvents returns the n latest events, oldest first.
func (db *DB) ListEvents(ctx context.Context, n int) ([]gateway.Event, error) {
	return db.list(ctx,
		`SELECT payload FROM (SELECT id, payload FROM events ORDER BY id DESC LIMIT ?) ORDER BY id ASC`, n)
}

// ListNodeEvents is ListEvents restricted to one node.
func (db *DB) ListNodeEvents(ctx context.Context, node uint16, n int) ([]gateway.Event, error) {
	return db.list(ctx,
		`SELECT payload FROM (SELECT id, payload FROM events WHERE node = ? ORDER BY id DESC LIMIT ?) ORDER BY id ASC`,
		node, n)
}

func (db *DB) list(ctx context.Context, query string, args ...any) ([]gateway.Event, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list events: %w", err)
	}
	defer rows.Close()
	var out []gateway.Event
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("store: scan event: %w", err)
		}
		var e gateway.Event
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, fmt.Errorf("store: decode event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Prune deletes all but the keep latest events and returns how many went.
func (db *DB) Prune(ctx context.Context, keep int) (int64, error) {
	res, err := db.ExecContext(ctx,
		`DELETE FROM events WHERE id NOT IN (SELECT id FROM events ORDER BY id DESC LIMIT ?)`, keep)
	if err != nil {
		return 0, fmt.Errorf("store: prune: %w", err)
	}
	return res.RowsAffected()
}
