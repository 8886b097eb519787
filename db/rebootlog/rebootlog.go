// Package rebootlog persists a ledger of supervisor-triggered reboots to a
// local SQLite database, so the supervisor can tell a single transient
// comm-down event apart from a pattern that calls for escalating to the
// golden image. Grounded on the teacher's sqlx-over-go-sqlite3 database
// layer: a WAL-mode connection opened once at startup, plain SQL through
// sqlx, and migrations applied with CREATE TABLE IF NOT EXISTS.
package rebootlog

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS reboots (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	cause      TEXT    NOT NULL,
	occurred_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS reboots_occurred_at ON reboots(occurred_at);
`

// DB is a handle to the reboot ledger.
type DB struct {
	sqlx *sqlx.DB
}

// Open opens (creating if necessary) the SQLite database at path in WAL
// mode and applies the ledger schema.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Connect("sqlite3", fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=on", path))
	if err != nil {
		return nil, fmt.Errorf("rebootlog: open %s: %w", path, err)
	}
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("rebootlog: apply schema: %w", err)
	}
	return &DB{sqlx: conn}, nil
}

// Close closes the underlying connection.
func (d *DB) Close() error { return d.sqlx.Close() }

// Record appends a reboot event with the given cause at t.
func (d *DB) Record(ctx context.Context, cause string, t time.Time) error {
	_, err := d.sqlx.ExecContext(ctx,
		`INSERT INTO reboots (cause, occurred_at) VALUES (?, ?)`,
		cause, t.Unix())
	if err != nil {
		return fmt.Errorf("rebootlog: record reboot: %w", err)
	}
	return nil
}

// Entry is one row of the reboot ledger.
type Entry struct {
	ID         int64     `db:"id"`
	Cause      string    `db:"cause"`
	OccurredAt int64     `db:"occurred_at"`
}

// Since returns every reboot recorded at or after t, oldest first.
func (d *DB) Since(ctx context.Context, t time.Time) ([]Entry, error) {
	var entries []Entry
	err := d.sqlx.SelectContext(ctx, &entries,
		`SELECT id, cause, occurred_at FROM reboots WHERE occurred_at >= ? ORDER BY occurred_at ASC`,
		t.Unix())
	if err != nil {
		return nil, fmt.Errorf("rebootlog: query reboots since %s: %w", t, err)
	}
	return entries, nil
}

// CountSince returns the number of reboots of any cause recorded at or
// after t, without fetching each row.
func (d *DB) CountSince(ctx context.Context, t time.Time) (int, error) {
	var n int
	err := d.sqlx.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM reboots WHERE occurred_at >= ?`, t.Unix())
	if err != nil {
		return 0, fmt.Errorf("rebootlog: count reboots since %s: %w", t, err)
	}
	return n, nil
}
