// Package sqlite implements the repository interfaces using SQLite as the storage backend.
//
// WHY modernc.org/sqlite?
// It is a pure Go translation of SQLite: no C compiler, no CGo, and the same
// binary runs everywhere Go runs. The driver registers itself with
// database/sql under the name "sqlite".
//
// QUERY PRIMITIVES:
// Every ledger operation is written against three calls that *sql.DB and
// *sql.Tx both provide:
//   - ExecContext     → execute, returns rows affected / last insert id
//   - QueryRowContext → fetch one row
//   - QueryContext    → fetch all rows (must be closed!)
//
// Multi-statement operations run inside withTx so they commit or roll back
// as one unit.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// querier is the subset of *sql.DB / *sql.Tx used by the ledger queries.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

var (
	_ querier = (*sql.DB)(nil)
	_ querier = (*sql.Tx)(nil)
)

// DB wraps a sql.DB connection pool and provides repository methods.
type DB struct {
	conn *sql.DB
}

// New creates a new SQLite database connection and runs migrations.
//
// dbPath examples:
//   - "data/clicks.db"  → file-based database (persistent)
//   - ":memory:"        → in-memory database (tests; lost on close)
//
// ONE CONNECTION:
// SQLite allows a single writer at a time, and every new connection to
// ":memory:" opens a brand-new empty database. The pool is capped at one
// connection so all requests see the same data and writers queue up in Go
// instead of failing with SQLITE_BUSY. Code holding a transaction must
// therefore never reach for db.conn until the transaction ends.
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL lets readers in other processes (backups, sqlite3 CLI) proceed during writes.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}

	// Off by default in SQLite; required for the users → clicks cascade.
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: enabling foreign keys: %w", err)
	}

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping reports whether the database is reachable. Used by the health check.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// migrate creates tables and indexes. Every statement is IF NOT EXISTS, so
// running it against an existing database is a no-op.
func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id         TEXT PRIMARY KEY,
			email      TEXT NOT NULL,
			name       TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return fmt.Errorf("creating users table: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS clicks (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id    TEXT NOT NULL,
			clicked_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
		);
	`)
	if err != nil {
		return fmt.Errorf("creating clicks table: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE INDEX IF NOT EXISTS idx_clicks_user_id ON clicks(user_id);
	`)
	if err != nil {
		return fmt.Errorf("creating clicks user_id index: %w", err)
	}

	return nil
}

// withTx runs fn inside a transaction. The transaction is committed when fn
// returns nil and rolled back otherwise, including when fn panics.
func (db *DB) withTx(ctx context.Context, fn func(q querier) error) (err error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: beginning transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: committing transaction: %w", err)
	}
	return nil
}
