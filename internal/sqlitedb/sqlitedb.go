// Package sqlitedb opens the embedded SQLite database shared by the service
// stores and owns the users table they both reference.
package sqlitedb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const usersSchema = `
CREATE TABLE IF NOT EXISTS users (
	id                 TEXT PRIMARY KEY,
	name               TEXT NOT NULL DEFAULT '',
	email              TEXT NOT NULL DEFAULT '',
	role               TEXT NOT NULL DEFAULT 'user',
	beta_access_status TEXT NOT NULL DEFAULT 'none'
)`

// Open opens (creating if needed) the database at path and applies the base
// schema. ":memory:" gives a private in-memory database.
// The pool holds a single connection.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	if path != ":memory:" {
		dsn += "&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlitedb: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlitedb: ping %s: %w", path, err)
	}
	if err := Migrate(ctx, db, usersSchema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Migrate runs schema statements in one transaction. Statements must be
// idempotent (CREATE ... IF NOT EXISTS).
func Migrate(ctx context.Context, db *sql.DB, stmts ...string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlitedb: migrate: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	for _, s := range stmts {
		if _, err := tx.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("sqlitedb: migrate: %w", err)
		}
	}
	return tx.Commit()
}

// Execer is satisfied by *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// UpsertUser records the profile of a signed-in user. The beta access status
// is left as is; an empty role is stored as "user".
func UpsertUser(ctx context.Context, db Execer, id, name, email, role string) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, role) VALUES (?, ?, ?, COALESCE(NULLIF(?, ''), 'user'))
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			role = excluded.role`,
		id, name, email, role)
	if err != nil {
		return fmt.Errorf("sqlitedb: upsert user %s: %w", id, err)
	}
	return nil
}

// IsUniqueViolation reports whether err is a UNIQUE or PRIMARY KEY
// constraint failure.
func IsUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}
	return false
}

// Timestamps are stored as unix nanoseconds so ORDER BY is chronological.

func Stamp(t time.Time) int64 { return t.UTC().UnixNano() }

func FromStamp(ns int64) time.Time { return time.Unix(0, ns).UTC() }

// NullStamp maps a nullable column to a *time.Time.
func NullStamp(ns sql.NullInt64) *time.Time {
	if !ns.Valid {
		return nil
	}
	t := FromStamp(ns.Int64)
	return &t
}
