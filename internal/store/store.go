// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package store is the relational system of record: users, the movie
// catalog with its transcoding media record, plans, subscriptions and
// payments. Every multi-step mutation is a read-modify-write inside one
// SQLite transaction.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	sqlitex "github.com/ManuGH/reelstream/internal/persistence/sqlite"
)

var (
	ErrNotFound = errors.New("store: not found")
	ErrConflict = errors.New("store: unique constraint violated")
)

// SchemaVersion is the PRAGMA user_version after all migrations ran.
const SchemaVersion = 2

var migrations = []sqlitex.Migration{
	{Version: 1, Statements: []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			email TEXT NOT NULL UNIQUE,
			username TEXT NOT NULL UNIQUE,
			full_name TEXT NOT NULL DEFAULT '',
			is_active INTEGER NOT NULL DEFAULT 1,
			is_admin INTEGER NOT NULL DEFAULT 0,
			created_at_ms INTEGER NOT NULL,
			updated_at_ms INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS movies (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			release_year INTEGER NOT NULL DEFAULT 0,
			duration_min INTEGER NOT NULL DEFAULT 0,
			genre TEXT NOT NULL DEFAULT '',
			director TEXT NOT NULL DEFAULT '',
			cast_list TEXT NOT NULL DEFAULT '',
			poster_url TEXT NOT NULL DEFAULT '',
			rating REAL NOT NULL DEFAULT 0,
			created_at_ms INTEGER NOT NULL,
			updated_at_ms INTEGER NOT NULL,
			source_url TEXT NOT NULL DEFAULT '',
			streaming_url TEXT NOT NULL DEFAULT '',
			job_handle TEXT NOT NULL DEFAULT '',
			transcode_state TEXT NOT NULL DEFAULT 'NOT_STARTED',
			media_updated_at_ms INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_movies_transcode_state ON movies(transcode_state)`,
		`CREATE INDEX IF NOT EXISTS idx_movies_title ON movies(title)`,
		`CREATE TABLE IF NOT EXISTS subscription_plans (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			price REAL NOT NULL,
			duration_days INTEGER NOT NULL,
			features TEXT NOT NULL DEFAULT '',
			is_active INTEGER NOT NULL DEFAULT 1,
			created_at_ms INTEGER NOT NULL,
			updated_at_ms INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS subscriptions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			plan_id INTEGER NOT NULL REFERENCES subscription_plans(id),
			start_at_ms INTEGER NOT NULL,
			end_at_ms INTEGER NOT NULL,
			is_active INTEGER NOT NULL DEFAULT 1,
			auto_renew INTEGER NOT NULL DEFAULT 1,
			payment_status TEXT NOT NULL DEFAULT 'pending',
			created_at_ms INTEGER NOT NULL,
			updated_at_ms INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_subscriptions_user ON subscriptions(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_subscriptions_plan ON subscriptions(plan_id)`,
		`CREATE TABLE IF NOT EXISTS payments (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			subscription_id INTEGER REFERENCES subscriptions(id),
			amount REAL NOT NULL,
			currency TEXT NOT NULL DEFAULT 'INR',
			method TEXT NOT NULL DEFAULT '',
			gateway_order_id TEXT NOT NULL DEFAULT '',
			gateway_payment_id TEXT NOT NULL DEFAULT '',
			gateway_signature TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending',
			details_json TEXT,
			created_at_ms INTEGER NOT NULL,
			updated_at_ms INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_payments_user ON payments(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_payments_order ON payments(gateway_order_id)`,
	}},
	{Version: 2, Statements: []string{
		`ALTER TABLE movies ADD COLUMN attempt INTEGER NOT NULL DEFAULT 0`,
		`ALTER TABLE movies ADD COLUMN last_error TEXT NOT NULL DEFAULT ''`,
	}},
}

// Store implements the catalog and media persistence on SQLite.
type Store struct {
	DB  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the database at path and migrates it.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sqlitex.Open(path, sqlitex.DefaultConfig())
	if err != nil {
		return nil, err
	}
	s := &Store{DB: db, now: time.Now}
	if _, err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: migration failed: %w", err)
	}
	return s, nil
}

// Migrate brings the schema to SchemaVersion and returns the version reached.
func (s *Store) Migrate(ctx context.Context) (int, error) {
	return sqlitex.Migrate(ctx, s.DB, migrations)
}

// SetClock replaces the timestamp source. Tests only.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Store) Close() error {
	return s.DB.Close()
}

func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return fmt.Errorf("%w: %v", ErrConflict, err)
		}
	}
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func toMS(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMS(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Page bounds list queries.
type Page struct {
	Skip  int
	Limit int
}

func (p Page) normalize() Page {
	if p.Skip < 0 {
		p.Skip = 0
	}
	if p.Limit <= 0 || p.Limit > 500 {
		p.Limit = 100
	}
	return p
}
