// Package store implements relational persistence for documents, the
// per-document change log, versions, and user contributions over sqlx.
// Production runs on Postgres; tests run on the pure-Go sqlite driver.
package store

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a dereferenced id does not exist.
var ErrNotFound = errors.New("not found")

// Store provides access to all persisted state.
type Store struct {
	db     *sqlx.DB
	driver string
}

// Open connects to the database, verifies the connection, and ensures the
// schema exists. Supported drivers are "postgres" and "sqlite".
func Open(driver, dsn string) (*Store, error) {
	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", driver, err)
	}

	// An in-memory sqlite database exists per connection; pin the pool to
	// one connection so the schema survives.
	if driver == "sqlite" && strings.Contains(dsn, ":memory:") {
		db.SetMaxOpenConns(1)
	}

	s := &Store{db: db, driver: driver}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for test setup.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

func (s *Store) migrate() error {
	changeID := "BIGSERIAL PRIMARY KEY"
	if s.driver == "sqlite" {
		changeID = "INTEGER PRIMARY KEY AUTOINCREMENT"
	}

	statements := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			id         TEXT PRIMARY KEY,
			title      TEXT NOT NULL,
			content    TEXT NOT NULL DEFAULT '',
			owner_id   TEXT NOT NULL,
			status     TEXT NOT NULL DEFAULT 'ACTIVE',
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS document_collaborators (
			document_id     TEXT NOT NULL,
			collaborator_id TEXT NOT NULL,
			PRIMARY KEY (document_id, collaborator_id)
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS change_tracking (
			id          %s,
			document_id TEXT NOT NULL,
			user_id     TEXT NOT NULL,
			change_type TEXT NOT NULL,
			content     TEXT NOT NULL DEFAULT '',
			position    INTEGER NOT NULL DEFAULT 0,
			timestamp   BIGINT NOT NULL,
			version_id  TEXT
		)`, changeID),
		`CREATE INDEX IF NOT EXISTS idx_change_tracking_document
			ON change_tracking (document_id, timestamp)`,
		`CREATE TABLE IF NOT EXISTS document_versions (
			id                 TEXT PRIMARY KEY,
			document_id        TEXT NOT NULL,
			version_number     INTEGER NOT NULL,
			content            TEXT NOT NULL DEFAULT '',
			created_by         TEXT NOT NULL,
			created_at         BIGINT NOT NULL,
			change_description TEXT NOT NULL DEFAULT '',
			UNIQUE (document_id, version_number)
		)`,
		`CREATE TABLE IF NOT EXISTS user_contributions (
			id                 TEXT PRIMARY KEY,
			document_id        TEXT NOT NULL,
			user_id            TEXT NOT NULL,
			edit_count         INTEGER NOT NULL DEFAULT 0,
			characters_added   INTEGER NOT NULL DEFAULT 0,
			characters_deleted INTEGER NOT NULL DEFAULT 0,
			first_contribution BIGINT NOT NULL,
			last_contribution  BIGINT NOT NULL,
			UNIQUE (document_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			id       TEXT PRIMARY KEY,
			name     TEXT NOT NULL,
			is_admin BOOLEAN NOT NULL DEFAULT FALSE
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// nowMillis is the single clock source for persisted timestamps.
func nowMillis() int64 {
	return time.Now().UnixMilli()
}
