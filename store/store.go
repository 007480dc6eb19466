// Package store persists builds, tasks, candidate files, patches,
// validations, pull requests, and notifications in a relational database,
// and implements the claim-and-lease primitives the orchestrator uses to
// coordinate workers.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Store wraps a connection pool and exposes entity-scoped operations. All
// writes that must be atomic (claim, complete-and-advance) are single SQL
// statements or a transaction; there is no in-process locking.
type Store struct {
	db *sqlx.DB
}

// Open connects to the database at dsn and verifies connectivity.
func Open(dsn string) (*Store, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	return &Store{db: db}, nil
}

// New wraps an already-open sqlx connection, for callers (tests, cmd/genie)
// that construct the *sqlx.DB themselves, e.g. over a sqlmock driver.
func New(db *sqlx.DB) *Store { return &Store{db: db} }

// DB exposes the underlying *sql.DB, e.g. for Migrate.
func (s *Store) DB() *sql.DB { return s.db.DB }

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func nowUTC() time.Time { return time.Now().UTC() }
