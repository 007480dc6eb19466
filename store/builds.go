package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// CreateBuild inserts a new Build row. Callers enforce the (job, build
// number) uniqueness invariant by checking GetBuildByJobAndNumber first,
// or by tolerating the unique-constraint error this returns for a race.
func (s *Store) CreateBuild(ctx context.Context, b *Build) (string, error) {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	if b.Status == "" {
		b.Status = BuildProcessing
	}

	const q = `
		INSERT INTO builds (id, job_name, build_number, branch, repo_url, commit_sha, working_dir, status, payload)
		VALUES (:id, :job_name, :build_number, :branch, :repo_url, :commit_sha, :working_dir, :status, :payload)`
	if _, err := s.db.NamedExecContext(ctx, q, b); err != nil {
		return "", fmt.Errorf("insert build: %w", err)
	}
	return b.ID, nil
}

// GetBuildByJobAndNumber looks up a Build by its unique (job, build_number)
// key, returning ErrNotFound when absent.
func (s *Store) GetBuildByJobAndNumber(ctx context.Context, job string, number int) (*Build, error) {
	var b Build
	const q = `SELECT * FROM builds WHERE job_name = $1 AND build_number = $2`
	if err := s.db.GetContext(ctx, &b, q, job, number); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get build: %w", err)
	}
	return &b, nil
}

// GetBuild looks up a Build by id.
func (s *Store) GetBuild(ctx context.Context, id string) (*Build, error) {
	var b Build
	const q = `SELECT * FROM builds WHERE id = $1`
	if err := s.db.GetContext(ctx, &b, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get build: %w", err)
	}
	return &b, nil
}

// SetBuildStatus transitions a Build's status.
func (s *Store) SetBuildStatus(ctx context.Context, id string, status BuildStatus) error {
	const q = `UPDATE builds SET status = $1, updated_at = now() WHERE id = $2`
	res, err := s.db.ExecContext(ctx, q, status, id)
	if err != nil {
		return fmt.Errorf("set build status: %w", err)
	}
	return requireRowAffected(res)
}

// SetBuildWorkingDir records the per-Build working directory assigned at
// RETRIEVE.
func (s *Store) SetBuildWorkingDir(ctx context.Context, id, workingDir string) error {
	const q = `UPDATE builds SET working_dir = $1, updated_at = now() WHERE id = $2`
	res, err := s.db.ExecContext(ctx, q, workingDir, id)
	if err != nil {
		return fmt.Errorf("set build working dir: %w", err)
	}
	return requireRowAffected(res)
}

func requireRowAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
