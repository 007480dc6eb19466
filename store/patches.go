package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// CreatePatch persists a generated diff for one file with the applied flag
// and apply log the caller sets.
func (s *Store) CreatePatch(ctx context.Context, p *Patch) (string, error) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	const q = `
		INSERT INTO patches (id, build_id, file_path, diff_text, applied, apply_log)
		VALUES (:id, :build_id, :file_path, :diff_text, :applied, :apply_log)`
	if _, err := s.db.NamedExecContext(ctx, q, p); err != nil {
		return "", fmt.Errorf("insert patch: %w", err)
	}
	return p.ID, nil
}

// MarkPatchApplied flips a Patch's applied flag and records its apply log.
func (s *Store) MarkPatchApplied(ctx context.Context, id string, applied bool, applyLog string) error {
	const q = `UPDATE patches SET applied = $1, apply_log = $2 WHERE id = $3`
	res, err := s.db.ExecContext(ctx, q, applied, applyLog, id)
	if err != nil {
		return fmt.Errorf("mark patch applied: %w", err)
	}
	return requireRowAffected(res)
}

// ListPatches returns every patch recorded for a Build.
func (s *Store) ListPatches(ctx context.Context, buildID string) ([]Patch, error) {
	var out []Patch
	const q = `SELECT * FROM patches WHERE build_id = $1 ORDER BY created_at`
	if err := s.db.SelectContext(ctx, &out, q, buildID); err != nil {
		return nil, fmt.Errorf("list patches: %w", err)
	}
	return out, nil
}

// CountAppliedPatches reports how many applied=true patches exist for a
// Build — the CODE_FIX success criterion is at least one.
func (s *Store) CountAppliedPatches(ctx context.Context, buildID string) (int, error) {
	var n int
	const q = `SELECT count(*) FROM patches WHERE build_id = $1 AND applied = true`
	if err := s.db.GetContext(ctx, &n, q, buildID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("count applied patches: %w", err)
	}
	return n, nil
}
