package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// CreateValidation persists one VALIDATE-stage build-tool invocation's
// outcome, including the sentinel row written when validation is skipped
// by configuration.
func (s *Store) CreateValidation(ctx context.Context, v *Validation) (string, error) {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	const q = `
		INSERT INTO validations
			(id, build_id, validation_type, exit_code, stdout_tail, stderr_tail, spring_context_loaded, skipped)
		VALUES
			(:id, :build_id, :validation_type, :exit_code, :stdout_tail, :stderr_tail, :spring_context_loaded, :skipped)`
	if _, err := s.db.NamedExecContext(ctx, q, v); err != nil {
		return "", fmt.Errorf("insert validation: %w", err)
	}
	return v.ID, nil
}

// ListValidations returns every validation recorded for a Build, oldest
// first, so the latest attempt's output is the last entry.
func (s *Store) ListValidations(ctx context.Context, buildID string) ([]Validation, error) {
	var out []Validation
	const q = `SELECT * FROM validations WHERE build_id = $1 ORDER BY created_at`
	if err := s.db.SelectContext(ctx, &out, q, buildID); err != nil {
		return nil, fmt.Errorf("list validations: %w", err)
	}
	return out, nil
}
