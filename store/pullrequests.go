package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// CreatePullRequest persists the CREATE_PR stage's result. Unique per
// Build; a second call for the same Build violates the schema's unique
// constraint, which the CREATE_PR handler avoids by checking
// GetPullRequestByBuild first (idempotence rule in §8).
func (s *Store) CreatePullRequest(ctx context.Context, pr *PullRequest) (string, error) {
	if pr.ID == "" {
		pr.ID = uuid.New().String()
	}
	if pr.Status == "" {
		pr.Status = PullRequestCreated
	}
	const q = `
		INSERT INTO pull_requests (id, build_id, branch_name, pr_number, html_url, status)
		VALUES (:id, :build_id, :branch_name, :pr_number, :html_url, :status)`
	if _, err := s.db.NamedExecContext(ctx, q, pr); err != nil {
		return "", fmt.Errorf("insert pull request: %w", err)
	}
	return pr.ID, nil
}

// GetPullRequestByBuild returns a Build's PullRequest, or ErrNotFound if
// CREATE_PR hasn't run yet.
func (s *Store) GetPullRequestByBuild(ctx context.Context, buildID string) (*PullRequest, error) {
	var pr PullRequest
	const q = `SELECT * FROM pull_requests WHERE build_id = $1`
	if err := s.db.GetContext(ctx, &pr, q, buildID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get pull request: %w", err)
	}
	return &pr, nil
}
