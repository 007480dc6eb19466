package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EnqueueTask creates a PENDING Task for (buildID, taskType). It is
// idempotent: if a PENDING or PROCESSING task of that type already exists
// for the Build, it returns that task's id and ErrDuplicateTask so the
// caller can treat the second call as a no-op rather than a failure. A
// prior FAILED or COMPLETED task of the same type does not block a new one.
func (s *Store) EnqueueTask(ctx context.Context, buildID string, taskType TaskType, payload []byte, maxAttempts int) (string, error) {
	var existingID string
	const findQ = `
		SELECT id FROM tasks
		WHERE build_id = $1 AND type = $2 AND status IN ('PENDING', 'PROCESSING')
		LIMIT 1`
	err := s.db.GetContext(ctx, &existingID, findQ, buildID, string(taskType))
	switch {
	case err == nil:
		return existingID, ErrDuplicateTask
	case errors.Is(err, sql.ErrNoRows):
		// fall through to insert
	default:
		return "", fmt.Errorf("check existing task: %w", err)
	}

	id := uuid.New().String()
	const insertQ = `
		INSERT INTO tasks (id, build_id, type, status, attempt, max_attempts, payload, not_before)
		VALUES ($1, $2, $3, 'PENDING', 0, $4, $5, now())`
	if _, err := s.db.ExecContext(ctx, insertQ, id, buildID, string(taskType), maxAttempts, payload); err != nil {
		return "", fmt.Errorf("insert task: %w", err)
	}
	return id, nil
}

// ClaimNextTask atomically claims the oldest ready task (PENDING, not_before
// <= now) across all Builds, setting it PROCESSING with a lease expiring
// after leaseDuration. Returns ErrNotFound when no task is ready. This
// single UPDATE ... RETURNING statement is the system's sole ordering
// point; there is no separate in-process queue to keep consistent with it.
func (s *Store) ClaimNextTask(ctx context.Context, leaseDuration time.Duration) (*Task, error) {
	var t Task
	const q = `
		UPDATE tasks SET
			status = 'PROCESSING',
			lease_expires_at = now() + ($1 * interval '1 millisecond'),
			updated_at = now()
		WHERE id = (
			SELECT id FROM tasks
			WHERE status = 'PENDING' AND not_before <= now()
			ORDER BY created_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING *`
	if err := s.db.GetContext(ctx, &t, q, leaseDuration.Milliseconds()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("claim task: %w", err)
	}
	return &t, nil
}

// CompleteTask marks a task COMPLETED. The orchestrator, not this call,
// decides which successor task to enqueue next.
func (s *Store) CompleteTask(ctx context.Context, id string) error {
	const q = `
		UPDATE tasks SET status = 'COMPLETED', lease_expires_at = NULL, updated_at = now()
		WHERE id = $1`
	res, err := s.db.ExecContext(ctx, q, id)
	if err != nil {
		return fmt.Errorf("complete task: %w", err)
	}
	return requireRowAffected(res)
}

// FailTask marks a task FAILED immediately (non-retryable error, or attempt
// count already at max).
func (s *Store) FailTask(ctx context.Context, id, errMsg string) error {
	const q = `
		UPDATE tasks SET status = 'FAILED', error_message = $1, lease_expires_at = NULL, updated_at = now()
		WHERE id = $2`
	res, err := s.db.ExecContext(ctx, q, errMsg, id)
	if err != nil {
		return fmt.Errorf("fail task: %w", err)
	}
	return requireRowAffected(res)
}

// RequeueTask increments the attempt counter and returns a task to PENDING
// with not_before pushed out by delay, for retryable failures.
func (s *Store) RequeueTask(ctx context.Context, id, errMsg string, delay time.Duration) error {
	const q = `
		UPDATE tasks SET
			status = 'PENDING',
			attempt = attempt + 1,
			error_message = $1,
			not_before = now() + ($2 * interval '1 millisecond'),
			lease_expires_at = NULL,
			updated_at = now()
		WHERE id = $3`
	res, err := s.db.ExecContext(ctx, q, errMsg, delay.Milliseconds(), id)
	if err != nil {
		return fmt.Errorf("requeue task: %w", err)
	}
	return requireRowAffected(res)
}

// ReapExpiredLeases returns every task still PROCESSING whose lease expired
// more than staleFor ago back to PENDING, attempt unchanged, so a worker
// that crashed mid-stage doesn't strand its task forever. Returns the
// number of tasks reclaimed.
func (s *Store) ReapExpiredLeases(ctx context.Context, staleFor time.Duration) (int64, error) {
	const q = `
		UPDATE tasks SET
			status = 'PENDING',
			lease_expires_at = NULL,
			updated_at = now()
		WHERE status = 'PROCESSING'
			AND lease_expires_at IS NOT NULL
			AND lease_expires_at < now() - ($1 * interval '1 millisecond')`
	res, err := s.db.ExecContext(ctx, q, staleFor.Milliseconds())
	if err != nil {
		return 0, fmt.Errorf("reap expired leases: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// GetTask looks up a task by id.
func (s *Store) GetTask(ctx context.Context, id string) (*Task, error) {
	var t Task
	const q = `SELECT * FROM tasks WHERE id = $1`
	if err := s.db.GetContext(ctx, &t, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get task: %w", err)
	}
	return &t, nil
}

// ListTasksByBuild returns every task for a Build, oldest first.
func (s *Store) ListTasksByBuild(ctx context.Context, buildID string) ([]Task, error) {
	var tasks []Task
	const q = `SELECT * FROM tasks WHERE build_id = $1 ORDER BY created_at`
	if err := s.db.SelectContext(ctx, &tasks, q, buildID); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}
