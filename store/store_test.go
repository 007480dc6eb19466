package store_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhaseeb85/jenkins-genie/store"
)

func newMockStore(t *testing.T) (*store.Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	sqlxDB := sqlx.NewDb(db, "postgres")
	return store.New(sqlxDB), mock
}

func TestEnqueueTask_InsertsWhenNoneExists(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT id FROM tasks").
		WithArgs("build-1", "PLAN").
		WillReturnError(assertNoRows())

	mock.ExpectExec("INSERT INTO tasks").
		WillReturnResult(sqlmock.NewResult(1, 1))

	id, err := s.EnqueueTask(context.Background(), "build-1", store.TaskPlan, nil, 3)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnqueueTask_NoOpWhenPendingOrProcessingExists(t *testing.T) {
	s, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"id"}).AddRow("existing-task")
	mock.ExpectQuery("SELECT id FROM tasks").
		WithArgs("build-1", "PLAN").
		WillReturnRows(rows)

	id, err := s.EnqueueTask(context.Background(), "build-1", store.TaskPlan, nil, 3)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrDuplicateTask)
	assert.Equal(t, "existing-task", id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimNextTask_ReturnsErrNotFoundWhenNoneReady(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("UPDATE tasks SET").
		WillReturnError(assertNoRows())

	_, err := s.ClaimNextTask(context.Background(), 5*time.Minute)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimNextTask_ReturnsClaimedTask(t *testing.T) {
	s, mock := newMockStore(t)

	cols := []string{
		"id", "build_id", "type", "status", "attempt", "max_attempts",
		"payload", "error_message", "not_before", "lease_expires_at",
		"created_at", "updated_at",
	}
	now := time.Now()
	rows := sqlmock.NewRows(cols).AddRow(
		"task-1", "build-1", "PLAN", "PROCESSING", 0, 3,
		nil, "", now, &now, now, now,
	)
	mock.ExpectQuery("UPDATE tasks SET").WillReturnRows(rows)

	task, err := s.ClaimNextTask(context.Background(), 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "task-1", task.ID)
	assert.Equal(t, store.TaskProcessing, task.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteTask_ErrNotFoundWhenNoRowsAffected(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("UPDATE tasks SET status = 'COMPLETED'").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.CompleteTask(context.Background(), "missing-task")
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequeueTask_IncrementsAttemptAndPushesNotBefore(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("UPDATE tasks SET").
		WithArgs("build tool exited 1", int64(30000), "task-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.RequeueTask(context.Background(), "task-1", "build tool exited 1", 30*time.Second)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReapExpiredLeases_ReturnsReclaimedCount(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("UPDATE tasks SET").
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := s.ReapExpiredLeases(context.Background(), 60*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCountAppliedPatches_ReturnsZeroForNoRows(t *testing.T) {
	s, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"count"}).AddRow(0)
	mock.ExpectQuery("SELECT count").WillReturnRows(rows)

	n, err := s.CountAppliedPatches(context.Background(), "build-1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetPullRequestByBuild_ErrNotFoundWhenAbsent(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT \\* FROM pull_requests").
		WillReturnError(assertNoRows())

	_, err := s.GetPullRequestByBuild(context.Background(), "build-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func assertNoRows() error {
	return sql.ErrNoRows
}
