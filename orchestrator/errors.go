package orchestrator

import "errors"

// StageError is the contract every stage handler returns: a flat
// retryable/non-retryable flag the orchestrator uses to decide whether to
// requeue with backoff or fail the task immediately. Handlers translate
// whatever error taxonomy their underlying package uses (llm.TransientError,
// hostprovider.RetryableError, validator.TimeoutError, ...) into this one
// shape so the orchestrator never needs to know about them.
type StageError struct {
	err       error
	retryable bool
}

func (e *StageError) Error() string { return e.err.Error() }
func (e *StageError) Unwrap() error { return e.err }

// Retryable wraps err as a retryable StageError.
func Retryable(err error) error { return &StageError{err: err, retryable: true} }

// Fatal wraps err as a non-retryable StageError.
func Fatal(err error) error { return &StageError{err: err, retryable: false} }

// IsRetryable reports whether err is a StageError marked retryable. An
// error that isn't a StageError at all is treated as non-retryable: stage
// handlers are expected to classify every error they return.
func IsRetryable(err error) bool {
	var se *StageError
	if errors.As(err, &se) {
		return se.retryable
	}
	return false
}

// ErrNoCandidates is returned by RETRIEVE when ranking yields zero
// candidate files.
var ErrNoCandidates = errors.New("no candidate files survived ranking")

// ErrNoAppliedPatches is returned by CODE_FIX when every candidate file was
// tried and none produced an applied patch.
var ErrNoAppliedPatches = errors.New("no patches were successfully applied")

// ErrNoHandler is returned by RunForever when a claimed task's type has no
// registered stage handler.
var ErrNoHandler = errors.New("no stage handler registered for task type")
