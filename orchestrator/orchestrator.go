// Package orchestrator drives each Build through the fixed
// PLAN -> RETRIEVE -> CODE_FIX -> VALIDATE -> CREATE_PR -> NOTIFY pipeline,
// claiming tasks from the durable store, dispatching them to registered
// stage handlers, and deciding retry/advance/fail outcomes. Stage handlers
// never enqueue their own successor; this package is the only place that
// does.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/uhaseeb85/jenkins-genie/store"
)

// Handler processes one claimed Task and returns the payload for the
// pipeline's next stage. On a retryable VALIDATE failure, the returned
// payload instead carries the enriched error context for the CODE_FIX
// retry the orchestrator enqueues in its place.
type Handler func(ctx context.Context, st *store.Store, task *store.Task) ([]byte, error)

const (
	defaultRetryBase    = 1 * time.Second
	defaultRetryCap     = 30 * time.Second
	defaultPollInterval = 500 * time.Millisecond
	defaultLeaseDur     = 5 * time.Minute
	defaultReapInterval = 30 * time.Second
	defaultLeaseStale   = 0 // reap anything whose lease has expired at all
)

// Orchestrator owns the worker pool and stage-handler registry for one
// process. Multiple processes may run concurrently against the same store;
// the store's claim-and-lease queries are the only coordination surface.
type Orchestrator struct {
	store *store.Store

	handlers map[store.TaskType]Handler

	workerCount        int
	taskMaxAttempts    int
	validationEnabled  bool
	leaseDuration      time.Duration
	pollInterval       time.Duration
	reapInterval       time.Duration
	leaseStaleFor      time.Duration
	retryBase, retryCap time.Duration

	logger *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithWorkerCount overrides the default worker count (one per registered
// Option call site; New already applies the configured value).
func WithWorkerCount(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.workerCount = n
		}
	}
}

// WithPollInterval overrides how often an idle worker re-checks for ready
// tasks.
func WithPollInterval(d time.Duration) Option {
	return func(o *Orchestrator) { o.pollInterval = d }
}

// New builds an Orchestrator against st, with worker count, max attempts,
// and validation-enabled sourced from configuration.
func New(st *store.Store, workerCount, taskMaxAttempts int, validationEnabled bool, opts ...Option) *Orchestrator {
	if workerCount < 1 {
		workerCount = 1
	}
	if taskMaxAttempts < 1 {
		taskMaxAttempts = 3
	}
	o := &Orchestrator{
		store:             st,
		handlers:          make(map[store.TaskType]Handler),
		workerCount:       workerCount,
		taskMaxAttempts:   taskMaxAttempts,
		validationEnabled: validationEnabled,
		leaseDuration:     defaultLeaseDur,
		pollInterval:      defaultPollInterval,
		reapInterval:      defaultReapInterval,
		leaseStaleFor:     defaultLeaseStale,
		retryBase:         defaultRetryBase,
		retryCap:          defaultRetryCap,
		logger:            slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RegisterHandler binds a stage handler to a task type.
func (o *Orchestrator) RegisterHandler(t store.TaskType, h Handler) {
	o.handlers[t] = h
}

// Enqueue creates a PENDING task of type t for buildID, tolerating the
// (Build, type) uniqueness invariant: a second Enqueue call while one is
// already PENDING or PROCESSING is a no-op, not an error.
func (o *Orchestrator) Enqueue(ctx context.Context, buildID string, t store.TaskType, payload []byte) (string, error) {
	id, err := o.store.EnqueueTask(ctx, buildID, t, payload, o.taskMaxAttempts)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateTask) {
			return id, nil
		}
		return "", err
	}
	return id, nil
}

// RunForever runs the worker pool and lease reaper until ctx is canceled.
func (o *Orchestrator) RunForever(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for i := 0; i < o.workerCount; i++ {
		workerID := i
		g.Go(func() error { return o.workerLoop(ctx, workerID) })
	}
	g.Go(func() error { return o.reapLoop(ctx) })

	return g.Wait()
}

func (o *Orchestrator) workerLoop(ctx context.Context, workerID int) error {
	logger := o.logger.With(slog.Int("worker_id", workerID))
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		task, err := o.store.ClaimNextTask(ctx, o.leaseDuration)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(o.pollInterval):
				}
				continue
			}
			return fmt.Errorf("claim task: %w", err)
		}

		logger.Debug("claimed task", slog.String("task_id", task.ID), slog.String("type", string(task.Type)), slog.String("build_id", task.BuildID))
		o.process(ctx, task)
	}
}

func (o *Orchestrator) reapLoop(ctx context.Context) error {
	ticker := time.NewTicker(o.reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := o.store.ReapExpiredLeases(ctx, o.leaseStaleFor)
			if err != nil {
				o.logger.Error("reap expired leases", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				o.logger.Info("reaped expired leases", slog.Int64("count", n))
			}
		}
	}
}

// process dispatches one claimed task to its handler and applies the
// resulting success/retry/fail decision.
func (o *Orchestrator) process(ctx context.Context, task *store.Task) {
	handler, ok := o.handlers[task.Type]
	if !ok {
		o.failTaskAndBuild(ctx, task, ErrNoHandler)
		return
	}

	nextPayload, err := handler(ctx, o.store, task)
	if err == nil {
		o.onSuccess(ctx, task, nextPayload)
		return
	}

	if task.Type == store.TaskValidate && IsRetryable(err) {
		o.onValidateFailure(ctx, task, nextPayload, err)
		return
	}

	if IsRetryable(err) && task.Attempt+1 < task.MaxAttempts {
		delay := computeDelay(task.Attempt+1, o.retryBase, o.retryCap)
		if rerr := o.store.RequeueTask(ctx, task.ID, err.Error(), delay); rerr != nil {
			o.logger.Error("requeue task", slog.String("task_id", task.ID), slog.String("error", rerr.Error()))
		}
		return
	}

	o.failTaskAndBuild(ctx, task, err)
}

func (o *Orchestrator) onSuccess(ctx context.Context, task *store.Task, nextPayload []byte) {
	if err := o.store.CompleteTask(ctx, task.ID); err != nil {
		o.logger.Error("complete task", slog.String("task_id", task.ID), slog.String("error", err.Error()))
		return
	}

	if task.Type == store.TaskCreatePR {
		if err := o.store.SetBuildStatus(ctx, task.BuildID, store.BuildCompleted); err != nil {
			o.logger.Error("set build completed", slog.String("build_id", task.BuildID), slog.String("error", err.Error()))
		}
	}

	next, ok := nextOnSuccess(task.Type, o.validationEnabled)
	if !ok {
		return // NOTIFY is terminal
	}
	if _, err := o.Enqueue(ctx, task.BuildID, next, nextPayload); err != nil {
		o.logger.Error("enqueue successor", slog.String("build_id", task.BuildID), slog.String("next_type", string(next)), slog.String("error", err.Error()))
	}
}

// onValidateFailure implements the BuildToolNonZero fallback: rather than
// retrying the VALIDATE task itself (which would just re-run the same
// unfixed tree), it enqueues a fresh CODE_FIX task carrying the new error
// context. VALIDATE attempts are bounded by counting how many VALIDATE
// tasks this Build has accumulated; once that reaches the configured
// ceiling, the Build escalates to MANUAL_INTERVENTION_REQUIRED instead of
// looping CODE_FIX/VALIDATE forever.
func (o *Orchestrator) onValidateFailure(ctx context.Context, task *store.Task, enrichedPayload []byte, cause error) {
	if err := o.store.FailTask(ctx, task.ID, cause.Error()); err != nil {
		o.logger.Error("fail validate task", slog.String("task_id", task.ID), slog.String("error", err.Error()))
		return
	}

	history, err := o.store.ListTasksByBuild(ctx, task.BuildID)
	if err != nil {
		o.logger.Error("list tasks for validate exhaustion check", slog.String("build_id", task.BuildID), slog.String("error", err.Error()))
		return
	}
	validateAttempts := 0
	for _, t := range history {
		if t.Type == store.TaskValidate {
			validateAttempts++
		}
	}

	if validateAttempts >= task.MaxAttempts {
		if err := o.store.SetBuildStatus(ctx, task.BuildID, store.BuildManualInterventionRequired); err != nil {
			o.logger.Error("set build manual intervention required", slog.String("build_id", task.BuildID), slog.String("error", err.Error()))
		}
		o.ensureNotify(ctx, task.BuildID)
		return
	}

	if _, err := o.Enqueue(ctx, task.BuildID, store.TaskCodeFix, enrichedPayload); err != nil {
		o.logger.Error("enqueue code_fix retry", slog.String("build_id", task.BuildID), slog.String("error", err.Error()))
	}
}

func (o *Orchestrator) failTaskAndBuild(ctx context.Context, task *store.Task, cause error) {
	if err := o.store.FailTask(ctx, task.ID, cause.Error()); err != nil {
		o.logger.Error("fail task", slog.String("task_id", task.ID), slog.String("error", err.Error()))
	}

	build, err := o.store.GetBuild(ctx, task.BuildID)
	if err != nil {
		o.logger.Error("get build for failure propagation", slog.String("build_id", task.BuildID), slog.String("error", err.Error()))
	} else if build.Status != store.BuildManualInterventionRequired {
		if err := o.store.SetBuildStatus(ctx, task.BuildID, store.BuildFailed); err != nil {
			o.logger.Error("set build failed", slog.String("build_id", task.BuildID), slog.String("error", err.Error()))
		}
	}

	o.ensureNotify(ctx, task.BuildID)
}

// ensureNotify enqueues NOTIFY for a Build whose pipeline terminated
// outside the normal CREATE_PR -> NOTIFY path, so a failed or
// escalated Build still produces a notification record (§7, S6).
func (o *Orchestrator) ensureNotify(ctx context.Context, buildID string) {
	if _, err := o.Enqueue(ctx, buildID, store.TaskNotify, nil); err != nil {
		o.logger.Error("ensure notify", slog.String("build_id", buildID), slog.String("error", err.Error()))
	}
}
