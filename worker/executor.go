// Package worker provides the task execution engine — an Executor that
// invokes registered handlers through middleware, and a Pool that
// manages concurrent worker goroutines polling the queue.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kilnworks/kiln"
	"github.com/kilnworks/kiln/ext"
	"github.com/kilnworks/kiln/middleware"
	"github.com/kilnworks/kiln/queue"
	"github.com/kilnworks/kiln/retry"
	"github.com/kilnworks/kiln/status"
	"github.com/kilnworks/kiln/task"
)

// Executor runs a single task through middleware and the registered
// handler, then handles retry logic, status updates, and lifecycle events.
type Executor struct {
	registry   *task.Registry
	statuses   *status.Registry
	extensions *ext.Registry
	queue      *queue.Queue
	policy     *retry.Policy
	mw         middleware.Middleware
	logger     *slog.Logger
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(
	registry *task.Registry,
	statuses *status.Registry,
	extensions *ext.Registry,
	q *queue.Queue,
	policy *retry.Policy,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	return &Executor{
		registry:   registry,
		statuses:   statuses,
		extensions: extensions,
		queue:      q,
		policy:     policy,
		mw:         middleware.Chain(mws...),
		logger:     logger,
	}
}

// Execute runs a task through the middleware chain and handler.
// On success: marks succeeded, emits TaskCompleted.
// On failure with attempts remaining: marks retry-scheduled with backoff,
// requeues, emits TaskRetrying.
// On failure with the attempt budget spent (or a non-retryable error):
// marks failed, emits TaskFailed.
func (e *Executor) Execute(ctx context.Context, t *task.Task) error {
	handler, ok := e.registry.Get(t.Name)
	if !ok {
		// Enqueue validates handlers, so this only happens if a task was
		// requeued across a registry change.
		err := fmt.Errorf("%w: %s", kiln.ErrNoHandler, t.Name)
		e.statuses.MarkFailed(t.ID, err)
		e.extensions.EmitTaskFailed(ctx, t, err)
		return err
	}

	e.statuses.MarkRunning(t.ID, t.Attempt)

	start := time.Now()

	// The terminal handler that calls the registered task handler and
	// captures its result.
	var result []byte
	terminal := func(ctx context.Context) error {
		out, err := handler(ctx, t.Payload)
		result = out
		return err
	}

	// Run through middleware chain.
	err := e.mw(ctx, t, terminal)
	elapsed := time.Since(start)

	t.Touch()

	if err != nil {
		return e.handleFailure(ctx, t, err)
	}

	return e.handleSuccess(ctx, t, result, elapsed)
}

// handleSuccess marks the task as succeeded and emits the lifecycle event.
func (e *Executor) handleSuccess(ctx context.Context, t *task.Task, result []byte, elapsed time.Duration) error {
	e.statuses.MarkSucceeded(t.ID, result)
	e.extensions.EmitTaskCompleted(ctx, t, elapsed)
	return nil
}

// handleFailure consults the retry policy and either schedules another
// attempt or fails the task permanently. Non-retryable errors skip the
// policy and fail immediately regardless of remaining attempts.
func (e *Executor) handleFailure(ctx context.Context, t *task.Task, handlerErr error) error {
	if !retry.IsRetryable(handlerErr) {
		return e.fail(ctx, t, handlerErr)
	}

	decision := e.policy.Decide(t.Attempt, t.MaxAttempts)
	if decision.Give {
		return e.fail(ctx, t, handlerErr)
	}

	return e.scheduleRetry(ctx, t, handlerErr, decision.Delay)
}

// scheduleRetry records the retry, advances the attempt counter, and
// requeues the task with a future RunAt.
func (e *Executor) scheduleRetry(ctx context.Context, t *task.Task, handlerErr error, delay time.Duration) error {
	next := t.Attempt + 1
	nextRunAt := time.Now().UTC().Add(delay)

	e.statuses.MarkRetryScheduled(t.ID, next, handlerErr)

	t.Attempt = next
	t.RunAt = nextRunAt

	// Requeue is accepted even after Close so retries decided during
	// shutdown stay visible in the status registry as retry_scheduled.
	if requeueErr := e.queue.Requeue(t); requeueErr != nil {
		e.logger.Error("failed to requeue task for retry",
			slog.String("task_id", t.ID.String()),
			slog.String("error", requeueErr.Error()),
		)
		return requeueErr
	}

	e.extensions.EmitTaskRetrying(ctx, t, next, nextRunAt)

	e.logger.Info("task scheduled for retry",
		slog.String("task_id", t.ID.String()),
		slog.String("task_name", t.Name),
		slog.Int("attempt", next),
		slog.Int("max_attempts", t.MaxAttempts),
		slog.Duration("delay", delay),
	)

	return fmt.Errorf("task %s attempt %d/%d: %w", t.Name, next-1, t.MaxAttempts, handlerErr)
}

// fail marks the task as permanently failed and emits events.
func (e *Executor) fail(ctx context.Context, t *task.Task, handlerErr error) error {
	e.statuses.MarkFailed(t.ID, handlerErr)
	e.extensions.EmitTaskFailed(ctx, t, handlerErr)

	e.logger.Warn("task failed permanently",
		slog.String("task_id", t.ID.String()),
		slog.String("task_name", t.Name),
		slog.Int("attempt", t.Attempt),
		slog.String("error", handlerErr.Error()),
	)

	return handlerErr
}
