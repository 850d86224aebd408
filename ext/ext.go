// Package ext defines the extension system for kiln.
// Extensions are notified of lifecycle events (task enqueued,
// completed, failed, etc.) and can react to them — logging, metrics,
// bookkeeping.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package ext

import (
	"context"
	"time"

	"github.com/kilnworks/kiln/id"
	"github.com/kilnworks/kiln/task"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// TaskEnqueued is called after a task is successfully enqueued.
type TaskEnqueued interface {
	OnTaskEnqueued(ctx context.Context, t *task.Task) error
}

// TaskStarted is called when a worker begins executing a task.
type TaskStarted interface {
	OnTaskStarted(ctx context.Context, t *task.Task) error
}

// TaskCompleted is called after a task finishes successfully.
type TaskCompleted interface {
	OnTaskCompleted(ctx context.Context, t *task.Task, elapsed time.Duration) error
}

// TaskFailed is called when a task fails terminally (no more retries).
type TaskFailed interface {
	OnTaskFailed(ctx context.Context, t *task.Task, err error) error
}

// TaskRetrying is called when a task fails but is scheduled for retry.
type TaskRetrying interface {
	OnTaskRetrying(ctx context.Context, t *task.Task, attempt int, nextRunAt time.Time) error
}

// PeriodicFired is called when a periodic entry fires and enqueues a task.
type PeriodicFired interface {
	OnPeriodicFired(ctx context.Context, entryName string, taskID id.TaskID) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
