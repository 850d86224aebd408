package task

import (
	"time"

	"github.com/kilnworks/kiln"
	"github.com/kilnworks/kiln/id"
)

// Task represents a unit of work to be executed by a worker. A task is
// owned by the queue until a worker dequeues it; ownership then passes
// to that worker for the duration of the attempt. Execution state is
// tracked separately in the status registry.
type Task struct {
	kiln.Entity

	ID      id.TaskID `json:"id"`
	Name    string    `json:"name"`
	Queue   string    `json:"queue"`
	Payload []byte    `json:"payload,omitempty"`

	// Attempt is the 1-indexed execution attempt this task represents.
	// It is incremented each time the task is requeued after a failure.
	Attempt int `json:"attempt"`

	// MaxAttempts bounds total executions. A task reaches a terminal
	// state within MaxAttempts attempts; it is never retried forever.
	MaxAttempts int `json:"max_attempts"`

	// RunAt is the earliest time the task may be dequeued. Retries are
	// requeued with RunAt pushed into the future by the backoff delay.
	RunAt time.Time `json:"run_at"`

	// Timeout is the per-attempt execution deadline. Zero means none.
	Timeout time.Duration `json:"timeout,omitempty"`
}
