package status

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/kilnworks/kiln"
	"github.com/kilnworks/kiln/id"
)

// State represents the lifecycle state recorded for a task.
type State string

const (
	// StatePending means the task is waiting to be picked up by a worker.
	StatePending State = "pending"
	// StateRunning means a worker is currently executing the task.
	StateRunning State = "running"
	// StateSucceeded means the task finished successfully.
	StateSucceeded State = "succeeded"
	// StateRetryScheduled means the task failed and will run again after
	// a backoff delay.
	StateRetryScheduled State = "retry_scheduled"
	// StateFailed means the task failed and its attempt budget is spent.
	StateFailed State = "failed"
)

// Terminal reports whether the state is final. Retry-scheduled is not
// terminal: the task will re-enter running unless the engine shuts down
// first.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Record is the registry's view of one task: its current state,
// timestamps, and outcome. Result is set only on success; Error only on
// retry-scheduled or failed.
type Record struct {
	TaskID    id.TaskID `json:"task_id"`
	Name      string    `json:"name"`
	State     State     `json:"state"`
	Attempt   int       `json:"attempt"`
	Result    []byte    `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Registry is a thread-safe map from task ID to Record. One record per
// task, created at submission, mutated only through the Mark methods.
// Records of queued tasks are never deleted; they remain queryable
// after shutdown for as long as the Registry value is alive. Remove
// exists only to roll back submissions that never reached the queue.
//
// A Registry is always constructed and injected explicitly — there is
// no package-level instance.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*Record
	logger  *slog.Logger
}

// NewRegistry creates an empty status registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		records: make(map[string]*Record),
		logger:  logger,
	}
}

// Create inserts a pending record for the given task. Returns
// kiln.ErrTaskAlreadyExists if a record for this ID is already present
// (should never happen given unique ID generation).
func (r *Registry) Create(taskID id.TaskID, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := taskID.String()
	if _, exists := r.records[key]; exists {
		return kiln.ErrTaskAlreadyExists
	}

	now := time.Now().UTC()
	r.records[key] = &Record{
		TaskID:    taskID,
		Name:      name,
		State:     StatePending,
		Attempt:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return nil
}

// Remove deletes the record for the given task, if present. Unknown IDs
// are ignored. Used to roll back a submission whose enqueue failed
// after the record was created.
func (r *Registry) Remove(taskID id.TaskID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, taskID.String())
}

// MarkRunning records that a worker began executing the given attempt.
func (r *Registry) MarkRunning(taskID id.TaskID, attempt int) {
	r.update(taskID, func(rec *Record) {
		rec.State = StateRunning
		rec.Attempt = attempt
	})
}

// MarkSucceeded records a successful completion with an optional result.
func (r *Registry) MarkSucceeded(taskID id.TaskID, result []byte) {
	r.update(taskID, func(rec *Record) {
		rec.State = StateSucceeded
		rec.Result = cloneBytes(result)
		rec.Error = ""
	})
}

// MarkRetryScheduled records a transient failure; the triggering error
// is retained until the next attempt overwrites it.
func (r *Registry) MarkRetryScheduled(taskID id.TaskID, attempt int, taskErr error) {
	r.update(taskID, func(rec *Record) {
		rec.State = StateRetryScheduled
		rec.Attempt = attempt
		rec.Error = taskErr.Error()
	})
}

// MarkFailed records a permanent failure with the final error.
func (r *Registry) MarkFailed(taskID id.TaskID, taskErr error) {
	r.update(taskID, func(rec *Record) {
		rec.State = StateFailed
		rec.Error = taskErr.Error()
	})
}

// update applies fn to the record under the write lock. An unknown ID
// is logged and ignored rather than propagated: workers must never
// crash on a registry miss.
func (r *Registry) update(taskID id.TaskID, fn func(*Record)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[taskID.String()]
	if !ok {
		r.logger.Warn("status update for unknown task",
			slog.String("task_id", taskID.String()),
		)
		return
	}

	fn(rec)
	rec.UpdatedAt = time.Now().UTC()
}

// Snapshot returns an immutable copy of the record for the given task,
// or kiln.ErrTaskNotFound. Callers never receive a live reference, so
// they cannot race with future updates.
func (r *Registry) Snapshot(taskID id.TaskID) (*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[taskID.String()]
	if !ok {
		return nil, kiln.ErrTaskNotFound
	}

	cp := *rec
	cp.Result = cloneBytes(rec.Result)
	return &cp, nil
}

// List returns copies of all records in the given state, ordered by
// creation time. An empty state matches every record.
func (r *Registry) List(state State) []*Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*Record, 0, len(r.records))
	for _, rec := range r.records {
		if state != "" && rec.State != state {
			continue
		}
		cp := *rec
		cp.Result = cloneBytes(rec.Result)
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})
	return result
}

// Len returns the total number of records.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	return cp
}
