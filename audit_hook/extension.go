package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kilnworks/kiln/ext"
	"github.com/kilnworks/kiln/id"
	"github.com/kilnworks/kiln/task"
)

// Compile-time interface checks.
var (
	_ ext.Extension     = (*Extension)(nil)
	_ ext.TaskEnqueued  = (*Extension)(nil)
	_ ext.TaskStarted   = (*Extension)(nil)
	_ ext.TaskCompleted = (*Extension)(nil)
	_ ext.TaskFailed    = (*Extension)(nil)
	_ ext.TaskRetrying  = (*Extension)(nil)
	_ ext.PeriodicFired = (*Extension)(nil)
	_ ext.Shutdown      = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
// It is defined locally so this package does not depend on any particular
// audit store — callers inject their concrete backend at wiring time.
type Recorder interface {
	// Record persists a fully-formed audit event.
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a backend-neutral representation of an audit event.
type AuditEvent struct {
	// What happened
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	// Details
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
//
// Example bridging to a structured log sink:
//
//	audithook.RecorderFunc(func(ctx context.Context, evt *audithook.AuditEvent) error {
//	    logger.InfoContext(ctx, "audit",
//	        slog.String("action", evt.Action),
//	        slog.String("resource_id", evt.ResourceID),
//	        slog.String("outcome", evt.Outcome),
//	    )
//	    return nil
//	})
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Severity constants.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome constants.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Extension bridges kiln lifecycle events to an audit trail backend.
// Each lifecycle hook emits a structured audit event through the [Recorder].
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit-hook" }

// ── Task lifecycle hooks ────────────────────────────

// OnTaskEnqueued implements ext.TaskEnqueued.
func (e *Extension) OnTaskEnqueued(ctx context.Context, t *task.Task) error {
	return e.record(ctx, ActionTaskEnqueued, SeverityInfo, OutcomeSuccess,
		ResourceTask, t.ID.String(), CategoryTask, nil,
		"task_name", t.Name,
		"queue", t.Queue,
	)
}

// OnTaskStarted implements ext.TaskStarted.
func (e *Extension) OnTaskStarted(ctx context.Context, t *task.Task) error {
	return e.record(ctx, ActionTaskStarted, SeverityInfo, OutcomeSuccess,
		ResourceTask, t.ID.String(), CategoryTask, nil,
		"task_name", t.Name,
		"queue", t.Queue,
		"attempt", t.Attempt,
	)
}

// OnTaskCompleted implements ext.TaskCompleted.
func (e *Extension) OnTaskCompleted(ctx context.Context, t *task.Task, elapsed time.Duration) error {
	return e.record(ctx, ActionTaskCompleted, SeverityInfo, OutcomeSuccess,
		ResourceTask, t.ID.String(), CategoryTask, nil,
		"task_name", t.Name,
		"queue", t.Queue,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnTaskFailed implements ext.TaskFailed.
func (e *Extension) OnTaskFailed(ctx context.Context, t *task.Task, taskErr error) error {
	return e.record(ctx, ActionTaskFailed, SeverityCritical, OutcomeFailure,
		ResourceTask, t.ID.String(), CategoryTask, taskErr,
		"task_name", t.Name,
		"queue", t.Queue,
		"attempt", t.Attempt,
		"max_attempts", t.MaxAttempts,
	)
}

// OnTaskRetrying implements ext.TaskRetrying.
func (e *Extension) OnTaskRetrying(ctx context.Context, t *task.Task, attempt int, nextRunAt time.Time) error {
	return e.record(ctx, ActionTaskRetrying, SeverityWarning, OutcomeFailure,
		ResourceTask, t.ID.String(), CategoryTask, nil,
		"task_name", t.Name,
		"queue", t.Queue,
		"attempt", attempt,
		"next_run_at", nextRunAt.Format(time.RFC3339),
	)
}

// ── Periodic lifecycle hooks ────────────────────────

// OnPeriodicFired implements ext.PeriodicFired.
func (e *Extension) OnPeriodicFired(ctx context.Context, entryName string, taskID id.TaskID) error {
	return e.record(ctx, ActionPeriodicFired, SeverityInfo, OutcomeSuccess,
		ResourcePeriodic, entryName, CategoryPeriodic, nil,
		"task_id", taskID.String(),
	)
}

// ── Engine lifecycle hooks ──────────────────────────

// OnShutdown implements ext.Shutdown.
func (e *Extension) OnShutdown(ctx context.Context) error {
	return e.record(ctx, ActionEngineShutdown, SeverityInfo, OutcomeSuccess,
		ResourceEngine, "", CategoryEngine, nil)
}

// ── Internal helpers ────────────────────────────────

// record builds and sends an audit event if the action is enabled.
// The kvPairs argument is a list of key-value pairs added to Metadata.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
