package audithook

// Audit event actions. Each constant corresponds to one ext lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionTaskEnqueued   = "task.enqueued"
	ActionTaskStarted    = "task.started"
	ActionTaskCompleted  = "task.completed"
	ActionTaskFailed     = "task.failed"
	ActionTaskRetrying   = "task.retrying"
	ActionPeriodicFired  = "periodic.fired"
	ActionEngineShutdown = "engine.shutdown"
)

// Audit event categories group related actions.
const (
	CategoryTask     = "kiln.task"
	CategoryPeriodic = "kiln.periodic"
	CategoryEngine   = "kiln.engine"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceTask     = "task"
	ResourcePeriodic = "periodic_entry"
	ResourceEngine   = "engine"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionTaskEnqueued,
		ActionTaskStarted,
		ActionTaskCompleted,
		ActionTaskFailed,
		ActionTaskRetrying,
		ActionPeriodicFired,
		ActionEngineShutdown,
	}
}
