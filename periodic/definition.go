package periodic

// Definition is a typed periodic definition. T is the payload type
// (must be JSON-serializable).
type Definition[T any] struct {
	// Name is the unique identifier for this periodic entry.
	Name string

	// Schedule is a cron expression (e.g., "*/5 * * * *" or "@every 30s").
	Schedule string

	// TaskName is the name of the task to enqueue on each tick.
	TaskName string

	// Payload is the static payload to enqueue with each task.
	Payload T

	// Queue overrides the default task queue (optional).
	Queue string

	// MaxAttempts overrides the default attempt budget (optional).
	MaxAttempts int
}
