package task

import "time"

// Options configures per-task behavior such as the attempt budget and
// delayed execution.
type Options struct {
	// MaxAttempts is the total execution budget, including the first
	// attempt. Zero means "use the engine default".
	MaxAttempts int

	// Queue is the queue label this task is accounted against for
	// rate limiting and concurrency caps.
	Queue string

	// RunAt schedules the task for future execution. Zero means now.
	RunAt time.Time

	// Timeout is the maximum duration one attempt may run before its
	// context is cancelled. Zero means unlimited.
	Timeout time.Duration
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		Queue: "default",
	}
}

// Option is a functional option for configuring a task.
type Option func(*Options)

// WithMaxAttempts sets the total execution budget for the task.
func WithMaxAttempts(n int) Option {
	return func(o *Options) {
		o.MaxAttempts = n
	}
}

// WithQueue sets the queue label for the task.
func WithQueue(q string) Option {
	return func(o *Options) {
		o.Queue = q
	}
}

// WithRunAt schedules the task for execution at a specific time.
func WithRunAt(t time.Time) Option {
	return func(o *Options) {
		o.RunAt = t
	}
}

// WithTimeout sets the per-attempt execution deadline.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeout = d
	}
}
