package kiln

import "time"

// Config holds configuration for the engine.
type Config struct {
	// Concurrency is the number of worker goroutines executing tasks.
	Concurrency int

	// PollTimeout bounds how long a worker blocks waiting for work
	// before re-checking for shutdown.
	PollTimeout time.Duration

	// ShutdownTimeout is the maximum time to wait for in-flight tasks
	// to drain during shutdown when the caller's context carries no
	// deadline of its own.
	ShutdownTimeout time.Duration

	// DefaultMaxAttempts is the attempt budget applied to tasks that do
	// not set one explicitly. A task always executes at least once.
	DefaultMaxAttempts int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:        10,
		PollTimeout:        1 * time.Second,
		ShutdownTimeout:    30 * time.Second,
		DefaultMaxAttempts: 3,
	}
}
