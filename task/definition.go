package task

import "context"

// Definition is a typed task definition with a handler function.
// T is the payload type (must be JSON-serializable). The handler's
// first return value, if non-nil, is JSON-serialized and retained in
// the status record on success.
type Definition[T any] struct {
	// Name is the unique identifier for this task type.
	Name string

	// Handler is the function that executes the task payload.
	Handler func(ctx context.Context, payload T) (any, error)

	// Opts configures the attempt budget, queue, and timeout.
	Opts Options
}

// NewDefinition creates a typed task definition.
func NewDefinition[T any](name string, handler func(ctx context.Context, payload T) (any, error), opts ...Option) *Definition[T] {
	def := &Definition[T]{
		Name:    name,
		Handler: handler,
		Opts:    DefaultOptions(),
	}
	for _, opt := range opts {
		opt(&def.Opts)
	}
	return def
}
