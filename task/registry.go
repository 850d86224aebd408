package task

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// HandlerFunc is a type-erased task handler operating on raw JSON. The
// typed Definition[T] is converted to a HandlerFunc at registration time
// by closing over JSON unmarshal + the typed handler. The returned bytes
// are the JSON-serialized result, nil when the handler produced none.
type HandlerFunc func(ctx context.Context, payload []byte) ([]byte, error)

// Registry maps task names to type-erased handler functions and their
// registration-time options. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	opts     map[string]Options
}

// NewRegistry creates an empty task registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]HandlerFunc),
		opts:     make(map[string]Options),
	}
}

// RegisterDefinition registers a typed task definition. The generic
// handler is wrapped in a closure that JSON-unmarshals the payload into
// T before calling the typed handler and JSON-marshals its result.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterDefinition[T any](r *Registry, def *Definition[T]) {
	handler := func(ctx context.Context, payload []byte) ([]byte, error) {
		var in T
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &in); err != nil {
				return nil, fmt.Errorf("unmarshal payload for task %q: %w", def.Name, err)
			}
		}

		out, err := def.Handler(ctx, in)
		if err != nil {
			return nil, err
		}
		if out == nil {
			return nil, nil
		}

		result, err := json.Marshal(out)
		if err != nil {
			return nil, fmt.Errorf("marshal result for task %q: %w", def.Name, err)
		}
		return result, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[def.Name] = handler
	r.opts[def.Name] = def.Opts
}

// Get returns the handler for the given task name.
// Returns false if no handler is registered.
func (r *Registry) Get(name string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Defaults returns the registration-time options for the given task
// name, or DefaultOptions if the name is unknown.
func (r *Registry) Defaults(name string) Options {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if o, ok := r.opts[name]; ok {
		return o
	}
	return DefaultOptions()
}

// Names returns all registered task names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}
