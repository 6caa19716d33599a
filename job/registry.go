package job

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// HandlerFunc is a type-erased job handler that accepts raw arguments.
type HandlerFunc func(ctx context.Context, args []byte) error

type registration struct {
	handler HandlerFunc
	opts    Options
}

// Registry maps task types to handlers and their submission defaults.
// It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]registration
}

// NewRegistry creates an empty job registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]registration)}
}

// Register registers a raw handler for taskType. A later registration for
// the same type replaces the earlier one.
func (r *Registry) Register(taskType string, h HandlerFunc, opts ...Option) {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[taskType] = registration{handler: h, opts: o}
}

// RegisterDefinition registers a typed definition. Arguments are
// JSON-decoded into T before the typed handler runs; empty arguments leave
// T at its zero value.
func RegisterDefinition[T any](r *Registry, def *Definition[T]) {
	handler := func(ctx context.Context, args []byte) error {
		var t T
		if len(args) > 0 {
			if err := json.Unmarshal(args, &t); err != nil {
				return fmt.Errorf("decode args for task type %q: %w", def.TaskType, err)
			}
		}
		return def.Handler(ctx, t)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[def.TaskType] = registration{handler: handler, opts: def.Opts}
}

// Get returns the handler for taskType.
func (r *Registry) Get(taskType string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.handlers[taskType]
	return reg.handler, ok
}

// Options returns the submission defaults for taskType, or DefaultOptions
// when the type is not registered.
func (r *Registry) Options(taskType string) Options {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if reg, ok := r.handlers[taskType]; ok {
		return reg.opts
	}
	return DefaultOptions()
}

// TaskTypes returns all registered task types, sorted.
func (r *Registry) TaskTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
