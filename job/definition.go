package job

import "context"

// Definition is a typed job handler for one task type.
// T is the argument type; arguments are JSON-decoded into it.
type Definition[T any] struct {
	// TaskType is the tag jobs of this kind carry.
	TaskType string

	// Handler processes decoded arguments.
	Handler func(ctx context.Context, args T) error

	// Opts holds the retry and timeout defaults applied to jobs of this
	// type when they are submitted.
	Opts Options
}

// NewDefinition creates a typed job definition.
func NewDefinition[T any](taskType string, handler func(ctx context.Context, args T) error, opts ...Option) *Definition[T] {
	def := &Definition[T]{
		TaskType: taskType,
		Handler:  handler,
		Opts:     DefaultOptions(),
	}
	for _, opt := range opts {
		opt(&def.Opts)
	}
	return def
}
