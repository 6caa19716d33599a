// Package job defines the job record submitted to the queue, its state
// machine, handler registration and the queue store contract.
//
// A [Job] is the boundary between the periodic scheduler and the workers.
// It carries the task-type tag, opaque arguments, priority, submission
// time and the ID of the periodic task that produced it. Jobs move through:
//
//	pending → running → completed
//	pending → running → retrying → running → ...
//	pending → running → failed
//	pending → cancelled
//
// Completed, failed and cancelled are terminal. Reaching a terminal state
// is what clears the originating task's in-flight marker.
//
// Handlers are registered by task type. Typed handlers decode their
// arguments from JSON:
//
//	var Report = job.NewDefinition("report.build",
//	    func(ctx context.Context, in ReportArgs) error { ... },
//	)
//	job.RegisterDefinition(registry, Report)
package job
