// Package engine wires all periodic subsystems together. It creates the
// extension registry, job registry, middleware chain, worker pool, peer
// registry and scheduler, and exposes the management operations that edit
// periodic task definitions.
//
// This package exists to break the import cycle: the root periodic package
// defines Config, Entity and the sentinel errors (imported by task, job,
// scheduler, etc.) and so cannot import those packages back. The engine
// sits above all subsystem packages and below the application layer.
//
// # Lifecycle
//
//	eng, err := engine.Build(
//	    engine.WithStore(s),
//	    engine.WithConfig(cfg),
//	    engine.WithAddress("http://10.0.0.5:8080"),
//	    engine.WithNotifier(notify.NewHTTPClient()),
//	)
//	engine.Register(eng, job.NewDefinition("report.build", buildReport))
//	if err := eng.Start(ctx); err != nil { ... }
//	defer eng.Stop(context.Background())
//
// # Management
//
// CreateTask, UpdateTask, EnableTask, DisableTask and DeleteTask recompute
// the definition's next due time, poke the local scheduler through
// NotifyChange and broadcast a wake to peers. The broadcast is best-effort:
// its failure is logged and never fails the operation.
//
// # Completion
//
// A job that reaches a terminal state (completed or failed) and carries a
// task ID clears the task's in-flight marker through MarkCompleted. When
// the job was submitted by a different instance, the engine also
// broadcasts so the submitting peer re-checks promptly.
package engine
