// Package periodic provides a distributed periodic scheduler for Go. It turns
// declarative recurrence rules ("run this task on this schedule") into job
// queue submissions and coordinates any number of scheduler processes so a
// periodic task is never submitted twice for the same due occurrence.
//
// Periodic is designed as a library. Import it, pick a store, and wire the
// scheduler, workers and management API through the engine package.
//
// # Quick Start
//
//	eng, err := engine.Build(
//	    engine.WithStore(pgStore),
//	    engine.WithConfig(periodic.DefaultConfig()),
//	)
//	engine.Register(eng, job.NewDefinition("report.build", buildReport))
//	eng.Start(ctx)
//
// # Architecture
//
// Each subsystem (task, job, cluster) defines its own store interface and a
// single backend implements all of them. The task store's claim operation is
// the only coordination primitive: it is one atomic conditional update, so
// schedulers never take a distributed lock of their own.
//
// The scheduler loop sleeps in a wake cycle that races a timer, a shutdown
// signal and a coalescing notify signal. Timer delays are capped by
// Config.MaxPollInterval, so definitions created behind a scheduler's back
// are still discovered within a bounded time.
package periodic
