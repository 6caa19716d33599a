// Package queue enforces per-queue and per-task-type limits on the worker
// pool.
//
// Jobs carry a Queue and a TaskType. The pool polls the queues listed in
// [periodic.Config.Queues] and asks a [Manager] for a slot before running
// each job:
//
//	m := queue.NewManager(
//	    queue.Config{Name: "reports", MaxConcurrency: 2},
//	    queue.Config{Name: "bulk", RateLimit: 5, RateBurst: 10},
//	)
//	m.SetTypeConfig(queue.TypeConfig{TaskType: "report.generate", MaxConcurrency: 1})
//
//	if m.Acquire(j.Queue, j.TaskType) {
//	    defer m.Release(j.Queue, j.TaskType)
//	    // run the job
//	}
//
// Rate limits are token buckets (golang.org/x/time/rate). Queues and task
// types without a config have no limits beyond pool concurrency.
package queue
