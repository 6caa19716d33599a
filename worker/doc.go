// Package worker executes queued jobs.
//
// An [Executor] runs one job through the middleware chain and its
// registered handler, then records the outcome: completed, retrying with
// backoff, or failed once retries are exhausted. A [Pool] runs a fixed
// number of goroutines that dequeue from the configured queues, heartbeat
// running jobs and requeue jobs whose worker stopped heartbeating.
//
// Terminal outcomes are emitted as ext events. The engine listens for
// them to clear the in-flight marker on the periodic task that submitted
// the job.
package worker
