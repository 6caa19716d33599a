// Package scheduler runs the periodic scheduling loop.
//
// A [Scheduler] owns one background goroutine. Each iteration asks the task
// store to claim the next due definition. A claim is submitted to the job
// queue and followed by an immediate re-check, so a backlog drains one task
// per iteration. When nothing is due the loop asks the store for the next
// wake time and sleeps in a [WakeCycle] until that time, a notify-change
// signal, or shutdown.
//
// Every sleep is capped by Config.MaxPollInterval. Definitions created by
// other processes are therefore discovered within one poll interval even
// when no wake broadcast reaches this process.
//
// Store failures never stop the loop. Consecutive failures back off
// exponentially from Config.BackoffInitial up to MaxPollInterval. The only
// fatal error is a store that cannot be reached when Start is called.
// Recording a submission is retried for as long as the claim is held,
// since the job is already queued.
//
//	s := scheduler.New(taskStore, submit,
//	    scheduler.WithConfig(cfg),
//	    scheduler.WithLogger(logger),
//	)
//	if err := s.Start(ctx); err != nil { ... }
//	defer s.Shutdown(context.Background())
package scheduler
