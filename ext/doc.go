// Package ext defines lifecycle hooks for the scheduler and its workers.
//
// Extensions are notified of lifecycle events and can react to them:
// recording metrics, clearing in-flight markers, writing audit logs.
// Each hook is a separate interface so extensions opt in only to the events
// they care about.
//
//	type auditExt struct{}
//
//	func (auditExt) Name() string { return "audit" }
//
//	func (auditExt) OnTaskSubmitted(ctx context.Context, d *task.Definition, jobID id.JobID) error {
//	    log.Printf("task %s submitted job %s", d.Name, jobID)
//	    return nil
//	}
//
// # Job hooks
//
//   - [JobEnqueued]: job was accepted into the queue
//   - [JobStarted]: worker began executing the job
//   - [JobCompleted]: job finished successfully
//   - [JobFailed]: job failed with no retries remaining
//   - [JobRetrying]: job failed but will be retried
//
// # Scheduler hooks
//
//   - [TaskSubmitted]: a claimed task was submitted to the queue
//   - [TaskReleased]: a claim was rolled back after a submission failure
//   - [TaskInvalid]: a task was flagged for an unusable schedule
//   - [TaskCompleted]: a task's in-flight marker was cleared
//   - [StoreError]: a scheduler store call failed
//   - [Shutdown]: the engine is shutting down
//
// Hook errors are logged and never propagated.
package ext
