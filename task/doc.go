// Package task defines periodic task definitions and the store contract the
// scheduler claims them through.
//
// A Definition pairs a recurrence rule with the job payload to submit when
// it is due. The Store's FindNextDue is the only cross-process coordination
// point: it selects and locks one due definition in a single atomic
// operation, so any number of scheduler processes can share a store
// without double-submitting an occurrence.
//
// The lock doubles as the in-flight marker. When overlap is forbidden it is
// kept after submission and cleared by MarkCompleted once the job finishes.
// A lock older than its TTL is treated as stale and the definition becomes
// claimable again.
package task
