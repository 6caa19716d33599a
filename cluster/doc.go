// Package cluster tracks the scheduler processes sharing a store.
//
// Each running process registers itself as an [Instance] carrying the
// address peers can reach it at, and heartbeats while alive. The registry is
// used only to find peers for best-effort wake broadcasts; it plays no part
// in claim correctness, which rests entirely on the task store's atomic
// claim. An instance that stops heartbeating simply drops out of the peer
// list once its last-seen time exceeds the dead threshold.
package cluster
