// Package notify carries "re-evaluate now" signals between scheduler
// processes that share a store.
//
// A [Client] broadcasts a wake to peers after a task definition changes.
// A [Listener] receives wakes and calls back into the local scheduler,
// which treats them exactly like a local NotifyChange. Three transports are
// provided:
//
//   - HTTP: POSTs to each peer's /v1/scheduler/wake endpoint. Peer
//     addresses come from the cluster registry. The receiving side is the
//     api package, so there is no HTTP Listener here.
//   - Redis: PUBLISH on a channel, SUBSCRIBE to receive.
//   - Postgres: pg_notify on a channel, LISTEN to receive.
//
// Broadcasts are best-effort. A lost wake only delays discovery until the
// receiving scheduler's MaxPollInterval safety-net poll. [Throttled] wraps
// any Client so bursts of edits collapse into a bounded broadcast rate.
package notify
