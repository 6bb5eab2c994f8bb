// Package router implements the correlation table of the bridge. Every request
// a caller sends is recorded as a pending entry keyed by its id before it goes
// downstream. The entry is settled by exactly one of three events:
//
//   - the matching response arrives (delivered to the waiter, with hostMs when profiled)
//   - the deadline elapses (a "Request timed out" failure is delivered)
//   - the owning waiter goes away (nothing is delivered)
//
// All three race for a single compare-and-swap on the entry state, and the
// winner removes the entry from the table only if the table still maps the id
// to this same entry. Ids settled by a deadline or a teardown are remembered for
// a while, so a response arriving late is dropped instead of being broadcast as
// an event. Downstream messages that match no pending or recently settled id are
// handed to the event handler.
//
// The pending table, the per-waiter reverse index and the tombstones are
// xsync.MapOf instances owned by one Router. Metrics are kept in a per-router
// VictoriaMetrics set.
package router
