// Package supervisor owns login runs.
//
// A run moves through a fixed state machine:
//
//	idle -> parent_started -> child_spawned -> [child_cancel_requested] -> [child_awaited]
//	     -> resolved_success | resolved_cancelled | resolved_failed -> finished
//
// The Policy decides whether the child is cancelled (never, at once, or after
// a grace period) and how it is waited for (not at all, join, await, or
// await unless cancelled). A child failure cancels the parent body and is
// routed to the installed handler, which publishes a handled error snapshot.
// Without a handler Run returns a *loginflow.UnhandledFailure and no finished
// snapshot is published. Cancellations never reach the handler.
//
// Run always waits for the child before returning. When the policy does not
// wait, the finished snapshot may be published before the child's own
// snapshots, and a failure the child raises after that is handled late.
package supervisor
