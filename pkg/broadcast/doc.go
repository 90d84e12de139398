// Package broadcast provides fan-out channels with distinct delivery contracts.
//
// Four strategies share one Channel[T] publish interface so they can be
// exercised uniformly:
//
//	| Kind        | Backlog                    | While a subscriber is paused          |
//	|-------------|----------------------------|---------------------------------------|
//	| Conflate    | exactly 1, overwritten     | dropped, latest seen on resume        |
//	| Replay-N    | last N for new subscribers | skipped, replay cache on resume       |
//	| PassThrough | none                       | producer blocks, nothing dropped      |
//	| Rendezvous  | 0, N or Unbounded queue    | queued in order, nothing dropped      |
//
// # Subscriptions
//
// A subscription models one consumer. Pause and Resume stand for the consumer
// being unscheduled and scheduled again:
//
//	sub := hub.Queue().Subscribe()
//	defer sub.Close()
//
//	for {
//		snapshot, err := sub.Next(ctx)
//		if err != nil {
//			return err
//		}
//		render(snapshot)
//	}
//
// # Hub
//
// Hub owns one channel of each kind plus a replay-1 channel that always has a
// value, and publishes to them in a fixed order: latest, shared, state, flow,
// queue. Three publish strategies are available:
//
//   - PublishInline: in the calling goroutine; blocking channels delay it
//   - PublishDetached: FIFO dispatcher goroutine; the caller never waits
//   - PublishBestEffort: never blocks and silently drops, even on blocking kinds
//
// A detached publish followed by an immediate read of Latest may observe the
// previous value. Flush waits for the dispatcher to catch up.
//
// # Error Handling
//
//   - ErrHubClosed: publishing after Close; reported, never a panic
//   - ErrChannelClosed: sending to or reading from a closed channel
//   - ErrSubscriptionClosed: reading from a closed subscription
//   - ErrWouldBlock: TrySend could not deliver to every receiver
//
// # Metrics
//
// A Recorder passed with WithRecorder or WithHubRecorder observes deliveries,
// drops and failed publishes. The core/metrics package provides a Prometheus
// implementation.
package broadcast
