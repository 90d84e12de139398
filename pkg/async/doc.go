// Package async provides cancellable child tasks with explicit suspension points.
//
// A Task runs a body under a context derived from its parent. Cancellation is
// cooperative: the body only observes it at a checkpoint (Sleep, Yield or
// Check), so work between two checkpoints always runs to the next one.
//
// # Core Types
//
// Task[T] is a spawned computation. It can be joined (wait without looking at
// the outcome), awaited (wait and collect value or error), cancelled without
// waiting, or cancelled and joined.
//
//	task := async.Spawn(ctx, func(ctx context.Context) (bool, error) {
//		if err := async.Sleep(ctx, 100*time.Millisecond); err != nil {
//			return false, err
//		}
//		return true, nil
//	}, async.WithDispatcher(pool))
//
//	task.Cancel(nil)
//	_, err := task.Await(ctx) // CancelRequested signal
//
// A task whose cancellation was accepted never completes successfully, even
// if its body returns a value afterwards. Cancelling a completed task is a
// no-op.
//
// # Dispatchers
//
// Default runs each body on its own goroutine. Pool bounds concurrency with a
// weighted semaphore and models an I/O-oriented execution context.
//
// # Failures
//
// Panics inside a body are recovered and surfaced as loginflow.OperationFailure.
// WithFailureHook is invoked for ordinary failures only, never for
// cancellations.
//
// # Coordination Utilities
//
//	err := async.JoinAll(ctx, run, emitter)
//	err := async.JoinTimeout(emitter, time.Second)
//
// # Error Handling
//
//   - ErrTimeout: returned when JoinTimeout exceeds its duration
//   - ErrNotCompleted: returned by CompletionError while a task is running
//   - ErrPoolSize: returned by NewPool for a non-positive size
package async
