package async

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/panics"

	"github.com/dmitrymomot/loginflow"
)

// Task is a cancellable child computation producing a value of type T.
//
// A task runs under a context derived from its parent. Cancel delivers a
// cooperative cancellation signal that the body observes at its next
// checkpoint. Once Cancel has been accepted the task never completes
// successfully: a body that returns normally afterwards still ends cancelled.
type Task[T any] struct {
	id     string
	name   string
	ctx    context.Context
	cancel context.CancelCauseFunc
	done   chan struct{}

	mu          sync.Mutex
	completed   bool
	cancelCause error
	value       T
	err         error
}

type taskOptions struct {
	name       string
	dispatcher Dispatcher
	onFailure  func(error)
}

// TaskOption configures a spawned task.
type TaskOption func(*taskOptions)

// WithName sets the name used in failures recovered from panics.
func WithName(name string) TaskOption {
	return func(o *taskOptions) {
		if name != "" {
			o.name = name
		}
	}
}

// WithDispatcher selects the execution context the body runs on.
func WithDispatcher(d Dispatcher) TaskOption {
	return func(o *taskOptions) {
		if d != nil {
			o.dispatcher = d
		}
	}
}

// WithFailureHook registers fn to be called once if the task completes with
// an ordinary failure. Cancellations never reach the hook. It is typically
// used to cancel the parent scope.
func WithFailureHook(fn func(error)) TaskOption {
	return func(o *taskOptions) {
		o.onFailure = fn
	}
}

// Spawn starts fn as a child task of ctx.
// If the dispatcher refuses the body because ctx is already done, the task
// completes immediately as cancelled without running fn.
func Spawn[T any](ctx context.Context, fn func(context.Context) (T, error), opts ...TaskOption) *Task[T] {
	o := taskOptions{name: "task", dispatcher: Default}
	for _, opt := range opts {
		opt(&o)
	}

	childCtx, cancel := context.WithCancelCause(ctx)
	t := &Task[T]{
		id:     uuid.NewString(),
		name:   o.name,
		ctx:    childCtx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	if err := Check(childCtx); err != nil {
		var zero T
		t.complete(zero, err, o.onFailure)
		return t
	}

	err := o.dispatcher.Dispatch(childCtx, func() {
		var (
			value T
			err   error
		)

		var catcher panics.Catcher
		catcher.Try(func() { value, err = fn(childCtx) })
		if r := catcher.Recovered(); r != nil {
			err = loginflow.Failure(t.name, "panic", r.AsError())
		}

		t.complete(value, err, o.onFailure)
	})
	if err != nil {
		var zero T
		if sig := Check(childCtx); sig != nil {
			err = sig
		} else {
			err = fmt.Errorf("dispatch %s: %w", t.name, err)
		}
		t.complete(zero, err, o.onFailure)
	}

	return t
}

func (t *Task[T]) complete(value T, err error, onFailure func(error)) {
	t.mu.Lock()
	if t.cancelCause == nil && t.ctx.Err() != nil {
		t.cancelCause = Check(t.ctx)
	}
	if t.cancelCause != nil && err == nil {
		var zero T
		value, err = zero, t.cancelCause
	}
	t.value = value
	t.err = err
	t.completed = true
	t.mu.Unlock()

	// Releases the child context; the task is already marked completed.
	t.cancel(context.Canceled)
	close(t.done)

	if err != nil && onFailure != nil && !loginflow.IsCancellation(err) {
		onFailure(err)
	}
}

// ID returns the unique task identifier.
func (t *Task[T]) ID() string { return t.id }

// Name returns the task name.
func (t *Task[T]) Name() string { return t.name }

// Done is closed once the task has completed.
func (t *Task[T]) Done() <-chan struct{} { return t.done }

// Cancel requests cooperative cancellation without waiting. A nil cause
// becomes a CancelRequested signal. Cancelling a completed or already
// cancelled task is a no-op; Cancel reports whether the request was accepted.
func (t *Task[T]) Cancel(cause error) bool {
	if cause == nil {
		cause = loginflow.Cancellation(loginflow.CancelRequested, nil)
	}

	t.mu.Lock()
	if t.completed || t.cancelCause != nil {
		t.mu.Unlock()
		return false
	}
	t.cancelCause = cause
	t.mu.Unlock()

	t.cancel(cause)
	return true
}

// Join waits for the task to complete without inspecting its outcome.
// It returns an error only if ctx is done first.
func (t *Task[T]) Join(ctx context.Context) error {
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return Check(ctx)
	}
}

// Wait blocks until the task completes, ignoring any context.
func (t *Task[T]) Wait() {
	<-t.done
}

// Await waits for the task and returns its value or its terminal error.
func (t *Task[T]) Await(ctx context.Context) (T, error) {
	if err := t.Join(ctx); err != nil {
		var zero T
		return zero, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.value, t.err
}

// CancelAndJoin cancels the task and waits for it to finish unwinding.
func (t *Task[T]) CancelAndJoin(ctx context.Context, cause error) error {
	t.Cancel(cause)
	return t.Join(ctx)
}

// IsActive reports whether the task is still running and not cancelled.
func (t *Task[T]) IsActive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.completed && t.cancelCause == nil
}

// IsCompleted reports whether the task has completed for any reason.
func (t *Task[T]) IsCompleted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.completed
}

// IsCancelled reports whether cancellation was accepted or the task
// completed with a cancellation signal.
func (t *Task[T]) IsCancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelCause != nil || (t.completed && loginflow.IsCancellation(t.err))
}

// Value returns the task's value and whether it completed successfully.
func (t *Task[T]) Value() (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.completed || t.err != nil {
		var zero T
		return zero, false
	}
	return t.value, true
}

// CompletionError returns the terminal error of a completed task (nil on
// success) or ErrNotCompleted while it is still running.
func (t *Task[T]) CompletionError() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.completed {
		return ErrNotCompleted
	}
	return t.err
}
