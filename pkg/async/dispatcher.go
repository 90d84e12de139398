package async

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Dispatcher schedules a task body on an execution context.
// Dispatch may block until capacity is available; it must return an error
// without running fn if ctx is done first.
type Dispatcher interface {
	Dispatch(ctx context.Context, fn func()) error
}

// DispatcherFunc adapts a function to the Dispatcher interface.
type DispatcherFunc func(ctx context.Context, fn func()) error

func (f DispatcherFunc) Dispatch(ctx context.Context, fn func()) error { return f(ctx, fn) }

// Default runs every body on a fresh goroutine.
var Default Dispatcher = DispatcherFunc(func(ctx context.Context, fn func()) error {
	go fn()
	return nil
})

// Pool is a bounded dispatcher modelling an I/O-oriented worker pool.
// At most size bodies run concurrently; further dispatches wait for a slot.
type Pool struct {
	sem  *semaphore.Weighted
	size int64
}

// NewPool creates a bounded dispatcher with the given concurrency.
func NewPool(size int64) (*Pool, error) {
	if size <= 0 {
		return nil, ErrPoolSize
	}
	return &Pool{sem: semaphore.NewWeighted(size), size: size}, nil
}

// Size returns the pool concurrency limit.
func (p *Pool) Size() int64 { return p.size }

// Dispatch acquires a slot and runs fn on a new goroutine, releasing the slot
// when fn returns. Waiting for a slot is a suspension point.
func (p *Pool) Dispatch(ctx context.Context, fn func()) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	go func() {
		defer p.sem.Release(1)
		fn()
	}()
	return nil
}
