package broadcast

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/dmitrymomot/loginflow/pkg/async"
)

// Unbounded is the capacity of a rendezvous queue whose Send never blocks.
const Unbounded = -1

// Rendezvous is an ordered queue between producers and consumers.
//
// With capacity 0 every Send waits for a receiver; with capacity N it waits
// only while N values are queued; Unbounded never waits. Values are never
// dropped by Send, unless the queue was created with
// WithDiscardWithoutSubscribers and nobody is subscribed. Subscriptions
// compete for values: each value is delivered to exactly one of them.
type Rendezvous[T any] struct {
	name     string
	capacity int
	opts     options

	// bounded modes
	ch chan T

	// unbounded mode
	mu     sync.Mutex
	queue  []T
	signal chan struct{}

	subscribers atomic.Int64

	closed    chan struct{}
	closeOnce sync.Once
}

var _ Channel[struct{}] = (*Rendezvous[struct{}])(nil)

// NewRendezvous creates a queue with the given capacity: 0, a positive
// buffer size, or Unbounded.
func NewRendezvous[T any](name string, capacity int, opts ...Option) (*Rendezvous[T], error) {
	if capacity < Unbounded {
		return nil, ErrInvalidCapacity
	}
	r := &Rendezvous[T]{
		name:     name,
		capacity: capacity,
		opts:     buildOptions(opts),
		closed:   make(chan struct{}),
	}
	if capacity == Unbounded {
		r.signal = make(chan struct{}, 1)
	} else {
		r.ch = make(chan T, capacity)
	}
	return r, nil
}

func (r *Rendezvous[T]) Name() string { return r.name }
func (r *Rendezvous[T]) Kind() Kind { return KindRendezvous }
func (r *Rendezvous[T]) Capacity() int { return r.capacity }

// Len returns the number of queued values.
func (r *Rendezvous[T]) Len() int {
	if r.capacity != Unbounded {
		return len(r.ch)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

func (r *Rendezvous[T]) isClosed() bool {
	select {
	case <-r.closed:
		return true
	default:
		return false
	}
}

// discard reports whether v is dropped because nobody could ever receive it.
func (r *Rendezvous[T]) discard() bool {
	if !r.opts.discardIdle || r.subscribers.Load() > 0 {
		return false
	}
	r.opts.recorder.Dropped(r.name, 1)
	return true
}

func (r *Rendezvous[T]) Send(ctx context.Context, v T) error {
	if r.isClosed() {
		return ErrChannelClosed
	}
	if r.discard() {
		return nil
	}
	if r.capacity == Unbounded {
		r.push(v)
		return nil
	}
	select {
	case r.ch <- v:
		return nil
	case <-r.closed:
		return ErrChannelClosed
	case <-ctx.Done():
		return async.Check(ctx)
	}
}

func (r *Rendezvous[T]) TrySend(v T) error {
	if r.isClosed() {
		return ErrChannelClosed
	}
	if r.discard() {
		return nil
	}
	if r.capacity == Unbounded {
		r.push(v)
		return nil
	}
	select {
	case r.ch <- v:
		return nil
	default:
		r.opts.recorder.Dropped(r.name, 1)
		return ErrWouldBlock
	}
}

func (r *Rendezvous[T]) push(v T) {
	r.mu.Lock()
	r.queue = append(r.queue, v)
	r.mu.Unlock()
	r.wake()
}

func (r *Rendezvous[T]) wake() {
	select {
	case r.signal <- struct{}{}:
	default:
	}
}

// pop takes the head of the unbounded queue.
func (r *Rendezvous[T]) pop() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.queue) == 0 {
		var zero T
		return zero, false
	}
	v := r.queue[0]
	var zero T
	r.queue[0] = zero
	r.queue = r.queue[1:]
	if len(r.queue) > 0 {
		r.wake()
	}
	return v, true
}

func (r *Rendezvous[T]) Subscribe() Subscription[T] {
	r.subscribers.Add(1)
	return &rendezvousSub[T]{subscriber: newSubscriber(), r: r}
}

// Subscribers returns the number of open subscriptions.
func (r *Rendezvous[T]) Subscribers() int { return int(r.subscribers.Load()) }

// Close stops accepting values. Queued values remain receivable.
func (r *Rendezvous[T]) Close() error {
	r.closeOnce.Do(func() { close(r.closed) })
	return nil
}

type rendezvousSub[T any] struct {
	*subscriber
	r *Rendezvous[T]
}

func (s *rendezvousSub[T]) Next(ctx context.Context) (T, error) {
	var zero T
	for {
		toggled, err := s.awaitActive(ctx)
		if err != nil {
			return zero, err
		}

		v, ok, err := s.receive(ctx, toggled)
		if err != nil {
			return zero, err
		}
		if ok {
			s.r.opts.recorder.Delivered(s.r.name)
			return v, nil
		}
	}
}

// receive returns ok=false when the pause state changed before a value
// arrived.
func (s *rendezvousSub[T]) receive(ctx context.Context, toggled <-chan struct{}) (T, bool, error) {
	var zero T
	r := s.r

	if r.capacity == Unbounded {
		for {
			if v, ok := r.pop(); ok {
				return v, true, nil
			}
			if r.isClosed() {
				return zero, false, ErrChannelClosed
			}
			select {
			case <-r.signal:
			case <-r.closed:
			case <-toggled:
				return zero, false, nil
			case <-s.done:
				return zero, false, ErrSubscriptionClosed
			case <-ctx.Done():
				return zero, false, async.Check(ctx)
			}
		}
	}

	select {
	case v := <-r.ch:
		return v, true, nil
	default:
	}

	select {
	case v := <-r.ch:
		return v, true, nil
	case <-r.closed:
		select {
		case v := <-r.ch:
			return v, true, nil
		default:
			return zero, false, ErrChannelClosed
		}
	case <-toggled:
		return zero, false, nil
	case <-s.done:
		return zero, false, ErrSubscriptionClosed
	case <-ctx.Done():
		return zero, false, async.Check(ctx)
	}
}

func (s *rendezvousSub[T]) Close() error {
	if s.closeSub() {
		s.r.subscribers.Add(-1)
	}
	return nil
}
