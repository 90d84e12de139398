package broadcast

import (
	"context"
	"sync"

	"github.com/dmitrymomot/loginflow/pkg/async"
)

// Conflate keeps exactly one value. Send overwrites it and never blocks;
// a subscriber that was paused or slow sees only the value present when it
// reads again.
type Conflate[T any] struct {
	name string
	opts options

	mu      sync.Mutex
	value   T
	version uint64
	changed chan struct{}
	subs    map[*conflateSub[T]]struct{}
	closed  bool
}

var _ Channel[struct{}] = (*Conflate[struct{}])(nil)

// NewConflate creates a latest-value channel holding initial.
func NewConflate[T any](name string, initial T, opts ...Option) *Conflate[T] {
	return &Conflate[T]{
		name:    name,
		opts:    buildOptions(opts),
		value:   initial,
		version: 1,
		changed: make(chan struct{}),
		subs:    make(map[*conflateSub[T]]struct{}),
	}
}

func (c *Conflate[T]) Name() string { return c.name }
func (c *Conflate[T]) Kind() Kind { return KindConflate }

// Value returns the current value. It is a synchronous read.
func (c *Conflate[T]) Value() T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Version returns the number of values the channel has held.
func (c *Conflate[T]) Version() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

func (c *Conflate[T]) Send(_ context.Context, v T) error {
	return c.TrySend(v)
}

func (c *Conflate[T]) TrySend(v T) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrChannelClosed
	}
	dropped := c.storeLocked(v)
	c.mu.Unlock()

	if dropped > 0 {
		c.opts.recorder.Dropped(c.name, dropped)
	}
	return nil
}

// Update applies fn to the current value and stores the result atomically.
func (c *Conflate[T]) Update(fn func(T) T) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrChannelClosed
	}
	dropped := c.storeLocked(fn(c.value))
	c.mu.Unlock()

	if dropped > 0 {
		c.opts.recorder.Dropped(c.name, dropped)
	}
	return nil
}

// storeLocked overwrites the value and returns how many subscribers lost
// an unread one.
func (c *Conflate[T]) storeLocked(v T) int {
	dropped := 0
	for sub := range c.subs {
		if sub.seen < c.version {
			dropped++
		}
	}

	c.value = v
	c.version++
	close(c.changed)
	c.changed = make(chan struct{})
	return dropped
}

// Subscribe returns a subscription that first yields the current value.
func (c *Conflate[T]) Subscribe() Subscription[T] {
	sub := &conflateSub[T]{subscriber: newSubscriber(), c: c}
	c.mu.Lock()
	if !c.closed {
		c.subs[sub] = struct{}{}
	}
	c.mu.Unlock()
	return sub
}

func (c *Conflate[T]) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.changed)
	c.changed = make(chan struct{})
	return nil
}

type conflateSub[T any] struct {
	*subscriber
	c    *Conflate[T]
	seen uint64 // guarded by c.mu
}

func (s *conflateSub[T]) Next(ctx context.Context) (T, error) {
	var zero T
	for {
		toggled, err := s.awaitActive(ctx)
		if err != nil {
			return zero, err
		}

		s.c.mu.Lock()
		if s.seen < s.c.version {
			s.seen = s.c.version
			v := s.c.value
			s.c.mu.Unlock()
			s.c.opts.recorder.Delivered(s.c.name)
			return v, nil
		}
		closed, changed := s.c.closed, s.c.changed
		s.c.mu.Unlock()

		if closed {
			return zero, ErrChannelClosed
		}

		select {
		case <-changed:
		case <-toggled:
		case <-s.done:
			return zero, ErrSubscriptionClosed
		case <-ctx.Done():
			return zero, async.Check(ctx)
		}
	}
}

func (s *conflateSub[T]) Close() error {
	if s.closeSub() {
		s.c.mu.Lock()
		delete(s.c.subs, s)
		s.c.mu.Unlock()
	}
	return nil
}
