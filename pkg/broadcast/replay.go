package broadcast

import (
	"context"
	"sync"

	"github.com/dmitrymomot/loginflow/pkg/async"
)

// Replay is a multicast channel retaining the last N values.
//
// New subscribers and subscribers returning from a pause receive the replay
// cache. Values published while a subscriber is paused are not delivered to
// it. Send never blocks: an active subscriber that falls more than N values
// behind loses the oldest ones.
type Replay[T any] struct {
	name  string
	size  int
	equal func(a, b T) bool
	opts  options

	mu     sync.Mutex
	cache  []T
	subs   []*replaySub[T]
	closed bool
}

var _ Channel[struct{}] = (*Replay[struct{}])(nil)

// NewReplay creates a replay-N multicast channel with an empty cache.
func NewReplay[T any](name string, size int, opts ...Option) (*Replay[T], error) {
	if size <= 0 {
		return nil, ErrInvalidReplaySize
	}
	return &Replay[T]{
		name: name,
		size: size,
		opts: buildOptions(opts),
	}, nil
}

// NewStateReplay creates a replay-1 channel that always has a value.
// If equal is not nil, a value equal to the current one is not re-published.
func NewStateReplay[T any](name string, initial T, equal func(a, b T) bool, opts ...Option) *Replay[T] {
	return &Replay[T]{
		name:  name,
		size:  1,
		equal: equal,
		cache: []T{initial},
		opts:  buildOptions(opts),
	}
}

func (r *Replay[T]) Name() string { return r.name }
func (r *Replay[T]) Kind() Kind { return KindReplay }

// Latest returns the newest cached value, if any.
func (r *Replay[T]) Latest() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.cache) == 0 {
		var zero T
		return zero, false
	}
	return r.cache[len(r.cache)-1], true
}

// Cache returns a copy of the replay cache, oldest first.
func (r *Replay[T]) Cache() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]T(nil), r.cache...)
}

func (r *Replay[T]) Send(_ context.Context, v T) error {
	return r.TrySend(v)
}

func (r *Replay[T]) TrySend(v T) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrChannelClosed
	}
	if r.equal != nil && len(r.cache) > 0 && r.equal(r.cache[len(r.cache)-1], v) {
		r.mu.Unlock()
		return nil
	}

	r.cache = appendBounded(r.cache, v, r.size)

	dropped := 0
	for _, sub := range r.subs {
		dropped += sub.offer(v)
	}
	r.mu.Unlock()

	if dropped > 0 {
		r.opts.recorder.Dropped(r.name, dropped)
	}
	return nil
}

// Subscribe returns a subscription primed with the replay cache.
func (r *Replay[T]) Subscribe() Subscription[T] {
	sub := &replaySub[T]{
		subscriber: newSubscriber(),
		r:          r,
		signal:     make(chan struct{}, 1),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	sub.buf = append([]T(nil), r.cache...)
	if !r.closed {
		r.subs = append(r.subs, sub)
	}
	return sub
}

func (r *Replay[T]) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	for _, sub := range r.subs {
		sub.notify()
	}
	return nil
}

func (r *Replay[T]) remove(target *replaySub[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, sub := range r.subs {
		if sub == target {
			r.subs = append(r.subs[:i], r.subs[i+1:]...)
			return
		}
	}
}

func appendBounded[T any](buf []T, v T, size int) []T {
	buf = append(buf, v)
	if len(buf) > size {
		buf = append(buf[:0], buf[len(buf)-size:]...)
	}
	return buf
}

type replaySub[T any] struct {
	*subscriber
	r      *Replay[T]
	buf    []T // guarded by r.mu
	signal chan struct{}
}

// offer is called with r.mu held and returns the number of values dropped.
func (s *replaySub[T]) offer(v T) int {
	if s.Paused() {
		return 1
	}
	dropped := 0
	if len(s.buf) >= s.r.size {
		dropped = len(s.buf) - s.r.size + 1
	}
	s.buf = appendBounded(s.buf, v, s.r.size)
	s.notify()
	return dropped
}

func (s *replaySub[T]) notify() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// Pause discards anything buffered; the consumer restarts from the replay
// cache on Resume.
func (s *replaySub[T]) Pause() {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	if s.toggle(true) {
		s.buf = s.buf[:0]
	}
}

func (s *replaySub[T]) Resume() {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	if s.toggle(false) {
		s.buf = append(s.buf[:0], s.r.cache...)
		s.notify()
	}
}

func (s *replaySub[T]) Next(ctx context.Context) (T, error) {
	var zero T
	for {
		toggled, err := s.awaitActive(ctx)
		if err != nil {
			return zero, err
		}

		s.r.mu.Lock()
		if len(s.buf) > 0 && !s.Paused() {
			v := s.buf[0]
			s.buf = s.buf[1:]
			s.r.mu.Unlock()
			s.r.opts.recorder.Delivered(s.r.name)
			return v, nil
		}
		closed := s.r.closed
		s.r.mu.Unlock()

		if closed {
			return zero, ErrChannelClosed
		}

		select {
		case <-s.signal:
		case <-toggled:
		case <-s.done:
			return zero, ErrSubscriptionClosed
		case <-ctx.Done():
			return zero, async.Check(ctx)
		}
	}
}

func (s *replaySub[T]) Close() error {
	if s.closeSub() {
		s.r.remove(s)
	}
	return nil
}
