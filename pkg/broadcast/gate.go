package broadcast

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/dmitrymomot/loginflow/pkg/async"
)

// subscriber carries the state every subscription kind shares: identity,
// pause gate and close signal.
type subscriber struct {
	id string

	mu      sync.Mutex
	paused  bool
	changed chan struct{}

	done      chan struct{}
	closeOnce sync.Once
}

func newSubscriber() *subscriber {
	return &subscriber{
		id:      uuid.NewString(),
		changed: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (s *subscriber) ID() string { return s.id }

// toggle flips the pause flag and wakes every waiter.
func (s *subscriber) toggle(paused bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused == paused {
		return false
	}
	s.paused = paused
	close(s.changed)
	s.changed = make(chan struct{})
	return true
}

func (s *subscriber) Pause() { s.toggle(true) }

func (s *subscriber) Resume() { s.toggle(false) }

func (s *subscriber) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

func (s *subscriber) gate() (bool, <-chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused, s.changed
}

func (s *subscriber) closeSub() bool {
	closed := false
	s.closeOnce.Do(func() {
		close(s.done)
		closed = true
	})
	return closed
}

func (s *subscriber) isClosed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// awaitActive blocks while the subscription is paused. It returns the
// channel that is closed on the next pause toggle.
func (s *subscriber) awaitActive(ctx context.Context) (<-chan struct{}, error) {
	for {
		paused, changed := s.gate()
		if !paused {
			return changed, nil
		}
		select {
		case <-changed:
		case <-s.done:
			return nil, ErrSubscriptionClosed
		case <-ctx.Done():
			return nil, async.Check(ctx)
		}
	}
}
