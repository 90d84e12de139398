package broadcast

import (
	"context"
	"sync"

	"github.com/dmitrymomot/loginflow/pkg/async"
)

// PassThrough is a multicast channel without a backlog. Send hands the
// value to every subscriber in turn and blocks until each has taken it, so
// a paused subscriber stalls the producer instead of losing values.
type PassThrough[T any] struct {
	name  string
	seed  func() (T, bool)
	equal func(a, b T) bool
	opts  options

	mu   sync.RWMutex
	subs []*passSub[T]

	closed    chan struct{}
	closeOnce sync.Once
}

var _ Channel[struct{}] = (*PassThrough[struct{}])(nil)

// NewPassThrough creates a blocking multicast channel. If seed is not nil,
// every new subscription first yields the value seed reports, which lets
// the channel mirror a replay source.
func NewPassThrough[T any](name string, seed func() (T, bool), opts ...Option) *PassThrough[T] {
	return &PassThrough[T]{
		name:   name,
		seed:   seed,
		opts:   buildOptions(opts),
		closed: make(chan struct{}),
	}
}

// NewMirrorPassThrough is NewPassThrough for a channel that mirrors the
// source seed reads from. The first Send a subscription sees is skipped
// for it when equal reports it is the seed it already holds, so a
// subscriber joining between the source update and the mirror update does
// not see that value twice.
func NewMirrorPassThrough[T any](name string, seed func() (T, bool), equal func(a, b T) bool, opts ...Option) *PassThrough[T] {
	p := NewPassThrough(name, seed, opts...)
	p.equal = equal
	return p
}

func (p *PassThrough[T]) Name() string { return p.name }
func (p *PassThrough[T]) Kind() Kind { return KindPassThrough }

func (p *PassThrough[T]) snapshot() []*passSub[T] {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]*passSub[T](nil), p.subs...)
}

func (p *PassThrough[T]) isClosed() bool {
	select {
	case <-p.closed:
		return true
	default:
		return false
	}
}

// Send blocks until every current subscriber accepted v. Subscribers that
// close while Send waits are skipped.
func (p *PassThrough[T]) Send(ctx context.Context, v T) error {
	if p.isClosed() {
		return ErrChannelClosed
	}
	for _, sub := range p.snapshot() {
		if p.seeded(sub, v) {
			continue
		}
		select {
		case sub.ch <- v:
		case <-sub.done:
		case <-p.closed:
			return ErrChannelClosed
		case <-ctx.Done():
			return async.Check(ctx)
		}
	}
	return nil
}

func (p *PassThrough[T]) TrySend(v T) error {
	if p.isClosed() {
		return ErrChannelClosed
	}
	dropped := 0
	for _, sub := range p.snapshot() {
		if p.seeded(sub, v) {
			continue
		}
		select {
		case sub.ch <- v:
		default:
			if !sub.isClosed() {
				dropped++
			}
		}
	}
	if dropped > 0 {
		p.opts.recorder.Dropped(p.name, dropped)
		return ErrWouldBlock
	}
	return nil
}

func (p *PassThrough[T]) Subscribe() Subscription[T] {
	sub := &passSub[T]{
		subscriber: newSubscriber(),
		p:          p,
		ch:         make(chan T),
	}
	if p.seed != nil {
		if v, ok := p.seed(); ok {
			sub.pending = &v
			if p.equal != nil {
				sub.seed = &v
			}
		}
	}

	p.mu.Lock()
	p.subs = append(p.subs, sub)
	p.mu.Unlock()
	return sub
}

// seeded reports whether v is the seed sub was created with. Only the
// first value sent after Subscribe is compared.
func (p *PassThrough[T]) seeded(sub *passSub[T], v T) bool {
	if p.equal == nil {
		return false
	}
	sub.seedMu.Lock()
	seed := sub.seed
	sub.seed = nil
	sub.seedMu.Unlock()
	return seed != nil && p.equal(*seed, v)
}

func (p *PassThrough[T]) Close() error {
	p.closeOnce.Do(func() { close(p.closed) })
	return nil
}

func (p *PassThrough[T]) remove(target *passSub[T]) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, sub := range p.subs {
		if sub == target {
			p.subs = append(p.subs[:i], p.subs[i+1:]...)
			return
		}
	}
}

type passSub[T any] struct {
	*subscriber
	p       *PassThrough[T]
	ch      chan T
	pending *T // only touched by the consuming goroutine

	seedMu sync.Mutex
	seed   *T
}

func (s *passSub[T]) Next(ctx context.Context) (T, error) {
	var zero T
	for {
		toggled, err := s.awaitActive(ctx)
		if err != nil {
			return zero, err
		}

		if s.pending != nil {
			v := *s.pending
			s.pending = nil
			s.p.opts.recorder.Delivered(s.p.name)
			return v, nil
		}

		select {
		case v := <-s.ch:
			s.p.opts.recorder.Delivered(s.p.name)
			return v, nil
		case <-toggled:
		case <-s.p.closed:
			return zero, ErrChannelClosed
		case <-s.done:
			return zero, ErrSubscriptionClosed
		case <-ctx.Done():
			return zero, async.Check(ctx)
		}
	}
}

func (s *passSub[T]) Close() error {
	if s.closeSub() {
		s.p.remove(s)
	}
	return nil
}
