package broadcast

import (
	"context"
	"io"
	"log/slog"
)

// Kind is the delivery strategy of a channel.
type Kind int

const (
	// KindConflate keeps exactly one value and overwrites it.
	KindConflate Kind = iota
	// KindReplay keeps the last N values for new or resumed subscribers and
	// skips paused ones.
	KindReplay
	// KindPassThrough has no backlog; Send blocks until every subscriber accepted.
	KindPassThrough
	// KindRendezvous is an ordered queue that blocks the producer at capacity.
	KindRendezvous
)

func (k Kind) String() string {
	switch k {
	case KindConflate:
		return "conflate"
	case KindReplay:
		return "replay"
	case KindPassThrough:
		return "pass_through"
	case KindRendezvous:
		return "rendezvous"
	default:
		return "unknown"
	}
}

// Blocking reports whether Send on this kind may suspend the producer.
func (k Kind) Blocking() bool {
	return k == KindPassThrough || k == KindRendezvous
}

// Channel is the publish side shared by every delivery strategy.
type Channel[T any] interface {
	Name() string
	Kind() Kind
	// Send delivers v according to the channel's strategy. Blocking kinds
	// suspend until v is accepted or ctx is done.
	Send(ctx context.Context, v T) error
	// TrySend delivers v without suspending. It returns ErrWouldBlock if any
	// receiver could not take v immediately; v is dropped for that receiver.
	TrySend(v T) error
	Subscribe() Subscription[T]
	Close() error
}

// Subscription is the consumer side of a channel.
//
// A paused subscription models a consumer that is temporarily not scheduled:
// Next does not return while paused, and the channel applies its own policy
// to values published in the meantime.
type Subscription[T any] interface {
	ID() string
	Next(ctx context.Context) (T, error)
	Pause()
	Resume()
	Paused() bool
	Close() error
}

// Recorder observes delivery outcomes. Implementations must be safe for
// concurrent use.
type Recorder interface {
	Delivered(channel string)
	Dropped(channel string, n int)
	PublishFailed(mode string)
}

type nopRecorder struct{}

func (nopRecorder) Delivered(string) {}
func (nopRecorder) Dropped(string, int) {}
func (nopRecorder) PublishFailed(string) {}

type options struct {
	recorder Recorder
	logger   *slog.Logger
	// only honoured by Rendezvous
	discardIdle bool
}

func defaultOptions() options {
	return options{
		recorder: nopRecorder{},
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// Option configures a channel or a hub.
type Option func(*options)

// WithRecorder sets the delivery recorder.
func WithRecorder(r Recorder) Option {
	return func(o *options) {
		if r != nil {
			o.recorder = r
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithDiscardWithoutSubscribers makes a rendezvous queue drop values sent
// while it has no open subscription instead of queueing them for a
// consumer that may never come. Other kinds ignore it.
func WithDiscardWithoutSubscribers() Option {
	return func(o *options) { o.discardIdle = true }
}

func buildOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
