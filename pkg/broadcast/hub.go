package broadcast

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
)

// Channel names used by the hub, in publish order.
const (
	ChannelLatest = "latest"
	ChannelShared = "shared"
	ChannelState  = "state"
	ChannelFlow   = "flow"
	ChannelQueue  = "queue"
)

// PublishMode selects how Hub.Publish delivers a value.
type PublishMode int

const (
	// PublishInline updates every channel in the calling goroutine. A starved
	// blocking channel delays every channel after it.
	PublishInline PublishMode = iota
	// PublishDetached hands the value to the hub's dispatcher and returns at
	// once. Values are published in FIFO order, so a read of Latest right
	// after a detached publish may still see the previous value.
	PublishDetached
	// PublishBestEffort tries every channel without blocking and silently
	// drops wherever the value cannot be accepted, including the blocking
	// kinds. Not suitable when an error snapshot must reach every observer.
	PublishBestEffort
)

func (m PublishMode) String() string {
	switch m {
	case PublishInline:
		return "inline"
	case PublishDetached:
		return "detached"
	case PublishBestEffort:
		return "best_effort"
	default:
		return "unknown"
	}
}

// ParsePublishMode parses the String form of a mode.
func ParsePublishMode(s string) (PublishMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "inline":
		return PublishInline, nil
	case "detached":
		return PublishDetached, nil
	case "best_effort", "besteffort", "best-effort":
		return PublishBestEffort, nil
	default:
		return 0, fmt.Errorf("unknown publish mode %q", s)
	}
}

type hubConfig struct {
	mode          PublishMode
	queueCapacity int
	queueRetain   bool
	replaySize    int
	recorder      Recorder
	logger        *slog.Logger
	reporter      func(error)
}

// HubOption configures a Hub.
type HubOption func(*hubConfig)

// WithPublishMode sets the strategy used by Publish. Default is PublishInline.
func WithPublishMode(m PublishMode) HubOption {
	return func(c *hubConfig) { c.mode = m }
}

// WithQueueCapacity sets the rendezvous queue capacity. Default is Unbounded.
func WithQueueCapacity(n int) HubOption {
	return func(c *hubConfig) { c.queueCapacity = n }
}

// WithQueueRetention controls whether the queue keeps values published
// while nobody is subscribed to it. Default is true; long-running hosts
// whose queue consumers come and go should disable it so the backlog
// cannot grow without bound.
func WithQueueRetention(retain bool) HubOption {
	return func(c *hubConfig) { c.queueRetain = retain }
}

// WithReplaySize sets the replay cache size of the shared channel. Default is 1.
func WithReplaySize(n int) HubOption {
	return func(c *hubConfig) {
		if n > 0 {
			c.replaySize = n
		}
	}
}

// WithHubRecorder sets the delivery recorder for every hub channel.
func WithHubRecorder(r Recorder) HubOption {
	return func(c *hubConfig) {
		if r != nil {
			c.recorder = r
		}
	}
}

// WithHubLogger sets the hub logger.
func WithHubLogger(l *slog.Logger) HubOption {
	return func(c *hubConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithErrorReporter registers fn to receive publish failures that have no
// caller to return to: detached publishes and publishes after Close.
func WithErrorReporter(fn func(error)) HubOption {
	return func(c *hubConfig) { c.reporter = fn }
}

// Hub fans a value out to five channels in a fixed order:
// latest (conflate), shared (replay-N), state (replay-1 with a value),
// flow (pass-through mirroring shared), queue (rendezvous).
//
// The order is part of the contract: the non-blocking kinds are updated
// before the blocking ones, so a starved flow or queue consumer never delays
// the latest-value and replay observers of the same publish.
type Hub[T comparable] struct {
	cfg hubConfig

	latest *Conflate[T]
	shared *Replay[T]
	state  *Replay[T]
	flow   *PassThrough[T]
	queue  *Rendezvous[T]
	order  []Channel[T]

	mu      sync.Mutex
	pending []T
	active  int
	idle    chan struct{}
	signal  chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

func equal[T comparable](a, b T) bool { return a == b }

// NewHub creates a hub whose latest and state channels start with initial.
func NewHub[T comparable](initial T, opts ...HubOption) (*Hub[T], error) {
	cfg := hubConfig{
		mode:          PublishInline,
		queueCapacity: Unbounded,
		queueRetain:   true,
		replaySize:    1,
		recorder:      nopRecorder{},
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	chOpts := []Option{WithRecorder(cfg.recorder), WithLogger(cfg.logger)}

	shared, err := NewReplay[T](ChannelShared, cfg.replaySize, chOpts...)
	if err != nil {
		return nil, err
	}
	queueOpts := append([]Option(nil), chOpts...)
	if !cfg.queueRetain {
		queueOpts = append(queueOpts, WithDiscardWithoutSubscribers())
	}
	queue, err := NewRendezvous[T](ChannelQueue, cfg.queueCapacity, queueOpts...)
	if err != nil {
		return nil, err
	}

	h := &Hub[T]{
		cfg:    cfg,
		latest: NewConflate(ChannelLatest, initial, chOpts...),
		shared: shared,
		state:  NewStateReplay(ChannelState, initial, equal[T], chOpts...),
		flow:   NewMirrorPassThrough(ChannelFlow, shared.Latest, equal[T], chOpts...),
		queue:  queue,
		idle:   make(chan struct{}),
		signal: make(chan struct{}, 1),
	}
	close(h.idle)
	h.order = []Channel[T]{h.latest, h.shared, h.state, h.flow, h.queue}
	h.ctx, h.cancel = context.WithCancel(context.Background())

	h.wg.Add(1)
	go h.dispatch()

	return h, nil
}

func (h *Hub[T]) Latest() *Conflate[T] { return h.latest }
func (h *Hub[T]) Shared() *Replay[T] { return h.shared }
func (h *Hub[T]) State() *Replay[T] { return h.state }
func (h *Hub[T]) Flow() *PassThrough[T] { return h.flow }
func (h *Hub[T]) Queue() *Rendezvous[T] { return h.queue }
func (h *Hub[T]) Mode() PublishMode { return h.cfg.mode }
func (h *Hub[T]) Channels() []Channel[T] { return append([]Channel[T](nil), h.order...) }

// Current returns the value of the latest channel.
func (h *Hub[T]) Current() T { return h.latest.Value() }

// Publish delivers v with the configured mode.
func (h *Hub[T]) Publish(ctx context.Context, v T) error {
	switch h.cfg.mode {
	case PublishDetached:
		return h.PublishDetached(v)
	case PublishBestEffort:
		_, err := h.TryPublish(v)
		return err
	default:
		return h.PublishInline(ctx, v)
	}
}

// PublishInline sends v to every channel in order from the calling
// goroutine. Failures of individual channels are joined; the remaining
// channels are still attempted.
func (h *Hub[T]) PublishInline(ctx context.Context, v T) error {
	if h.closed.Load() {
		return h.rejectClosed(PublishInline)
	}
	return h.publish(ctx, v, PublishInline)
}

// PublishDetached queues v for the hub's dispatcher goroutine.
func (h *Hub[T]) PublishDetached(v T) error {
	h.mu.Lock()
	if h.closed.Load() {
		h.mu.Unlock()
		return h.rejectClosed(PublishDetached)
	}
	h.pending = append(h.pending, v)
	if h.active == 0 {
		h.idle = make(chan struct{})
	}
	h.active++
	h.mu.Unlock()

	select {
	case h.signal <- struct{}{}:
	default:
	}
	return nil
}

// TryPublish offers v to every channel without blocking and returns the
// names of the channels that dropped it.
func (h *Hub[T]) TryPublish(v T) ([]string, error) {
	if h.closed.Load() {
		return nil, h.rejectClosed(PublishBestEffort)
	}

	var (
		dropped []string
		errs    []error
	)
	for _, ch := range h.order {
		err := ch.TrySend(v)
		switch {
		case err == nil:
		case errors.Is(err, ErrWouldBlock):
			dropped = append(dropped, ch.Name())
		default:
			errs = append(errs, fmt.Errorf("%s: %w", ch.Name(), err))
		}
	}

	if len(dropped) > 0 {
		h.cfg.logger.Debug("best-effort publish dropped value", slog.Any("channels", dropped))
	}
	if err := errors.Join(errs...); err != nil {
		h.cfg.recorder.PublishFailed(PublishBestEffort.String())
		return dropped, err
	}
	return dropped, nil
}

// Flush waits until every detached publish queued so far has been delivered.
func (h *Hub[T]) Flush(ctx context.Context) error {
	h.mu.Lock()
	idle := h.idle
	h.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

// Close stops the dispatcher, abandoning undelivered detached publishes,
// and closes every channel. Publishing afterwards returns ErrHubClosed.
func (h *Hub[T]) Close() error {
	h.mu.Lock()
	if !h.closed.CompareAndSwap(false, true) {
		h.mu.Unlock()
		return nil
	}
	h.mu.Unlock()

	h.cancel()
	h.wg.Wait()

	var errs []error
	for _, ch := range h.order {
		if err := ch.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ch.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (h *Hub[T]) publish(ctx context.Context, v T, mode PublishMode) error {
	var errs []error
	for _, ch := range h.order {
		if err := ch.Send(ctx, v); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ch.Name(), err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		h.cfg.recorder.PublishFailed(mode.String())
		h.cfg.logger.Debug("publish failed",
			slog.String("mode", mode.String()),
			slog.String("error", err.Error()))
		return err
	}
	return nil
}

func (h *Hub[T]) rejectClosed(mode PublishMode) error {
	h.cfg.recorder.PublishFailed(mode.String())
	h.report(ErrHubClosed)
	return ErrHubClosed
}

func (h *Hub[T]) report(err error) {
	if h.cfg.reporter != nil {
		h.cfg.reporter(err)
	}
}

func (h *Hub[T]) dispatch() {
	defer h.wg.Done()
	for {
		if h.ctx.Err() != nil {
			h.drop()
			return
		}

		h.mu.Lock()
		if len(h.pending) == 0 {
			h.mu.Unlock()
			select {
			case <-h.signal:
				continue
			case <-h.ctx.Done():
				h.drop()
				return
			}
		}
		v := h.pending[0]
		var zero T
		h.pending[0] = zero
		h.pending = h.pending[1:]
		h.mu.Unlock()

		if err := h.publish(h.ctx, v, PublishDetached); err != nil {
			h.report(err)
		}
		h.done(1)
	}
}

// drop releases Flush waiters for publishes abandoned by Close.
func (h *Hub[T]) drop() {
	h.mu.Lock()
	n := len(h.pending)
	h.pending = nil
	h.mu.Unlock()
	if n > 0 {
		h.report(fmt.Errorf("%w: %d detached publishes abandoned", ErrHubClosed, n))
	}
	h.done(n)
}

func (h *Hub[T]) done(n int) {
	if n == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.active -= n
	if h.active <= 0 {
		h.active = 0
		close(h.idle)
	}
}
