// Package operation implements the simulated login as a cancellable unit of
// work that reports its progress through a snapshot publisher.
//
// The body is a fixed sequence of explicit checkpoints:
//
//	emit:called -> delay:called -> emit:running -> delay:running -> emit:completed
//
// Every emit checks for cancellation before publishing and every delay is a
// cancellable sleep, so a cancelled run never publishes past the checkpoint
// where it noticed the cancellation.
package operation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sourcegraph/conc/panics"

	"github.com/dmitrymomot/loginflow"
	"github.com/dmitrymomot/loginflow/core/logger"
	"github.com/dmitrymomot/loginflow/pkg/async"
)

// Name is the operation name used in failures.
const Name = "login"

// DefaultDelay is the simulated I/O delay of each phase.
const DefaultDelay = 100 * time.Millisecond

// Variant selects the failure-handling behaviour of the body.
type Variant int

const (
	// Propagate lets every error, cancellation included, terminate the body
	// and become the task outcome.
	Propagate Variant = iota
	// LocalRecovery converts ordinary failures into a false result plus an
	// error snapshot. Cancellations, thrown ones included, are re-raised.
	LocalRecovery
)

func (v Variant) String() string {
	switch v {
	case Propagate:
		return "propagate"
	case LocalRecovery:
		return "local_recovery"
	default:
		return "unknown"
	}
}

// ParseVariant parses the String form of a variant.
func ParseVariant(s string) (Variant, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "propagate":
		return Propagate, nil
	case "local_recovery", "recovery", "local-recovery":
		return LocalRecovery, nil
	default:
		return 0, fmt.Errorf("unknown operation variant %q", s)
	}
}

// Publisher is the broadcast surface the operation emits through.
// Each snapshot is derived from Current, so concurrent publishers race
// with last-write-wins semantics.
type Publisher interface {
	Publish(ctx context.Context, s loginflow.State) error
	Current() loginflow.State
}

// CheckpointHook is invoked when the body reaches a named checkpoint,
// before the checkpoint runs.
type CheckpointHook func(ctx context.Context, name string)

// Operation is a configured simulated login.
type Operation struct {
	variant      Variant
	delay        time.Duration
	fault        Fault
	logger       *slog.Logger
	onCheckpoint CheckpointHook
}

// Option configures an Operation.
type Option func(*Operation)

func WithVariant(v Variant) Option {
	return func(o *Operation) { o.variant = v }
}

// WithDelay sets the simulated I/O delay of each phase. Zero keeps the
// delays as pure yields.
func WithDelay(d time.Duration) Option {
	return func(o *Operation) {
		if d >= 0 {
			o.delay = d
		}
	}
}

func WithFault(f Fault) Option {
	return func(o *Operation) { o.fault = f }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *Operation) {
		if l != nil {
			o.logger = l
		}
	}
}

func WithCheckpointHook(h CheckpointHook) Option {
	return func(o *Operation) { o.onCheckpoint = h }
}

// New creates an operation. Defaults: Propagate, DefaultDelay, no fault.
func New(opts ...Option) *Operation {
	o := &Operation{
		variant: Propagate,
		delay:   DefaultDelay,
		logger:  logger.Discard(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Operation) Variant() Variant { return o.variant }
func (o *Operation) Fault() Fault { return o.fault }

// Run executes the login and reports whether the user is logged in.
func (o *Operation) Run(ctx context.Context, pub Publisher) (bool, error) {
	if o.variant == LocalRecovery {
		return o.runRecovering(ctx, pub)
	}
	return o.body(ctx, pub)
}

func (o *Operation) body(ctx context.Context, pub Publisher) (bool, error) {
	if err := o.emit(ctx, pub, PhaseCalled, loginflow.State.Called); err != nil {
		return false, err
	}
	if err := o.inject(ctx, PhaseCalled); err != nil {
		return false, err
	}
	if err := o.sleep(ctx, PhaseCalled); err != nil {
		return false, err
	}

	if err := o.emit(ctx, pub, PhaseRunning, loginflow.State.Running); err != nil {
		return false, err
	}
	if err := o.inject(ctx, PhaseRunning); err != nil {
		return false, err
	}
	if err := o.sleep(ctx, PhaseRunning); err != nil {
		return false, err
	}

	completed := func(s loginflow.State) loginflow.State { return s.Completed(true) }
	if err := o.emit(ctx, pub, PhaseCompleted, completed); err != nil {
		return false, err
	}
	if err := o.inject(ctx, PhaseCompleted); err != nil {
		return false, err
	}
	return true, nil
}

func (o *Operation) runRecovering(ctx context.Context, pub Publisher) (bool, error) {
	var (
		loggedIn bool
		err      error
	)

	var catcher panics.Catcher
	catcher.Try(func() { loggedIn, err = o.body(ctx, pub) })
	if r := catcher.Recovered(); r != nil {
		err = loginflow.Failure(Name, "panic", r.AsError())
	}

	switch {
	case err == nil:
		return loggedIn, nil
	case loginflow.IsCancellation(err):
		return false, err
	}

	o.logger.WarnContext(ctx, "login failed, recovered locally",
		logger.Component("operation"),
		logger.Error(err),
	)

	failed := pub.Current().Failed(loginflow.StatusFailed, loginflow.Message(err))
	if perr := pub.Publish(ctx, failed); perr != nil {
		if loginflow.IsCancellation(perr) {
			return false, perr
		}
		o.logger.WarnContext(ctx, "publish of recovered failure failed", logger.Error(perr))
	}
	return false, nil
}

func (o *Operation) reach(ctx context.Context, name string) {
	o.logger.DebugContext(ctx, "checkpoint", logger.Checkpoint(name))
	if o.onCheckpoint != nil {
		o.onCheckpoint(ctx, name)
	}
}

func (o *Operation) emit(ctx context.Context, pub Publisher, phase Phase, derive func(loginflow.State) loginflow.State) error {
	o.reach(ctx, "emit:"+string(phase))
	if err := async.Check(ctx); err != nil {
		return err
	}

	if err := pub.Publish(ctx, derive(pub.Current())); err != nil {
		if loginflow.IsCancellation(err) {
			return err
		}
		o.logger.WarnContext(ctx, "publish failed",
			logger.Phase(string(phase)),
			logger.Error(err),
		)
	}
	return nil
}

func (o *Operation) sleep(ctx context.Context, phase Phase) error {
	o.reach(ctx, "delay:"+string(phase))
	return async.Sleep(ctx, o.delay)
}

func (o *Operation) inject(ctx context.Context, phase Phase) error {
	if o.fault.Kind == FaultNone || o.fault.Phase != phase {
		return nil
	}

	o.logger.DebugContext(ctx, "injecting fault",
		logger.Phase(string(phase)),
		slog.String("fault", o.fault.Kind.String()),
	)

	switch o.fault.Kind {
	case FaultFailure:
		return loginflow.Failure(Name, string(phase), ErrSimulatedIO)
	case FaultCancellation:
		return loginflow.Cancellation(loginflow.CancelThrown, nil)
	case FaultPanic:
		panic(fmt.Sprintf("simulated panic at %s", phase))
	}
	return nil
}
