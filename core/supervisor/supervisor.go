package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/loginflow"
	"github.com/dmitrymomot/loginflow/core/logger"
	"github.com/dmitrymomot/loginflow/core/operation"
	"github.com/dmitrymomot/loginflow/pkg/async"
)

// ErrParentBody is the simulated failure raised by the parent body before
// the child is spawned.
var ErrParentBody = errors.New("parent body failed")

// Publisher is the hub surface the supervisor needs.
// *broadcast.Hub[loginflow.State] satisfies it.
type Publisher interface {
	operation.Publisher
	TryPublish(s loginflow.State) ([]string, error)
}

// Operation is the child work of a run.
type Operation interface {
	Run(ctx context.Context, pub operation.Publisher) (bool, error)
}

// Observer is notified once per run.
type Observer interface {
	RunFinished(outcome string, d time.Duration)
}

type nopObserver struct{}

func (nopObserver) RunFinished(string, time.Duration) {}

// FailureHandler is the user hook called after the installed handler has
// published its error snapshot.
type FailureHandler func(ctx context.Context, err error)

// Result describes a completed run.
type Result struct {
	RunID       string
	Outcome     Outcome
	LoggedIn    bool
	Final       loginflow.State
	Err         error
	Transitions []Transition
	Duration    time.Duration
}

// Supervisor owns login runs: it spawns the child operation, applies the
// cancellation and wait policy, and computes the terminal snapshot.
type Supervisor struct {
	pub         Publisher
	op          Operation
	policy      Policy
	handler     HandlerMode
	onFailure   FailureHandler
	emission    Emission
	dispatcher  async.Dispatcher
	parentFault bool
	logger      *slog.Logger
	observer    Observer
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithPolicy selects how the parent waits on the child. The default is
// PolicyAwaitUnlessCancelled.
func WithPolicy(p Policy) Option {
	return func(s *Supervisor) { s.policy = p }
}

// WithHandler sets whether a parent-level failure handler is installed.
func WithHandler(m HandlerMode) Option {
	return func(s *Supervisor) { s.handler = m }
}

// WithFailureHandler installs the parent-level handler and registers fn
// to be called with every failure it intercepts.
func WithFailureHandler(fn FailureHandler) Option {
	return func(s *Supervisor) {
		s.handler = HandlerInstalled
		s.onFailure = fn
	}
}

// WithEmission selects how the failure handler publishes its error
// snapshot. The default is EmitInline.
func WithEmission(e Emission) Option {
	return func(s *Supervisor) { s.emission = e }
}

// WithDispatcher sets the execution context of the child, typically a
// bounded I/O pool.
func WithDispatcher(d async.Dispatcher) Option {
	return func(s *Supervisor) {
		if d != nil {
			s.dispatcher = d
		}
	}
}

// WithParentFault makes the parent body fail before spawning the child.
func WithParentFault(enabled bool) Option {
	return func(s *Supervisor) { s.parentFault = enabled }
}

// WithLogger sets the logger. A nil logger is ignored.
func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithObserver registers o to be told how each run finished. A nil
// observer is ignored.
func WithObserver(o Observer) Option {
	return func(s *Supervisor) {
		if o != nil {
			s.observer = o
		}
	}
}

// New creates a supervisor. Defaults: PolicyAwaitUnlessCancelled, handler
// installed, inline handler emission, goroutine dispatcher.
func New(pub Publisher, op Operation, opts ...Option) *Supervisor {
	s := &Supervisor{
		pub:        pub,
		op:         op,
		policy:     PolicyAwaitUnlessCancelled,
		handler:    HandlerInstalled,
		emission:   EmitInline,
		dispatcher: async.Default,
		logger:     logger.Discard(),
		observer:   nopObserver{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Supervisor) Policy() Policy { return s.policy }
func (s *Supervisor) Handler() HandlerMode { return s.handler }

// Run executes one login run. It never returns before the child task has
// terminated. The error is an *loginflow.UnhandledFailure when a child
// failure reached no handler, or a cancellation when ctx was done before
// the run started.
func (s *Supervisor) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	r := &run{
		Supervisor: s,
		id:         uuid.NewString(),
		machine:    newMachine(s.logger),
	}
	ctx = logger.WithRunID(ctx, r.id)

	s.logger.InfoContext(ctx, "run started", logger.Policy(s.policy.String()),
		slog.String("handler", s.handler.String()))

	err := r.execute(ctx)

	res := r.result
	res.RunID = r.id
	res.Final = s.pub.Current()
	res.Transitions = r.machine.transitions()
	res.Duration = time.Since(start)
	if res.Outcome != OutcomeSuccess {
		res.LoggedIn = false
	}

	s.observer.RunFinished(string(res.Outcome), res.Duration)
	s.logger.InfoContext(ctx, "run finished",
		logger.Result(string(res.Outcome)),
		logger.Duration(res.Duration),
		logger.Snapshot(res.Final),
	)
	return res, err
}

type run struct {
	*Supervisor
	id      string
	machine *machine
	result  Result
}

func (r *run) execute(ctx context.Context) error {
	if err := async.Check(ctx); err != nil {
		r.result.Outcome = OutcomeCancelled
		r.result.Err = err
		return err
	}

	parentCtx, cancelParent := context.WithCancelCause(ctx)
	defer cancelParent(context.Canceled)

	r.machine.fire(ctx, EventStart)
	r.publish(ctx, r.pub.Current().Reset().Called())

	if r.parentFault {
		err := loginflow.Failure("supervisor", "parent", ErrParentBody)
		r.machine.fire(ctx, EventResolveFailed)
		r.result.Outcome = OutcomeUnhandled
		r.result.Err = err
		r.logger.ErrorContext(ctx, "parent body failed", logger.Error(err))
		return &loginflow.UnhandledFailure{RunID: r.id, Err: err}
	}

	child := async.Spawn(parentCtx,
		func(ctx context.Context) (bool, error) { return r.op.Run(ctx, r.pub) },
		async.WithName(operation.Name),
		async.WithDispatcher(r.dispatcher),
		async.WithFailureHook(func(err error) { cancelParent(err) }),
	)
	r.machine.fire(ctx, EventSpawn)
	r.logger.DebugContext(ctx, "child spawned", logger.TaskID(child.ID()))

	requested, collected, bodyErr := r.supervise(parentCtx, child)
	err := r.resolve(ctx, child, requested, collected, bodyErr)

	// Structured completion: the run owns the child until it terminates.
	child.Wait()
	r.diagnose(ctx, child)

	if err == nil && r.result.Outcome != OutcomeHandled {
		if failure := childFailure(child); failure != nil {
			r.machine.fire(ctx, EventFailAfterFinish)
			r.logger.WarnContext(ctx, "child failed after finish", logger.Error(failure))
			err = r.fail(ctx, failure)
		}
	}
	return err
}

// supervise runs the parent body between spawn and resolution: it yields
// once, applies the cancel mode, then the wait mode. It returns the cancel
// cause the child accepted, whether the child's value was collected, and
// the error that interrupted the parent body, if any.
func (r *run) supervise(ctx context.Context, child *async.Task[bool]) (requested error, collected bool, err error) {
	if err := async.Yield(ctx); err != nil {
		return nil, false, err
	}

	switch r.policy.Cancel {
	case CancelImmediately:
		requested = r.requestCancel(ctx, child, loginflow.CancelRequested)
	case CancelAfterGrace:
		timer := time.NewTimer(r.policy.Grace)
		defer timer.Stop()
		select {
		case <-child.Done():
		case <-timer.C:
			requested = r.requestCancel(ctx, child, loginflow.CancelGraceExpired)
		case <-ctx.Done():
			return nil, false, async.Check(ctx)
		}
	}

	wait := r.policy.Wait
	if wait == WaitAwaitUnlessCancelled {
		if child.IsCancelled() {
			return requested, false, nil
		}
		wait = WaitAwait
	}

	switch wait {
	case WaitJoin:
		if err := child.Join(ctx); err != nil {
			return requested, false, err
		}
		r.machine.fire(ctx, EventAwait)
	case WaitAwait:
		if _, err := child.Await(ctx); err != nil && !child.IsCompleted() {
			return requested, false, err
		}
		r.machine.fire(ctx, EventAwait)
		collected = true
	}
	return requested, collected, nil
}

func (r *run) requestCancel(ctx context.Context, child *async.Task[bool], reason loginflow.CancelReason) error {
	cause := loginflow.Cancellation(reason, nil)
	if !child.Cancel(cause) {
		r.logger.DebugContext(ctx, "cancel ignored, child already done", slog.String("reason", string(reason)))
		return nil
	}
	r.machine.fire(ctx, EventRequestCancel)
	r.logger.DebugContext(ctx, "child cancel requested", slog.String("reason", string(reason)))
	return cause
}

// resolve computes the outcome. A child failure wins over every
// cancellation, and an accepted cancel wins over the child's own result.
func (r *run) resolve(ctx context.Context, child *async.Task[bool], requested error, collected bool, bodyErr error) error {
	if failure := childFailure(child); failure != nil {
		r.machine.fire(ctx, EventResolveFailed)
		return r.fail(ctx, failure)
	}

	var cause error
	switch {
	case requested != nil:
		cause = requested
	case child.IsCompleted() && loginflow.IsCancellation(child.CompletionError()):
		cause = child.CompletionError()
	case bodyErr != nil:
		cause = bodyErr
	}

	if cause != nil {
		r.machine.fire(ctx, EventResolveCancelled)
		r.result.Outcome = OutcomeCancelled
		r.result.Err = cause
		r.publish(context.WithoutCancel(ctx), r.pub.Current().Cancelled(loginflow.Category(cause)))
		r.finish(ctx, false)
		return nil
	}

	// Without a collected value the child's last snapshot decides, which
	// races with a child that is still running.
	loggedIn := r.pub.Current().IsLoggedIn
	if collected {
		loggedIn, _ = child.Value()
	}

	r.machine.fire(ctx, EventResolveSuccess)
	r.result.Outcome = OutcomeSuccess
	r.result.LoggedIn = loggedIn
	r.finish(ctx, loggedIn)
	return nil
}

// fail routes a child failure to the installed handler or out of the run.
func (r *run) fail(ctx context.Context, failure error) error {
	r.result.Err = failure

	if r.handler == HandlerNone {
		r.result.Outcome = OutcomeUnhandled
		r.logger.ErrorContext(ctx, "unhandled child failure", logger.Error(failure))
		return &loginflow.UnhandledFailure{RunID: r.id, Err: failure}
	}

	r.result.Outcome = OutcomeHandled
	r.logger.WarnContext(ctx, "child failure handled", logger.Error(failure))

	handled := r.pub.Current().Failed(loginflow.StatusHandled, loginflow.Message(failure))
	switch r.emission {
	case EmitBestEffort:
		dropped, err := r.pub.TryPublish(handled)
		if err != nil {
			r.logger.WarnContext(ctx, "handler publish failed", logger.Error(err))
		}
		if len(dropped) > 0 {
			r.logger.WarnContext(ctx, "handler snapshot dropped", slog.Any("channels", dropped))
		}
	default:
		r.publish(context.WithoutCancel(ctx), handled)
	}

	if r.onFailure != nil {
		r.onFailure(ctx, failure)
	}

	if r.machine.current() == StateResolvedFailed {
		r.finish(ctx, false)
	}
	return nil
}

// finish publishes the terminal snapshot. Terminal snapshots ignore the
// caller's cancellation so blocking observers receive them too.
func (r *run) finish(ctx context.Context, loggedIn bool) {
	r.machine.fire(ctx, EventFinish)
	r.publish(context.WithoutCancel(ctx), r.pub.Current().Finished(loggedIn))
}

func (r *run) publish(ctx context.Context, s loginflow.State) {
	if err := r.pub.Publish(ctx, s); err != nil {
		r.logger.WarnContext(ctx, "publish failed", logger.Snapshot(s), logger.Error(err))
	}
}

func (r *run) diagnose(ctx context.Context, child *async.Task[bool]) {
	value, ok := child.Value()
	r.logger.InfoContext(ctx, "child completion",
		logger.TaskID(child.ID()),
		slog.Bool("cancelled", child.IsCancelled()),
		slog.Bool("active", child.IsActive()),
		slog.Bool("completed", child.IsCompleted()),
		slog.Bool("value", value),
		slog.Bool("has_value", ok),
		slog.String("category", loginflow.Category(child.CompletionError())),
	)
}

// childFailure returns the ordinary failure a completed child ended with.
func childFailure(child *async.Task[bool]) error {
	if !child.IsCompleted() {
		return nil
	}
	err := child.CompletionError()
	if err == nil || loginflow.IsCancellation(err) {
		return nil
	}
	return err
}
