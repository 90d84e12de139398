package login

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dmitrymomot/loginflow"
	"github.com/dmitrymomot/loginflow/core/config"
	"github.com/dmitrymomot/loginflow/core/logger"
	"github.com/dmitrymomot/loginflow/core/metrics"
	"github.com/dmitrymomot/loginflow/core/operation"
	"github.com/dmitrymomot/loginflow/core/supervisor"
	"github.com/dmitrymomot/loginflow/pkg/async"
	"github.com/dmitrymomot/loginflow/pkg/broadcast"
)

// Info messages set when a run ends.
const (
	InfoLoggedIn  = "Logged in"
	infoFailed    = "Login failed: "
	infoCancelled = "Login cancelled: "
)

// App is the login orchestrator. Login is the only command; every effect
// is observed through the channels it exposes.
type App struct {
	config  Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	hub  *broadcast.Hub[loginflow.State]
	info *broadcast.Conflate[string]
	pool *async.Pool
	sup  *supervisor.Supervisor

	supervisorOpts []supervisor.Option
	operationOpts  []operation.Option

	mu   sync.Mutex
	last supervisor.Result
	runs int
}

type AppOption func(*App) error

// NewApp loads Config from the environment, applies opts and wires the
// hub, the I/O pool and the supervisor.
func NewApp(opts ...AppOption) (*App, error) {
	var cfg Config
	if err := config.Load(&cfg); err != nil {
		return nil, err
	}

	app := &App{config: cfg}
	for _, opt := range opts {
		if err := opt(app); err != nil {
			return nil, err
		}
	}

	s, err := app.config.parse()
	if err != nil {
		return nil, fmt.Errorf("login config: %w", err)
	}

	if app.logger == nil {
		app.logger = logger.New(
			logger.WithLevel(logger.ParseLevel(app.config.LogLevel)),
			logger.WithContextExtractors(logger.RunIDExtractor),
		)
	}

	hubOpts := []broadcast.HubOption{
		broadcast.WithPublishMode(s.publishMode),
		broadcast.WithQueueCapacity(app.config.QueueCapacity),
		broadcast.WithQueueRetention(app.config.QueueRetain),
		broadcast.WithReplaySize(app.config.ReplaySize),
		broadcast.WithHubLogger(app.logger),
		broadcast.WithErrorReporter(func(err error) {
			app.logger.Warn("broadcast failure", logger.Component("hub"), logger.Error(err))
		}),
	}
	chOpts := []broadcast.Option{broadcast.WithLogger(app.logger)}
	if app.metrics != nil {
		hubOpts = append(hubOpts, broadcast.WithHubRecorder(app.metrics))
		chOpts = append(chOpts, broadcast.WithRecorder(app.metrics))
	}

	hub, err := broadcast.NewHub(loginflow.Initial(), hubOpts...)
	if err != nil {
		return nil, fmt.Errorf("login hub: %w", err)
	}
	pool, err := async.NewPool(app.config.IOPoolSize)
	if err != nil {
		_ = hub.Close()
		return nil, fmt.Errorf("login io pool: %w", err)
	}

	app.hub = hub
	app.info = broadcast.NewConflate("info", "", chOpts...)
	app.pool = pool

	op := operation.New(append([]operation.Option{
		operation.WithVariant(s.variant),
		operation.WithDelay(app.config.Delay),
		operation.WithFault(s.fault),
		operation.WithLogger(app.logger),
	}, app.operationOpts...)...)

	supOpts := []supervisor.Option{
		supervisor.WithPolicy(s.policy),
		supervisor.WithHandler(s.handler),
		supervisor.WithEmission(s.emission),
		supervisor.WithDispatcher(pool),
		supervisor.WithParentFault(app.config.ParentFault),
		supervisor.WithLogger(app.logger),
	}
	if app.metrics != nil {
		supOpts = append(supOpts, supervisor.WithObserver(app.metrics))
	}
	app.sup = supervisor.New(hub, op, append(supOpts, app.supervisorOpts...)...)

	app.logger.Debug("login app ready",
		logger.Policy(s.policy.String()),
		slog.String("variant", s.variant.String()),
		slog.String("fault", s.fault.String()),
		slog.String("publish_mode", s.publishMode.String()),
	)
	return app, nil
}

// WithConfig replaces the configuration loaded from the environment.
func WithConfig(cfg Config) AppOption {
	return func(app *App) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		app.config = cfg
		return nil
	}
}

func WithLogger(logger *slog.Logger) AppOption {
	return func(app *App) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		app.logger = logger
		return nil
	}
}

// WithMetrics records hub deliveries and run outcomes.
func WithMetrics(m *metrics.Metrics) AppOption {
	return func(app *App) error {
		if m == nil {
			return errors.New("metrics cannot be nil")
		}
		app.metrics = m
		return nil
	}
}

// WithSupervisorOptions appends options applied after the configured ones.
func WithSupervisorOptions(opts ...supervisor.Option) AppOption {
	return func(app *App) error {
		app.supervisorOpts = append(app.supervisorOpts, opts...)
		return nil
	}
}

// WithOperationOptions appends options applied after the configured ones.
func WithOperationOptions(opts ...operation.Option) AppOption {
	return func(app *App) error {
		app.operationOpts = append(app.operationOpts, opts...)
		return nil
	}
}

// Login runs one supervised login. It returns an error only when the run
// could not start or a failure reached no handler; every other outcome is
// reported through the channels.
func (a *App) Login(ctx context.Context) error {
	var jobs []async.Job
	if n := a.config.ParallelEmits; n > 0 {
		jobs = append(jobs, async.Spawn(ctx, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, a.emitParallel(ctx, n)
		}, async.WithName("parallel-emit")))
	}

	res, err := a.sup.Run(ctx)

	// The emitter belongs to this call and must not outlive it.
	wait := context.WithoutCancel(ctx)
	for _, job := range jobs {
		if async.JoinTimeout(job, a.config.FlushTimeout) != nil {
			a.logger.WarnContext(ctx, "parallel emitter still running", logger.Duration(a.config.FlushTimeout))
		}
	}
	if err := async.JoinAll(wait, jobs...); err != nil {
		a.logger.WarnContext(ctx, "parallel emitter join failed", logger.Error(err))
	}

	flushCtx, cancel := context.WithTimeout(wait, a.config.FlushTimeout)
	defer cancel()
	if ferr := a.hub.Flush(flushCtx); ferr != nil {
		a.logger.WarnContext(ctx, "hub flush failed", logger.Error(ferr))
	}

	a.setInfo(res, err)

	a.mu.Lock()
	a.last = res
	a.runs++
	a.mu.Unlock()

	return err
}

// emitParallel publishes "parallel emit 1..n", yielding between emissions,
// concurrently with the run. It races the run by design.
func (a *App) emitParallel(ctx context.Context, n int) error {
	for i := 1; i <= n; i++ {
		if err := async.Yield(ctx); err != nil {
			return err
		}
		s := a.hub.Current().WithStatus(fmt.Sprintf("parallel emit %d", i))
		if err := a.hub.Publish(ctx, s); err != nil {
			if loginflow.IsCancellation(err) {
				return err
			}
			a.logger.WarnContext(ctx, "parallel emit failed", logger.Count("emit", i), logger.Error(err))
		}
	}
	return nil
}

func (a *App) setInfo(res supervisor.Result, err error) {
	var msg string
	switch res.Outcome {
	case supervisor.OutcomeSuccess:
		if res.LoggedIn {
			msg = InfoLoggedIn
		} else {
			msg = infoFailed + res.Final.ErrorMessage
		}
	case supervisor.OutcomeHandled:
		msg = infoFailed + loginflow.Message(res.Err)
	case supervisor.OutcomeUnhandled:
		cause := res.Err
		if cause == nil {
			cause = err
		}
		msg = infoFailed + loginflow.Message(cause)
	case supervisor.OutcomeCancelled:
		msg = infoCancelled + loginflow.Category(res.Err)
	}
	if msg == infoFailed {
		msg += loginflow.UnknownError
	}
	_ = a.info.TrySend(msg)
}

// LoginState is the latest-value channel; Value reads the current snapshot.
func (a *App) LoginState() *broadcast.Conflate[loginflow.State] { return a.hub.Latest() }

// LoginSharedFlow is the replay multicast channel.
func (a *App) LoginSharedFlow() *broadcast.Replay[loginflow.State] { return a.hub.Shared() }

// LoginStateFlow is the replay channel that always has a value.
func (a *App) LoginStateFlow() *broadcast.Replay[loginflow.State] { return a.hub.State() }

// LoginFlow is the pass-through channel. A paused consumer stalls the publisher.
func (a *App) LoginFlow() *broadcast.PassThrough[loginflow.State] { return a.hub.Flow() }

// LoginChannel is the rendezvous queue.
func (a *App) LoginChannel() *broadcast.Rendezvous[loginflow.State] { return a.hub.Queue() }

// InfoMessage carries one human-readable message per finished run.
func (a *App) InfoMessage() *broadcast.Conflate[string] { return a.info }

// OnClearInfoMessage clears the info message once the consumer has shown it.
func (a *App) OnClearInfoMessage() {
	_ = a.info.TrySend("")
}

// Current is a synchronous read of the latest snapshot.
func (a *App) Current() loginflow.State { return a.hub.Current() }

func (a *App) Hub() *broadcast.Hub[loginflow.State] { return a.hub }
func (a *App) Config() Config { return a.config }

// LastResult returns the result of the latest Login and whether one ran.
func (a *App) LastResult() (supervisor.Result, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last, a.runs > 0
}

// Close tears the channels down. Login afterwards reports publish failures
// through the logger and never panics.
func (a *App) Close() error {
	hubErr, infoErr := a.hub.Close(), a.info.Close()
	if err := errors.Join(hubErr, infoErr); err != nil {
		a.logger.Warn("close failed", logger.Errors(hubErr, infoErr))
		return err
	}
	return nil
}
