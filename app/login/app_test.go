package login_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/loginflow"
	"github.com/dmitrymomot/loginflow/app/login"
	"github.com/dmitrymomot/loginflow/core/logger"
	"github.com/dmitrymomot/loginflow/core/metrics"
	"github.com/dmitrymomot/loginflow/core/supervisor"
	"github.com/dmitrymomot/loginflow/pkg/broadcast"
)

func testConfig(mutate ...func(*login.Config)) login.Config {
	cfg := login.DefaultConfig()
	cfg.Delay = 5 * time.Millisecond
	for _, fn := range mutate {
		fn(&cfg)
	}
	return cfg
}

func newApp(t *testing.T, cfg login.Config, opts ...login.AppOption) *login.App {
	t.Helper()
	app, err := login.NewApp(append([]login.AppOption{
		login.WithConfig(cfg),
		login.WithLogger(logger.Discard()),
	}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })
	return app
}

func drainQueue(t *testing.T, sub broadcast.Subscription[loginflow.State]) []loginflow.State {
	t.Helper()
	var out []loginflow.State
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		s, err := sub.Next(ctx)
		cancel()
		if err != nil {
			return out
		}
		out = append(out, s)
	}
}

func TestLogin_EndToEnd(t *testing.T) {
	t.Parallel()

	app := newApp(t, testConfig())
	queue := app.LoginChannel().Subscribe()

	require.NoError(t, app.Login(context.Background()))

	got := drainQueue(t, queue)
	require.NotEmpty(t, got)
	final := got[len(got)-1]
	assert.Equal(t, loginflow.StatusFinished, final.StatusMessage)
	assert.False(t, final.IsLoading)
	assert.True(t, final.IsLoggedIn)
	assert.False(t, final.IsError)

	assert.Equal(t, final, app.Current())
	assert.Equal(t, final, app.LoginState().Value())
	v, ok := app.LoginStateFlow().Latest()
	require.True(t, ok)
	assert.Equal(t, final, v)
	v, ok = app.LoginSharedFlow().Latest()
	require.True(t, ok)
	assert.Equal(t, final, v)

	assert.Equal(t, login.InfoLoggedIn, app.InfoMessage().Value())
	app.OnClearInfoMessage()
	assert.Empty(t, app.InfoMessage().Value())

	res, ok := app.LastResult()
	require.True(t, ok)
	assert.Equal(t, supervisor.OutcomeSuccess, res.Outcome)
}

func TestLogin_LocalRecovery(t *testing.T) {
	t.Parallel()

	var handled atomic.Int32
	app := newApp(t,
		testConfig(func(c *login.Config) {
			c.Variant = "local_recovery"
			c.Fault = "failure@running"
		}),
		login.WithSupervisorOptions(supervisor.WithFailureHandler(func(context.Context, error) { handled.Add(1) })),
	)

	require.NoError(t, app.Login(context.Background()))
	assert.Zero(t, handled.Load())

	final := app.Current()
	assert.Equal(t, loginflow.StatusFinished, final.StatusMessage)
	assert.True(t, final.IsError)
	assert.False(t, final.IsLoggedIn)
	assert.True(t, strings.HasPrefix(app.InfoMessage().Value(), "Login failed: "))
}

func TestLogin_PropagatedFailure(t *testing.T) {
	t.Parallel()

	var handled atomic.Int32
	app := newApp(t,
		testConfig(func(c *login.Config) { c.Fault = "failure@running" }),
		login.WithSupervisorOptions(supervisor.WithFailureHandler(func(context.Context, error) { handled.Add(1) })),
	)

	require.NoError(t, app.Login(context.Background()))
	assert.Equal(t, int32(1), handled.Load())

	final := app.Current()
	assert.True(t, final.IsError)
	assert.False(t, final.IsLoggedIn)
	assert.NotEmpty(t, final.ErrorMessage)
	assert.Contains(t, app.InfoMessage().Value(), "simulated I/O failure")
}

func TestLogin_UnhandledFailure(t *testing.T) {
	t.Parallel()

	app := newApp(t, testConfig(func(c *login.Config) {
		c.Fault = "failure@called"
		c.Handler = "none"
	}))

	err := app.Login(context.Background())
	var unhandled *loginflow.UnhandledFailure
	require.ErrorAs(t, err, &unhandled)
	assert.NotEqual(t, loginflow.StatusFinished, app.Current().StatusMessage)
	assert.True(t, strings.HasPrefix(app.InfoMessage().Value(), "Login failed: OperationFailure"))
}

func TestLogin_Cancelled(t *testing.T) {
	t.Parallel()

	app := newApp(t, testConfig(func(c *login.Config) {
		c.Policy = "cancel"
		c.Delay = 100 * time.Millisecond
	}))
	queue := app.LoginChannel().Subscribe()

	require.NoError(t, app.Login(context.Background()))
	assert.Equal(t, "Login cancelled: CancelRequested", app.InfoMessage().Value())

	for _, s := range drainQueue(t, queue) {
		assert.NotEqual(t, loginflow.StatusCompleted, s.StatusMessage)
	}
	final := app.Current()
	assert.True(t, final.IsError)
	assert.Equal(t, string(loginflow.CancelRequested), final.ErrorMessage)
}

// An active flow consumer receives the terminal snapshots of a run the
// caller cancelled, just like the replay channels do.
func TestLogin_CallerCancelledFlowGetsTerminalSnapshots(t *testing.T) {
	t.Parallel()

	for range 10 {
		app := newApp(t, testConfig(func(c *login.Config) { c.Delay = 200 * time.Millisecond }))
		flow := app.LoginFlow().Subscribe()

		var (
			mu   sync.Mutex
			seen []loginflow.State
		)
		go func() {
			for {
				s, err := flow.Next(context.Background())
				if err != nil {
					return
				}
				mu.Lock()
				seen = append(seen, s)
				mu.Unlock()
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		require.NoError(t, app.Login(ctx))
		cancel()

		res, ok := app.LastResult()
		require.True(t, ok)
		require.Equal(t, supervisor.OutcomeCancelled, res.Outcome)

		final := app.Current()
		require.Equal(t, loginflow.StatusFinished, final.StatusMessage)
		assert.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(seen) > 0 && seen[len(seen)-1] == final
		}, time.Second, 5*time.Millisecond)

		mu.Lock()
		var statuses []string
		for _, s := range seen {
			statuses = append(statuses, s.StatusMessage)
		}
		mu.Unlock()
		assert.Contains(t, statuses, loginflow.StatusCancelled)
	}
}

func TestLogin_QueueDiscardsWithoutConsumer(t *testing.T) {
	t.Parallel()

	app := newApp(t, testConfig(func(c *login.Config) { c.QueueRetain = false }))
	for range 5 {
		require.NoError(t, app.Login(context.Background()))
	}
	assert.Zero(t, app.LoginChannel().Len())

	queue := app.LoginChannel().Subscribe()
	require.NoError(t, app.Login(context.Background()))
	got := drainQueue(t, queue)
	require.NotEmpty(t, got)
	assert.Equal(t, loginflow.StatusCalled, got[0].StatusMessage)
	assert.Equal(t, loginflow.StatusFinished, got[len(got)-1].StatusMessage)
}

func TestLogin_QueueRetainsByDefault(t *testing.T) {
	t.Parallel()

	app := newApp(t, testConfig())
	require.NoError(t, app.Login(context.Background()))
	assert.Positive(t, app.LoginChannel().Len())
}

func TestLogin_ParallelEmitter(t *testing.T) {
	t.Parallel()

	app := newApp(t, testConfig(func(c *login.Config) { c.ParallelEmits = 3 }))
	queue := app.LoginChannel().Subscribe()

	require.NoError(t, app.Login(context.Background()))

	var seen []string
	for _, s := range drainQueue(t, queue) {
		assert.True(t, s.Valid(), s.String())
		seen = append(seen, s.StatusMessage)
	}
	for i := 1; i <= 3; i++ {
		assert.Contains(t, seen, fmt.Sprintf("parallel emit %d", i))
	}
	assert.Contains(t, seen, loginflow.StatusFinished)
}

func TestLogin_DetachedPublish(t *testing.T) {
	t.Parallel()

	app := newApp(t, testConfig(func(c *login.Config) { c.PublishMode = "detached" }))
	queue := app.LoginChannel().Subscribe()

	require.NoError(t, app.Login(context.Background()))

	got := drainQueue(t, queue)
	require.NotEmpty(t, got)
	assert.Equal(t, loginflow.StatusFinished, got[len(got)-1].StatusMessage)
	for _, s := range got {
		assert.True(t, s.Valid(), s.String())
	}
}

func TestLogin_ConsecutiveRuns(t *testing.T) {
	t.Parallel()

	app := newApp(t, testConfig())
	require.NoError(t, app.Login(context.Background()))
	first := app.Current()
	require.NoError(t, app.Login(context.Background()))
	second := app.Current()

	assert.Equal(t, loginflow.StatusFinished, second.StatusMessage)
	assert.Greater(t, second.Version, first.Version)
}

func TestLogin_Metrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	app := newApp(t, testConfig(), login.WithMetrics(metrics.New(reg)))

	require.NoError(t, app.Login(context.Background()))

	n, err := testutil.GatherAndCount(reg, "loginflow_supervisor_runs_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = testutil.GatherAndCount(reg, "loginflow_broadcast_delivered_total")
	require.NoError(t, err)
	assert.Positive(t, n)
}

func TestLogin_AfterClose(t *testing.T) {
	t.Parallel()

	app := newApp(t, testConfig())
	require.NoError(t, app.Close())

	assert.NotPanics(t, func() { _ = app.Login(context.Background()) })
}

func TestNewApp_InvalidConfig(t *testing.T) {
	t.Parallel()

	for name, mutate := range map[string]func(*login.Config){
		"policy":    func(c *login.Config) { c.Policy = "sometimes" },
		"variant":   func(c *login.Config) { c.Variant = "retry" },
		"fault":     func(c *login.Config) { c.Fault = "failure@nowhere" },
		"mode":      func(c *login.Config) { c.PublishMode = "carrier-pigeon" },
		"pool":      func(c *login.Config) { c.IOPoolSize = 0 },
		"timeout":   func(c *login.Config) { c.Policy, c.Grace = "timeout", 0 },
		"negatives": func(c *login.Config) { c.Delay, c.ParallelEmits = -1, -1 },
	} {
		_, err := login.NewApp(login.WithConfig(testConfig(mutate)))
		assert.Error(t, err, name)
	}

	_, err := login.NewApp(login.WithLogger(nil))
	assert.Error(t, err)
}
