package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/loginflow"
	"github.com/dmitrymomot/loginflow/app/login"
	"github.com/dmitrymomot/loginflow/core/config"
	"github.com/dmitrymomot/loginflow/core/health"
	"github.com/dmitrymomot/loginflow/core/logger"
	"github.com/dmitrymomot/loginflow/core/metrics"
	"github.com/dmitrymomot/loginflow/core/response"
	"github.com/dmitrymomot/loginflow/core/server"
	"github.com/dmitrymomot/loginflow/core/supervisor"
	lfredis "github.com/dmitrymomot/loginflow/integration/redis"
	"github.com/dmitrymomot/loginflow/integration/websocket"
)

func newServeCmd() *cobra.Command {
	var (
		addr        string
		useRedis    bool
		jsonLogs    bool
		queueRetain bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve logins and snapshot streams over HTTP",
		Long: `Serve exposes:

  POST   /login         run one login and return its result
  GET    /state         current snapshot
  GET    /info          info message
  DELETE /info          clear the info message
  GET    /ws?channel=   websocket stream of a hub channel (default state)
  GET    /metrics       Prometheus metrics
  GET    /health/live   liveness
  GET    /health/ready  readiness

With --redis every state snapshot is mirrored to Redis. Queue values
published while no websocket client reads the queue are discarded unless
--queue-retain is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := serveLoginConfig(cmd, queueRetain)
			if err != nil {
				return err
			}

			var srvCfg server.Config
			if err := config.Load(&srvCfg); err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				srvCfg.Addr = addr
			}

			preset := logger.WithDevelopment("loginflow")
			if jsonLogs {
				preset = logger.WithProduction("loginflow")
			}
			log := logger.New(
				preset,
				logger.WithOutput(cmd.ErrOrStderr()),
				logger.WithLevel(logger.ParseLevel(cfg.LogLevel)),
				logger.WithContextExtractors(logger.RunIDExtractor),
			)
			logger.SetAsDefault(log)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return serve(ctx, log, cfg, srvCfg, useRedis)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default HTTP_ADDR or :8080)")
	cmd.Flags().BoolVar(&useRedis, "redis", false, "mirror state snapshots to Redis (REDIS_* settings)")
	cmd.Flags().BoolVar(&jsonLogs, "log-json", false, "write JSON logs")
	cmd.Flags().BoolVar(&queueRetain, "queue-retain", false, "keep queue values while no consumer is connected")
	return cmd
}

// serveLoginConfig is loginConfig for a long-running server: the queue only
// has transient websocket consumers, so it keeps no backlog by default.
func serveLoginConfig(cmd *cobra.Command, queueRetain bool) (login.Config, error) {
	cfg, err := loginConfig(cmd)
	if err != nil {
		return cfg, err
	}
	cfg.QueueRetain = queueRetain
	return cfg, nil
}

func serve(ctx context.Context, log *slog.Logger, cfg login.Config, srvCfg server.Config, useRedis bool) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	app, err := login.NewApp(
		login.WithConfig(cfg),
		login.WithLogger(log),
		login.WithMetrics(metrics.New(reg)),
	)
	if err != nil {
		return err
	}
	defer app.Close()

	srv, err := server.NewFromConfig(srvCfg, server.WithLogger(log))
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	var checks []health.Check
	if useRedis {
		var rcfg lfredis.Config
		if err := config.Load(&rcfg); err != nil {
			return err
		}
		client, err := lfredis.Connect(ctx, rcfg)
		if err != nil {
			return err
		}
		defer client.Close()

		checks = append(checks, lfredis.Healthcheck(client))
		mirror := lfredis.NewMirror(client, rcfg, lfredis.WithMirrorLogger(log))
		sub := app.LoginStateFlow().Subscribe()
		g.Go(func() error {
			err := mirror.Run(ctx, sub)
			if errors.Is(err, lfredis.ErrMirrorStopped) || ctx.Err() != nil {
				return nil
			}
			return err
		})
	}

	g.Go(srv.Run(ctx, newMux(app, reg, log, checks...)))
	return g.Wait()
}

// loginResponse is the JSON body of POST /login.
type loginResponse struct {
	RunID       string                  `json:"run_id"`
	Outcome     string                  `json:"outcome"`
	LoggedIn    bool                    `json:"logged_in"`
	Final       loginflow.State         `json:"final"`
	Error       string                  `json:"error,omitempty"`
	Info        string                  `json:"info"`
	DurationMS  int64                   `json:"duration_ms"`
	Transitions []supervisor.Transition `json:"transitions"`
}

func newMux(app *login.App, gatherer prometheus.Gatherer, log *slog.Logger, checks ...health.Check) *http.ServeMux {
	mux := http.NewServeMux()

	// One run at a time; concurrent runs would interleave on the same hub.
	var running sync.Mutex
	mux.Handle("POST /login", response.Handle(func(r *http.Request) response.Response {
		if !running.TryLock() {
			return response.Error(response.ErrConflict.WithMessage("login already running"))
		}
		defer running.Unlock()

		err := app.Login(r.Context())
		res, _ := app.LastResult()

		body := loginResponse{
			RunID:       res.RunID,
			Outcome:     string(res.Outcome),
			LoggedIn:    res.LoggedIn,
			Final:       res.Final,
			Info:        app.InfoMessage().Value(),
			DurationMS:  res.Duration.Milliseconds(),
			Transitions: res.Transitions,
		}
		if res.Err != nil {
			body.Error = loginflow.Message(res.Err)
		}
		if err != nil {
			if body.Error == "" {
				body.Error = loginflow.Message(err)
			}
			return response.JSONWithStatus(body, http.StatusInternalServerError)
		}
		return response.JSON(body)
	}))

	mux.Handle("GET /state", response.Handle(func(*http.Request) response.Response {
		return response.JSON(app.Current())
	}))
	mux.Handle("GET /info", response.Handle(func(*http.Request) response.Response {
		return response.JSON(map[string]string{"message": app.InfoMessage().Value()})
	}))
	mux.Handle("DELETE /info", response.Handle(func(*http.Request) response.Response {
		app.OnClearInfoMessage()
		return response.NoContent()
	}))

	mux.Handle("GET /ws", websocket.NewHandler(app.Hub().Channels(),
		websocket.WithLogger(log),
		websocket.WithWriteTimeout(10*time.Second),
	))
	mux.Handle("GET /metrics", metrics.Handler(gatherer))
	mux.HandleFunc("GET /health/live", health.Liveness)
	mux.Handle("GET /health/ready", health.Readiness(log, checks...))

	return mux
}
