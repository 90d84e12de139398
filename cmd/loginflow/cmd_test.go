package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/loginflow"
	"github.com/dmitrymomot/loginflow/app/login"
	"github.com/dmitrymomot/loginflow/core/logger"
)

func executeCommand(root *cobra.Command, args ...string) (string, string, error) {
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), errOut.String(), err
}

func TestRootCommand(t *testing.T) {
	t.Parallel()

	root := newRootCmd()
	assert.Equal(t, "loginflow", root.Use)

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"run", "serve"})
	assert.NotNil(t, root.PersistentFlags().Lookup("policy"))
}

func TestRunCommand(t *testing.T) {
	t.Parallel()

	t.Run("success prints queue sequence and result", func(t *testing.T) {
		t.Parallel()

		out, _, err := executeCommand(newRootCmd(), "run", "--delay", "1ms", "--log-level", "error")
		require.NoError(t, err)

		var queue []string
		for _, line := range strings.Split(out, "\n") {
			if strings.HasPrefix(line, "queue ") {
				queue = append(queue, line)
			}
		}
		require.NotEmpty(t, queue)
		assert.Contains(t, queue[len(queue)-1], loginflow.StatusFinished)

		assert.Contains(t, out, "outcome:   success")
		assert.Contains(t, out, "logged in: true")
		assert.Contains(t, out, "info:      "+login.InfoLoggedIn)
		assert.Contains(t, out, "parent_started")
	})

	t.Run("handled failure is not an error", func(t *testing.T) {
		t.Parallel()

		out, _, err := executeCommand(newRootCmd(), "run",
			"--delay", "1ms", "--fault", "failure@running", "--log-level", "error")
		require.NoError(t, err)
		assert.Contains(t, out, "outcome:   handled")
		assert.Contains(t, out, "Login failed: ")
	})

	t.Run("unhandled failure is returned", func(t *testing.T) {
		t.Parallel()

		out, _, err := executeCommand(newRootCmd(), "run",
			"--delay", "1ms", "--fault", "failure@running", "--handler", "none", "--log-level", "error")
		require.Error(t, err)
		assert.Contains(t, out, "outcome:   unhandled")
	})

	t.Run("backgrounded observers still get the queue", func(t *testing.T) {
		t.Parallel()

		out, _, err := executeCommand(newRootCmd(), "run",
			"--delay", "1ms", "--background", "20ms", "--log-level", "error")
		require.NoError(t, err)
		assert.Contains(t, out, "queue  ")
		assert.Contains(t, out, "outcome:   success")
	})

	t.Run("invalid flag value", func(t *testing.T) {
		t.Parallel()

		_, _, err := executeCommand(newRootCmd(), "run", "--policy", "sometimes")
		assert.Error(t, err)
	})
}

func newTestMux(t *testing.T, cfg login.Config) http.Handler {
	t.Helper()
	app, err := login.NewApp(login.WithConfig(cfg), login.WithLogger(logger.Discard()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })
	return newMux(app, prometheus.NewRegistry(), logger.Discard())
}

func fastConfig() login.Config {
	cfg := login.DefaultConfig()
	cfg.Delay = time.Millisecond
	return cfg
}

func TestServeMux(t *testing.T) {
	t.Parallel()

	t.Run("login returns the result", func(t *testing.T) {
		t.Parallel()

		mux := newTestMux(t, fastConfig())
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/login", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var body loginResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, "success", body.Outcome)
		assert.True(t, body.LoggedIn)
		assert.Equal(t, loginflow.StatusFinished, body.Final.StatusMessage)
		assert.Equal(t, login.InfoLoggedIn, body.Info)
		assert.NotEmpty(t, body.RunID)
		assert.NotEmpty(t, body.Transitions)

		rec = httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/state", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		var s loginflow.State
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&s))
		assert.True(t, s.IsLoggedIn)
	})

	t.Run("unhandled failure is a server error", func(t *testing.T) {
		t.Parallel()

		cfg := fastConfig()
		cfg.Fault = "failure@running"
		cfg.Handler = "none"
		mux := newTestMux(t, cfg)

		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/login", nil))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)

		var body loginResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, "unhandled", body.Outcome)
		assert.NotEmpty(t, body.Error)
	})

	t.Run("info can be cleared", func(t *testing.T) {
		t.Parallel()

		mux := newTestMux(t, fastConfig())
		mux.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/login", nil))

		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/info", nil))
		assert.Equal(t, http.StatusNoContent, rec.Code)

		rec = httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/info", nil))
		var body map[string]string
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Empty(t, body["message"])
	})

	t.Run("health and metrics", func(t *testing.T) {
		t.Parallel()

		mux := newTestMux(t, fastConfig())
		for _, path := range []string{"/health/live", "/health/ready", "/metrics"} {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
			assert.Equal(t, http.StatusOK, rec.Code, path)
		}
	})

	t.Run("cancelled request", func(t *testing.T) {
		t.Parallel()

		cfg := fastConfig()
		cfg.Delay = time.Second
		mux := newTestMux(t, cfg)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/login", nil).WithContext(ctx))
		require.Equal(t, http.StatusOK, rec.Code)

		var body loginResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, "cancelled", body.Outcome)
		assert.False(t, body.LoggedIn)
	})
}

func TestServeLoginConfig_QueueRetention(t *testing.T) {
	t.Parallel()

	cmd := newServeCmd()
	require.NoError(t, cmd.ParseFlags(nil))
	retain, err := cmd.Flags().GetBool("queue-retain")
	require.NoError(t, err)

	cfg, err := serveLoginConfig(cmd, retain)
	require.NoError(t, err)
	assert.False(t, cfg.QueueRetain)

	cfg, err = serveLoginConfig(cmd, true)
	require.NoError(t, err)
	assert.True(t, cfg.QueueRetain)
}

// Repeated logins without a queue consumer leave nothing behind for a
// websocket client that connects later.
func TestServeMux_QueueHasNoBacklog(t *testing.T) {
	t.Parallel()

	cfg := fastConfig()
	cfg.QueueRetain = false
	app, err := login.NewApp(login.WithConfig(cfg), login.WithLogger(logger.Discard()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })
	mux := newMux(app, prometheus.NewRegistry(), logger.Discard())

	for range 5 {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/login", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Zero(t, app.LoginChannel().Len())
}
