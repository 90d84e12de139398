package health_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/loginflow/core/health"
)

func TestLiveness(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	health.Liveness(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ALIVE", rec.Body.String())

	rec = httptest.NewRecorder()
	health.NoContent(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestReadiness(t *testing.T) {
	t.Parallel()

	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("redis down") }

	tests := []struct {
		name   string
		checks []health.Check
		code   int
		body   string
	}{
		{"no checks", nil, http.StatusOK, "READY"},
		{"all pass", []health.Check{ok, ok}, http.StatusOK, "READY"},
		{"one fails", []health.Check{ok, down}, http.StatusServiceUnavailable, "NOT READY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := httptest.NewRecorder()
			health.Readiness(nil, tt.checks...).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
			assert.Equal(t, tt.code, rec.Code)
			assert.Equal(t, tt.body, rec.Body.String())
		})
	}
}
