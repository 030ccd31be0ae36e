package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/devrev/softmatch/internal/health"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func readiness(t *testing.T, hc *health.HealthCheck) (int, health.ReadinessResponse) {
	t.Helper()
	w := httptest.NewRecorder()
	hc.ReadinessHandler(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

	var resp health.ReadinessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w.Code, resp
}

func TestLivenessHandler(t *testing.T) {
	hc := health.NewHealthCheck(zap.NewNop())
	w := httptest.NewRecorder()
	hc.LivenessHandler(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, w.Body.String())
}

func TestReadinessHandler(t *testing.T) {
	t.Run("not ready before startup", func(t *testing.T) {
		hc := health.NewHealthCheck(zap.NewNop())
		code, resp := readiness(t, hc)
		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Equal(t, "starting", resp.Status)
	})

	t.Run("ready with healthy checks", func(t *testing.T) {
		hc := health.NewHealthCheck(zap.NewNop())
		hc.Register("redis", func(context.Context) error { return nil })
		hc.SetReady(true)

		code, resp := readiness(t, hc)
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, map[string]string{"redis": "healthy"}, resp.Checks)
	})

	t.Run("failing check", func(t *testing.T) {
		hc := health.NewHealthCheck(zap.NewNop())
		hc.Register("redis", func(context.Context) error { return nil })
		hc.Register("stats", func(context.Context) error { return errors.New("connection refused") })
		hc.SetReady(true)

		code, resp := readiness(t, hc)
		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Equal(t, "not_ready", resp.Status)
		assert.Equal(t, "unhealthy", resp.Checks["stats"])
		assert.Equal(t, "healthy", resp.Checks["redis"])
		assert.Contains(t, resp.Error, "connection refused")
	})
}
