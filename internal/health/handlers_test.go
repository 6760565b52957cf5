package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-checkout/internal/health"
	"github.com/noah-isme/toko-checkout/internal/resilience"
)

type stubChecker struct {
	redisErr error
}

func (s stubChecker) PingRedis(_ context.Context, _ time.Duration) error {
	return s.redisErr
}

func ready(t *testing.T, h health.Handler) (int, map[string]any) {
	t.Helper()
	rr := httptest.NewRecorder()
	h.Ready(rr, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	var status map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &status))
	return rr.Code, status
}

func TestLive(t *testing.T) {
	handler := health.Handler{}
	rr := httptest.NewRecorder()
	handler.Live(rr, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "ok", rr.Body.String())
}

func TestReadySuccess(t *testing.T) {
	code, status := ready(t, health.Handler{Checker: stubChecker{}, RedisTimeout: 50 * time.Millisecond})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ok", status["redis"])
}

func TestReadyWithoutRedis(t *testing.T) {
	code, status := ready(t, health.Handler{})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "disabled", status["redis"])
}

func TestReadyFailure(t *testing.T) {
	code, _ := ready(t, health.Handler{Checker: stubChecker{redisErr: errors.New("redis down")}})
	require.Equal(t, http.StatusServiceUnavailable, code)
}

func TestReadyReportsOpenBreakerAsDegraded(t *testing.T) {
	breaker := resilience.NewBreaker(resilience.BreakerConfig{Target: "carrier-health", MinRequests: 1, FailureRatio: 1, OpenFor: time.Minute})
	breaker.Report(context.Background(), false)

	code, status := ready(t, health.Handler{Breakers: []*resilience.Breaker{breaker}})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, true, status["degraded"])
	require.Equal(t, "open", status["providers"].(map[string]any)["carrier-health"])
}
