package health_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/evenio/monetico-bridge/internal/health"
)

type fakeChecker struct {
	dbErr    error
	redisErr error
}

func (f fakeChecker) PingDB(context.Context, time.Duration) error    { return f.dbErr }
func (f fakeChecker) PingRedis(context.Context, time.Duration) error { return f.redisErr }

func TestLive(t *testing.T) {
	rec := httptest.NewRecorder()
	health.Handler{}.Live(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())
}

func TestReady(t *testing.T) {
	rec := httptest.NewRecorder()
	health.Handler{Checker: fakeChecker{}}.Ready(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	health.Handler{Checker: fakeChecker{dbErr: errors.New("down")}}.Ready(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "down")
}

func TestReadyWithoutChecker(t *testing.T) {
	rec := httptest.NewRecorder()
	health.Handler{}.Ready(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
