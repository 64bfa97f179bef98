package ratelimit_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/evenio/monetico-bridge/internal/ratelimit"
)

func testLimiter(t *testing.T) ratelimit.Limiter {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return ratelimit.Limiter{Client: client, Prefix: "rl:"}
}

func TestMiddlewareEnforcesLimit(t *testing.T) {
	handler := ratelimit.Handler{
		Limiter: testLimiter(t),
		Config: ratelimit.Config{
			Key:    func(*http.Request) string { return "client-1" },
			Window: time.Minute,
			Max:    3,
		},
	}
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	srv := handler.Middleware(next)

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/cb", nil))
		require.Equal(t, http.StatusNoContent, rec.Code, "request %d", i)
	}

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/cb", nil))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestMiddlewareWithoutKeyPassesThrough(t *testing.T) {
	handler := ratelimit.Handler{Limiter: testLimiter(t)}
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	rec := httptest.NewRecorder()
	handler.Middleware(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/cb", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
}
