package httpmiddleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func newRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func send(h http.Handler, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.RemoteAddr = remoteAddr
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRateLimit(t *testing.T) {
	client, _ := newRedis(t)
	h := RateLimit(client, RateLimitConfig{Max: 2, Window: time.Minute})(okHandler())

	w := send(h, "10.0.0.1:9999")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))

	require.Equal(t, http.StatusOK, send(h, "10.0.0.1:9999").Code)

	w = send(h, "10.0.0.1:9999")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"code":"rate_limited","message":"rate limit exceeded"}`, w.Body.String())

	assert.Equal(t, http.StatusOK, send(h, "10.0.0.2:9999").Code, "separate budget per client")
}

func TestRateLimit_SharedAcrossInstances(t *testing.T) {
	client, _ := newRedis(t)
	cfg := RateLimitConfig{Max: 1, Window: time.Minute}
	a := RateLimit(client, cfg)(okHandler())
	b := RateLimit(client, cfg)(okHandler())

	require.Equal(t, http.StatusOK, send(a, "10.0.0.1:1").Code)
	assert.Equal(t, http.StatusTooManyRequests, send(b, "10.0.0.1:1").Code)
}

func TestRateLimit_KeyFunc(t *testing.T) {
	client, _ := newRedis(t)
	h := RateLimit(client, RateLimitConfig{
		Max:    1,
		Window: time.Minute,
		KeyFunc: func(r *http.Request) string {
			return r.Header.Get("X-User")
		},
	})(okHandler())

	req := func(user string) int {
		r := httptest.NewRequest(http.MethodPost, "/", nil)
		r.Header.Set("X-User", user)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		return w.Code
	}
	assert.Equal(t, http.StatusOK, req("alice"))
	assert.Equal(t, http.StatusTooManyRequests, req("alice"))
	assert.Equal(t, http.StatusOK, req("bob"))
	assert.Equal(t, http.StatusOK, req(""), "empty key is not limited")
	assert.Equal(t, http.StatusOK, req(""))
}

func TestRateLimit_FailsOpen(t *testing.T) {
	client, mr := newRedis(t)
	h := RateLimit(client, RateLimitConfig{Max: 1, Window: time.Minute})(okHandler())
	mr.Close()

	assert.Equal(t, http.StatusOK, send(h, "10.0.0.1:1").Code)
	assert.Equal(t, http.StatusOK, send(h, "10.0.0.1:1").Code)
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.168.0.10:5555"
	assert.Equal(t, "192.168.0.10", ClientIP(r))

	r.Header.Set("X-Real-IP", "10.1.1.1")
	assert.Equal(t, "10.1.1.1", ClientIP(r))

	r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, "203.0.113.7", ClientIP(r))
}
