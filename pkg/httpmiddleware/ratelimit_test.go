package httpmiddleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func doRequest(handler http.Handler, addr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = addr
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func TestRateLimit_UnderLimit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	handler := RateLimit(ctx, RateLimitConfig{Max: 5, Window: time.Minute})(okHandler())

	for i := range 5 {
		w := doRequest(handler, "192.168.1.1:12345")
		assert.Equal(t, http.StatusOK, w.Code, "request %d should pass", i+1)
		assert.Equal(t, "5", w.Header().Get("X-RateLimit-Limit"))
		assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
	}
}

func TestRateLimit_OverLimit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	handler := RateLimit(ctx, RateLimitConfig{Max: 2, Window: time.Minute})(okHandler())

	doRequest(handler, "10.0.0.1:1")
	doRequest(handler, "10.0.0.1:1")
	w := doRequest(handler, "10.0.0.1:1")

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
}

func TestRateLimit_KeysAreIndependent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	handler := RateLimit(ctx, RateLimitConfig{Max: 1, Window: time.Minute})(okHandler())

	assert.Equal(t, http.StatusOK, doRequest(handler, "10.0.0.1:1").Code)
	assert.Equal(t, http.StatusTooManyRequests, doRequest(handler, "10.0.0.1:1").Code)
	assert.Equal(t, http.StatusOK, doRequest(handler, "10.0.0.2:1").Code)
}

func TestRateLimit_ForwardedForWins(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	handler := RateLimit(ctx, RateLimitConfig{Max: 1, Window: time.Minute})(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:1"
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	// Same forwarded client from a different hop is still the same key.
	req2 := httptest.NewRequest(http.MethodGet, "/", nil)
	req2.RemoteAddr = "10.0.0.99:1"
	req2.Header.Set("X-Forwarded-For", "203.0.113.7")
	w2 := httptest.NewRecorder()
	handler.ServeHTTP(w2, req2)
	assert.Equal(t, http.StatusTooManyRequests, w2.Code)
}
