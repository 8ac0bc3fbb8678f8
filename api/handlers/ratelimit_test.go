package handlers_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"

	"github.com/KamisAyaka/solana-demos/api/handlers"
)

func TestRateLimiter_Allow(t *testing.T) {
	// Create a limiter that allows 5 requests per second with burst of 5
	limiter := handlers.NewRateLimiter(rate.Limit(5), 5)
	defer limiter.Stop()

	ip := "192.168.1.1"

	// First 5 requests should be allowed (burst)
	for i := 0; i < 5; i++ {
		assert.True(t, limiter.Allow(ip), "request %d should be allowed", i+1)
	}

	// 6th request should be denied (burst exhausted)
	assert.False(t, limiter.Allow(ip), "request 6 should be denied")

	// Different IP should have its own limit
	assert.True(t, limiter.Allow("192.168.1.2"), "different IP should be allowed")
}

func TestRateLimiter_Refill(t *testing.T) {
	limiter := handlers.NewRateLimiter(rate.Limit(10), 2)
	defer limiter.Stop()

	ip := "192.168.1.1"

	assert.True(t, limiter.Allow(ip))
	assert.True(t, limiter.Allow(ip))
	assert.False(t, limiter.Allow(ip))

	// 100ms = 1 token at 10/sec
	time.Sleep(150 * time.Millisecond)

	assert.True(t, limiter.Allow(ip), "should be allowed after refill")
}

func TestRateLimiter_AllowWithRetry(t *testing.T) {
	limiter := handlers.NewRateLimiter(rate.Every(time.Minute), 1)
	defer limiter.Stop()

	allowed, retryAfter := limiter.AllowWithRetry("10.0.0.1")
	assert.True(t, allowed)
	assert.Zero(t, retryAfter)

	allowed, retryAfter = limiter.AllowWithRetry("10.0.0.1")
	assert.False(t, allowed)
	assert.Greater(t, retryAfter, 30*time.Second)
}

func TestRateLimitMiddleware_JSONResponse(t *testing.T) {
	limiter := handlers.NewRateLimiter(rate.Limit(1), 1)
	defer limiter.Stop()

	middleware := handlers.RateLimitMiddleware(limiter)
	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// First request should pass
	req := httptest.NewRequest(http.MethodPost, "/api/vote", nil)
	req.RemoteAddr = "192.168.1.50:12345"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Second request should be rate limited
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	var errResp handlers.RateLimitError
	err := json.NewDecoder(rec.Body).Decode(&errResp)
	assert.NoError(t, err)
	assert.Equal(t, "rate_limit_exceeded", errResp.Error)
	assert.NotEmpty(t, errResp.Message)
	assert.Greater(t, errResp.RetryAfter, 0)

	// A forwarded client behind the same proxy has its own bucket
	req = httptest.NewRequest(http.MethodPost, "/api/vote", nil)
	req.RemoteAddr = "192.168.1.50:12345"
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 192.168.1.50")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetIPFromRequest(t *testing.T) {
	tests := []struct {
		name    string
		remote  string
		headers map[string]string
		want    string
	}{
		{name: "remote addr", remote: "192.168.1.50:12345", want: "192.168.1.50"},
		{name: "remote addr without port", remote: "192.168.1.50", want: "192.168.1.50"},
		{name: "forwarded for", remote: "10.0.0.1:80", headers: map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"}, want: "203.0.113.7"},
		{name: "real ip", remote: "10.0.0.1:80", headers: map[string]string{"X-Real-IP": "198.51.100.2"}, want: "198.51.100.2"},
		{name: "ipv6", remote: "[2001:db8::1]:443", want: "2001:db8::1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, handlers.GetIPFromRequest(req))
		})
	}
}
