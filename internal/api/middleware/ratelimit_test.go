package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func newTestLimiter(t *testing.T) (*RateLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	rl := NewRateLimiter(client, zap.NewNop())
	now := time.Date(2025, time.March, 15, 10, 30, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	return rl, mr
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimiterBlocksAfterLimit(t *testing.T) {
	rl, _ := newTestLimiter(t)
	handler := rl.Limit(GlobalRateLimit(2, time.Minute))(okHandler())

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:4321"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)

		if i == 2 {
			assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
			assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
			assert.NotEmpty(t, rec.Header().Get("Retry-After"))
		}
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// a different client has its own counter
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.2:4321"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimiterPerUser(t *testing.T) {
	rl, _ := newTestLimiter(t)
	cfg := RenderSubmissionRateLimit
	cfg.Requests = 1
	handler := rl.Limit(cfg)(okHandler())

	send := func(accountID string) int {
		req := httptest.NewRequest(http.MethodPost, "/renders", nil)
		req = req.WithContext(WithUser(req.Context(), &User{ID: accountID}))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, send("acct_1"))
	assert.Equal(t, http.StatusTooManyRequests, send("acct_1"))
	assert.Equal(t, http.StatusOK, send("acct_2"))
}

func TestRateLimiterFailsOpen(t *testing.T) {
	rl, mr := newTestLimiter(t)
	mr.Close()
	handler := rl.Limit(GlobalRateLimit(1, time.Minute))(okHandler())

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestGetRealIP(t *testing.T) {
	tests := []struct {
		name       string
		xff        string
		xri        string
		remoteAddr string
		expected   string
	}{
		{name: "forwarded for", xff: "203.0.113.5, 10.0.0.1", remoteAddr: "10.0.0.1:80", expected: "203.0.113.5"},
		{name: "real ip", xri: "203.0.113.9", remoteAddr: "10.0.0.1:80", expected: "203.0.113.9"},
		{name: "remote addr", remoteAddr: "192.0.2.1:5555", expected: "192.0.2.1"},
		{name: "remote addr without port", remoteAddr: "192.0.2.1", expected: "192.0.2.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xri != "" {
				req.Header.Set("X-Real-IP", tt.xri)
			}
			assert.Equal(t, tt.expected, GetRealIP(req))
		})
	}
}
