package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RateLimiter implements fixed-window rate limiting using Redis
type RateLimiter struct {
	redis  *redis.Client
	logger *zap.Logger
	now    func() time.Time
}

// RateLimitConfig defines rate limit rules
type RateLimitConfig struct {
	Name     string                     // Distinguishes counters of different rules
	Requests int                        // Number of requests allowed
	Window   time.Duration              // Time window
	KeyFunc  func(*http.Request) string // Function to generate rate limit key
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(redis *redis.Client, logger *zap.Logger) *RateLimiter {
	return &RateLimiter{
		redis:  redis,
		logger: logger,
		now:    time.Now,
	}
}

// Limit returns a middleware that enforces rate limiting. Redis failures let
// the request through; quota enforcement does not depend on this layer.
func (rl *RateLimiter) Limit(config RateLimitConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := config.KeyFunc(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			allowed, remaining, resetTime, err := rl.checkLimit(r.Context(), key, config)
			if err != nil {
				rl.logger.Error("Rate limit check failed", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(config.Requests))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetTime.Unix(), 10))

			if !allowed {
				retryAfter := int64(resetTime.Sub(rl.now()).Seconds())
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
				http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)

				rl.logger.Warn("Rate limit exceeded",
					zap.String("key", key),
					zap.String("path", r.URL.Path),
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// checkLimit counts the request in the current window
func (rl *RateLimiter) checkLimit(ctx context.Context, key string, config RateLimitConfig) (bool, int, time.Time, error) {
	now := rl.now()
	windowSeconds := int64(config.Window.Seconds())
	if windowSeconds < 1 {
		windowSeconds = 1
	}
	window := now.Unix() / windowSeconds

	redisKey := fmt.Sprintf("ratelimit:%s:%s:%d", config.Name, key, window)

	pipe := rl.redis.Pipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, config.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, time.Time{}, err
	}

	count := int(incr.Val())
	remaining := config.Requests - count
	if remaining < 0 {
		remaining = 0
	}

	resetTime := time.Unix((window+1)*windowSeconds, 0)
	return count <= config.Requests, remaining, resetTime, nil
}

// GetRealIP extracts the client IP address from the request.
// It checks proxy headers in order: X-Forwarded-For, X-Real-IP, RemoteAddr
func GetRealIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// "client, proxy1, proxy2"
		if clientIP := strings.TrimSpace(strings.Split(xff, ",")[0]); clientIP != "" {
			return clientIP
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// KeyByIP generates rate limit key based on IP address
func KeyByIP(r *http.Request) string {
	return fmt.Sprintf("ip:%s", GetRealIP(r))
}

// KeyByUser generates rate limit key based on the account in context.
// Falls back to IP if no account is in context.
func KeyByUser(r *http.Request) string {
	user := GetUser(r.Context())
	if user != nil && user.ID != "" {
		return fmt.Sprintf("user:%s", user.ID)
	}
	return KeyByIP(r)
}

// GlobalRateLimit applies to all requests from an IP
func GlobalRateLimit(requests int, window time.Duration) RateLimitConfig {
	return RateLimitConfig{
		Name:     "global",
		Requests: requests,
		Window:   window,
		KeyFunc:  KeyByIP,
	}
}

// RenderSubmissionRateLimit applies to render submission (per account)
var RenderSubmissionRateLimit = RateLimitConfig{
	Name:     "renders",
	Requests: 20,
	Window:   1 * time.Minute,
	KeyFunc:  KeyByUser,
}

// CheckoutRateLimit applies to billing session creation (per account)
var CheckoutRateLimit = RateLimitConfig{
	Name:     "checkout",
	Requests: 10,
	Window:   10 * time.Minute,
	KeyFunc:  KeyByUser,
}
