package middlewares

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimitStore is the shared counter backing the limiter. The redis client
// implements it for multi-instance deployments; LocalStore below covers
// single-instance and test setups.
type RateLimitStore interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error)
}

// LocalStore keeps a token bucket per key in process memory.
type LocalStore struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewLocalStore() *LocalStore {
	return &LocalStore{limiters: make(map[string]*rate.Limiter)}
}

func (s *LocalStore) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error) {
	s.mu.Lock()
	l, ok := s.limiters[key]
	if !ok {
		l = rate.NewLimiter(rate.Limit(float64(limit)/window.Seconds()), limit)
		s.limiters[key] = l
	}
	s.mu.Unlock()

	if l.Allow() {
		return true, 0, nil
	}

	return false, window, nil
}

type RateLimiter struct {
	store  RateLimitStore
	limit  int
	window time.Duration
}

func NewRateLimiter(store RateLimitStore, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{store: store, limit: limit, window: window}
}

// Middleware enforces the limit for a derived key. Store errors fail open: a
// broken redis must not lock everyone out of sign-in.
func (rl *RateLimiter) Middleware(keyFn func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := keyFn(c)

		if key == "" {
			// fallback to IP if key cannot be derived
			key = clientIP(c)
		}

		allowed, retryAfter, err := rl.store.Allow(c.Request.Context(), key, rl.limit, rl.window)

		if err != nil || allowed {
			c.Next()
			return
		}

		secs := int(retryAfter.Seconds())
		if secs < 1 {
			secs = 1
		}

		c.Header("Retry-After", strconv.Itoa(secs))

		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": gin.H{
				"code":    "rate_limited",
				"message": "Too many requests. Please try again shortly.",
			},
		})
	}
}

// for unauthenticated endpoints: rate limit by IP
func KeyByIP(c *gin.Context) string {
	return clientIP(c)
}

// For authenticated endpoints: rate limit by userID if available
func KeyByUserOrIP(c *gin.Context) string {
	id, ok := UserIDFromContext(c)

	if ok && id != "" {
		return "user:" + id
	}

	return clientIP(c)
}

func clientIP(c *gin.Context) string {
	// Gin's ClientIP respects X-Forwarded-For / X-Real-IP if configured.
	ip := c.ClientIP()

	host, _, err := net.SplitHostPort(ip)

	if err == nil && host != "" {
		return host
	}

	return ip
}
