package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// KeyFunc extracts the rate-limit key from a request. An empty key skips limiting.
type KeyFunc func(r *http.Request) string

// RateLimiter allows up to a fixed number of requests per window for each
// key. Limiters live in a bounded LRU so idle keys are eventually evicted.
type RateLimiter struct {
	limiters *lru.Cache[string, *rate.Limiter]
	limit    rate.Limit
	burst    int
	window   time.Duration
}

// NewRateLimiter creates a limiter allowing requests per window, tracking at
// most maxKeys keys.
func NewRateLimiter(requests int, window time.Duration, maxKeys int) (*RateLimiter, error) {
	if requests <= 0 || window <= 0 {
		return nil, fmt.Errorf("invalid rate limit %d per %s", requests, window)
	}
	if maxKeys <= 0 {
		maxKeys = 10000
	}
	cache, err := lru.New[string, *rate.Limiter](maxKeys)
	if err != nil {
		return nil, err
	}
	return &RateLimiter{
		limiters: cache,
		limit:    rate.Every(window / time.Duration(requests)),
		burst:    requests,
		window:   window,
	}, nil
}

// Allow reports whether a request for key may proceed now.
func (l *RateLimiter) Allow(key string) bool {
	limiter, ok := l.limiters.Get(key)
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		// Another request may have added one concurrently; keep the first.
		if prev, found, _ := l.limiters.PeekOrAdd(key, limiter); found {
			limiter = prev
		}
	}
	return limiter.Allow()
}

// Middleware rejects requests over the limit with 429.
func (l *RateLimiter) Middleware(key KeyFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := key(r)
			if k != "" && !l.Allow(k) {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", strconv.Itoa(int(l.window.Seconds())))
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
