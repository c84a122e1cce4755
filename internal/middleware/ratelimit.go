package middleware

import (
	"context"
	"fmt"
	"math"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// HeaderOperatorID identifies the calling operator for rate limiting.
const HeaderOperatorID = "X-Operator-ID"

// RateLimiter is per-operator token bucket rate limiting middleware.
// Requests without an operator header are limited per client IP.
type RateLimiter struct {
	mu         sync.Mutex
	visitors   map[string]*visitor
	limit      rate.Limit
	burst      int
	maxTracked int // prevents memory exhaustion
	now        func() time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a rate limiter with the given sustained rate
// (requests per second) and burst size.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{
		visitors:   make(map[string]*visitor),
		limit:      rate.Limit(rps),
		burst:      burst,
		maxTracked: 100000,
		now:        time.Now,
	}
}

// Handler returns HTTP middleware that enforces the limit.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(HeaderOperatorID)
		if key == "" {
			key = "ip:" + realIP(r)
		}

		remaining, retryAfter, allowed := rl.allow(key)
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))

		if !allowed {
			w.Header().Set("Retry-After", fmt.Sprintf("%.0f", math.Max(1, math.Ceil(retryAfter.Seconds()))))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}`))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// allow reports whether a request for key may proceed, the tokens left and
// how long until the next token.
func (rl *RateLimiter) allow(key string) (remaining int, retryAfter time.Duration, allowed bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	v, ok := rl.visitors[key]
	if !ok {
		if len(rl.visitors) >= rl.maxTracked {
			return 0, time.Second, false
		}
		v = &visitor{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.visitors[key] = v
	}
	v.lastSeen = now

	if !v.limiter.AllowN(now, 1) {
		res := v.limiter.ReserveN(now, 1)
		wait := res.DelayFrom(now)
		res.CancelAt(now)
		return 0, wait, false
	}
	return int(v.limiter.TokensAt(now)), 0, true
}

// StartCleanup spawns a goroutine that removes visitors idle longer than
// maxIdle every interval. The returned function stops it.
func (rl *RateLimiter) StartCleanup(interval, maxIdle time.Duration) func() {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rl.cleanup(maxIdle)
			}
		}
	}()
	return cancel
}

func (rl *RateLimiter) cleanup(maxIdle time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := rl.now().Add(-maxIdle)
	for key, v := range rl.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(rl.visitors, key)
		}
	}
}

// Len returns the number of tracked visitors.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.visitors)
}

// realIP extracts the client IP from RemoteAddr. Proxy headers are not
// trusted because they can be spoofed.
func realIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
