package api

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	reapInterval = time.Minute
	idleCutoff   = 3 * time.Minute
)

// rateLimiter hands out a token bucket per client address. Idle buckets are
// reaped inline on the request path, at most once per reapInterval, so the
// map does not grow without bound and no background goroutine is needed.
type rateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
	lastReap time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newRateLimiter(perSecond float64, burst int) *rateLimiter {
	return &rateLimiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Limit(perSecond),
		burst:    burst,
		lastReap: time.Now(),
	}
}

func (rl *rateLimiter) allow(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	rl.mu.Lock()
	if time.Since(rl.lastReap) >= reapInterval {
		rl.reapLocked()
	}
	v, ok := rl.visitors[host]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.visitors[host] = v
	}
	v.lastSeen = time.Now()
	rl.mu.Unlock()

	return v.limiter.Allow()
}

func (rl *rateLimiter) reapLocked() {
	cutoff := time.Now().Add(-idleCutoff)
	for host, v := range rl.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(rl.visitors, host)
		}
	}
	rl.lastReap = time.Now()
}

// RateLimitMiddleware throttles mutating calls per client address.
func RateLimitMiddleware(perSecond float64, burst int) func(http.Handler) http.Handler {
	rl := newRateLimiter(perSecond, burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.allow(r.RemoteAddr) {
				respondWithJSON(w, http.StatusTooManyRequests, errBody("rate limit exceeded"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
