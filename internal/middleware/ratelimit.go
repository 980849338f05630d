package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/sakif/click-ledger/internal/auth"
	"github.com/sakif/click-ledger/internal/metrics"
)

const (
	// limiters idle this long are dropped when the table is swept
	limiterIdleTTL = 10 * time.Minute
	sweepThreshold = 10000
)

type trackedLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a per-caller token bucket.
//
// KEY SELECTION:
// Authenticated requests are keyed by subject ("sub:<id>"), so users behind
// one NAT don't share a bucket. Anonymous requests fall back to the client
// IP. Mount it after the auth middleware so the identity is already there.
type RateLimiter struct {
	rps   rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*trackedLimiter
}

// NewRateLimiter allows rps events per second per caller with the given
// burst. rps <= 0 disables limiting.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		rps:      rate.Limit(rps),
		burst:    burst,
		limiters: make(map[string]*trackedLimiter),
	}
}

// Allow reports whether the caller identified by key may proceed now.
func (rl *RateLimiter) Allow(key string) bool {
	if rl.rps <= 0 {
		return true
	}

	now := time.Now()

	rl.mu.Lock()
	tl, ok := rl.limiters[key]
	if !ok {
		if len(rl.limiters) >= sweepThreshold {
			rl.sweepLocked(now)
		}
		tl = &trackedLimiter{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.limiters[key] = tl
	}
	tl.lastSeen = now
	rl.mu.Unlock()

	return tl.limiter.AllowN(now, 1)
}

func (rl *RateLimiter) sweepLocked(now time.Time) {
	for k, tl := range rl.limiters {
		if now.Sub(tl.lastSeen) > limiterIdleTTL {
			delete(rl.limiters, k)
		}
	}
}

// Middleware rejects over-limit requests with 429 and a Retry-After header.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(callerKey(r)) {
			metrics.RateLimitRejected.WithLabelValues("memory").Inc()
			w.Header().Set("Retry-After", "1")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"error":   "rate_limited",
				"message": "Too many requests, slow down",
			})
			return
		}
		metrics.RateLimitAllowed.WithLabelValues("memory").Inc()
		next.ServeHTTP(w, r)
	})
}

func callerKey(r *http.Request) string {
	if id, ok := auth.IdentityFromContext(r.Context()); ok {
		return "sub:" + id.ID
	}
	// RealIP middleware has already rewritten RemoteAddr when proxied.
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil || host == "" {
		host = r.RemoteAddr
	}
	if host == "" {
		host = "unknown"
	}
	return "ip:" + host
}
