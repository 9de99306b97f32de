package middleware

import (
	"net/http"
	"sync"
	"time"
)

// visitor tracks the token bucket for a single client IP.
type visitor struct {
	tokens   float64
	lastSeen time.Time
}

// Limiter applies a token-bucket limit per client IP. It guards the public
// HTTP surface; the per-patient LLM quota is enforced in the conversation
// package against Redis.
type Limiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rate     float64 // tokens replenished per second
	burst    float64
	sweeps   int
}

// NewLimiter allows rate requests per second with the given burst per IP.
func NewLimiter(rate float64, burst int) *Limiter {
	if rate <= 0 {
		rate = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		visitors: make(map[string]*visitor),
		rate:     rate,
		burst:    float64(burst),
	}
}

// Allow reports whether a request from ip may proceed.
func (l *Limiter) Allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	v, ok := l.visitors[ip]
	if !ok {
		// First token is consumed immediately.
		l.visitors[ip] = &visitor{tokens: l.burst - 1, lastSeen: now}
		l.maybeSweep(now)
		return true
	}

	v.tokens += now.Sub(v.lastSeen).Seconds() * l.rate
	if v.tokens > l.burst {
		v.tokens = l.burst
	}
	v.lastSeen = now

	if v.tokens < 1 {
		return false
	}
	v.tokens--
	return true
}

// maybeSweep drops stale visitors. Called under l.mu, amortized so the map
// does not grow without bound across bursts of distinct IPs.
func (l *Limiter) maybeSweep(now time.Time) {
	l.sweeps++
	if l.sweeps < 256 {
		return
	}
	l.sweeps = 0
	cutoff := now.Add(-10 * time.Minute)
	for ip, v := range l.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(l.visitors, ip)
		}
	}
}

// RateLimit rejects requests beyond the per-IP budget with 429.
func RateLimit(rate float64, burst int) func(http.Handler) http.Handler {
	limiter := NewLimiter(rate, burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// chi's RealIP middleware rewrites RemoteAddr from the
			// forwarding headers before this runs.
			if !limiter.Allow(r.RemoteAddr) {
				w.Header().Set("Retry-After", "60")
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
