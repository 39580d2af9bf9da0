package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/minpaku-sim/web/internal/platform/observability"
)

const defaultVisitorIdle = 10 * time.Minute

// RateLimiter applies a per-client token bucket. A zero rate disables it.
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	interval time.Duration
	burst    int
	idle     time.Duration
	now      func() time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimitOption customises a RateLimiter.
type RateLimitOption func(*RateLimiter)

// WithRateLimitClock overrides the clock.
func WithRateLimitClock(now func() time.Time) RateLimitOption {
	return func(l *RateLimiter) {
		if now != nil {
			l.now = now
		}
	}
}

// NewRateLimiter allows perMinute requests per client per minute, bursting to perMinute.
func NewRateLimiter(perMinute int, opts ...RateLimitOption) *RateLimiter {
	l := &RateLimiter{
		visitors: map[string]*visitor{},
		limit:    rate.Inf,
		idle:     defaultVisitorIdle,
		now:      time.Now,
	}
	if perMinute > 0 {
		l.interval = time.Minute / time.Duration(perMinute)
		l.limit = rate.Every(l.interval)
		l.burst = perMinute
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow consumes one token for key.
func (l *RateLimiter) Allow(key string) bool {
	if l.limit == rate.Inf {
		return true
	}
	now := l.now()
	l.mu.Lock()
	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[key] = v
	}
	v.lastSeen = now
	l.mu.Unlock()
	return v.limiter.AllowN(now, 1)
}

// AllowRequest consumes one token for the request's client address.
func (l *RateLimiter) AllowRequest(r *http.Request) bool {
	return l.Allow(clientKey(r))
}

// Sweep forgets clients idle for longer than the idle window and reports how many were dropped.
func (l *RateLimiter) Sweep() int {
	cutoff := l.now().Add(-l.idle)
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for key, v := range l.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(l.visitors, key)
			removed++
		}
	}
	return removed
}

// Len reports the number of tracked clients.
func (l *RateLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.visitors)
}

// Middleware rejects requests over the limit with 429.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.AllowRequest(r) {
			w.Header().Set("Retry-After", strconv.Itoa(l.RetryAfter()))
			observability.FromContext(r.Context()).Warn("rate limited", zap.String("path", r.URL.Path))
			writeError(w, r, http.StatusTooManyRequests, "rate_limited", "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RetryAfter reports the Retry-After value, in seconds, sent with a 429.
func (l *RateLimiter) RetryAfter() int {
	if l.interval <= 0 {
		return 1
	}
	return int(math.Ceil(l.interval.Seconds()))
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
