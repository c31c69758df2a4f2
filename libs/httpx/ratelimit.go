package httpx

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// RateLimiter is a per-caller fixed window kept in process memory. Used when REDIS_ADDR
// is unset, i.e. single-instance development deployments.
type RateLimiter struct {
	limit     int
	window    time.Duration
	mu        sync.Mutex
	callers   map[string]*window
	lastSweep time.Time
}

type window struct {
	count   int
	resetAt time.Time
}

func NewRateLimiter(limit int, every time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = 60
	}
	if every <= 0 {
		every = time.Minute
	}
	return &RateLimiter{
		limit:   limit,
		window:  every,
		callers: map[string]*window{},
	}
}

func (rl *RateLimiter) Middleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.allow(callerKey(r), time.Now()) {
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) allow(key string, now time.Time) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.Sub(rl.lastSweep) > rl.window {
		for k, v := range rl.callers {
			if now.After(v.resetAt) {
				delete(rl.callers, k)
			}
		}
		rl.lastSweep = now
	}

	v := rl.callers[key]
	if v == nil || now.After(v.resetAt) {
		rl.callers[key] = &window{count: 1, resetAt: now.Add(rl.window)}
		return true
	}
	if v.count >= rl.limit {
		return false
	}
	v.count++
	return true
}

// CallerHeader lets internal callers (order workflow, UI backend) identify themselves so
// they are limited per service rather than per pod IP.
const CallerHeader = "X-Caller"

func callerKey(r *http.Request) string {
	if caller := strings.TrimSpace(r.Header.Get(CallerHeader)); caller != "" {
		return "caller:" + caller
	}
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		parts := strings.Split(ip, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}
