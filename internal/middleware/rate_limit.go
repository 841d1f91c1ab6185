package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"
)

type loginAttempt struct {
	count      int
	windowEnds time.Time
}

type IPRateLimiter struct {
	inner *ipRateLimiter
}

type ipRateLimiter struct {
	mu         sync.Mutex
	limit      int
	window     time.Duration
	maxEntries int
	attempt    map[string]loginAttempt
}

// NewIPRateLimiterWithMaxEntries bounds the tracked IP map so a scan of many
// source addresses cannot grow it without limit.
func NewIPRateLimiterWithMaxEntries(limit int, window time.Duration, maxEntries int) *IPRateLimiter {
	return &IPRateLimiter{inner: newIPRateLimiter(limit, window, maxEntries)}
}

func newIPRateLimiter(limit int, window time.Duration, maxEntries int) *ipRateLimiter {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &ipRateLimiter{
		limit:      limit,
		window:     window,
		maxEntries: maxEntries,
		attempt:    map[string]loginAttempt{},
	}
}

func (rl *IPRateLimiter) Middleware(message string) func(http.Handler) http.Handler {
	if message == "" {
		message = "Rate limit exceeded"
	}
	return func(next http.Handler) http.Handler {
		return rl.inner.middleware(message, next)
	}
}

func (rl *ipRateLimiter) middleware(message string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r.RemoteAddr)
		if ip == "" {
			ip = "unknown"
		}

		now := time.Now()
		rl.mu.Lock()
		if rl.maxEntries > 0 && len(rl.attempt) >= rl.maxEntries {
			rl.evictExpiredLocked(now)
		}
		entry := rl.attempt[ip]
		if entry.windowEnds.Before(now) {
			entry = loginAttempt{count: 0, windowEnds: now.Add(rl.window)}
		}
		entry.count++
		rl.attempt[ip] = entry
		rl.mu.Unlock()

		if entry.count > rl.limit {
			writeError(w, r, http.StatusTooManyRequests, "RATE_LIMITED", message, nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (rl *ipRateLimiter) evictExpiredLocked(now time.Time) {
	for ip, entry := range rl.attempt {
		if entry.windowEnds.Before(now) {
			delete(rl.attempt, ip)
		}
	}
	// Window not elapsed anywhere: drop the whole map rather than refuse new IPs.
	if len(rl.attempt) >= rl.maxEntries {
		rl.attempt = make(map[string]loginAttempt, rl.maxEntries)
	}
}

func clientIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
