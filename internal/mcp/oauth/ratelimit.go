package oauth

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter keeps one token bucket per client IP address.
type RateLimiter struct {
	mu         sync.Mutex
	limiters   map[string]*ipLimiter
	rate       int           // tokens per second
	burst      int           // max burst size
	cleanup    time.Duration // cleanup interval for inactive limiters
	trustProxy bool          // whether to trust proxy headers
	logger     *slog.Logger
	stop       chan struct{}
	stopOnce   sync.Once
}

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a new rate limiter and starts its cleanup loop.
// Call Stop to end the loop.
func NewRateLimiter(perSecond, burst int, trustProxy bool, cleanup time.Duration, logger *slog.Logger) *RateLimiter {
	if cleanup <= 0 {
		cleanup = DefaultRateLimitCleanupInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	rl := &RateLimiter{
		limiters:   make(map[string]*ipLimiter),
		rate:       perSecond,
		burst:      burst,
		cleanup:    cleanup,
		trustProxy: trustProxy,
		logger:     logger,
		stop:       make(chan struct{}),
	}

	go rl.cleanupInactiveLimiters()

	return rl
}

// Allow checks if a request from the given IP should be allowed
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	l, exists := rl.limiters[ip]
	if !exists {
		l = &ipLimiter{limiter: rate.NewLimiter(rate.Limit(rl.rate), rl.burst)}
		rl.limiters[ip] = l
	}
	l.lastSeen = time.Now()
	rl.mu.Unlock()

	return l.limiter.Allow()
}

// Stop ends the cleanup loop. It is safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// cleanupInactiveLimiters removes limiters that haven't been used recently
func (rl *RateLimiter) cleanupInactiveLimiters() {
	ticker := time.NewTicker(rl.cleanup)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.removeInactive(time.Now())
		}
	}
}

func (rl *RateLimiter) removeInactive(now time.Time) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0
	for ip, l := range rl.limiters {
		if now.Sub(l.lastSeen) > InactiveLimiterCleanupWindow {
			delete(rl.limiters, ip)
			removed++
		}
	}
	if removed > 0 {
		rl.logger.Debug("Removed inactive rate limiters", "count", removed)
	}
	return removed
}

// RateLimitMiddleware applies the per-IP limit to next. It passes through
// when rate limiting is not configured.
func (h *Handler) RateLimitMiddleware(next http.Handler) http.Handler {
	if h.rateLimiter == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := getClientIP(r, h.rateLimiter.trustProxy)

		if !h.rateLimiter.Allow(ip) {
			h.logger.Warn("Rate limit exceeded", "ip", ip, "path", r.URL.Path)
			h.audit.LogRateLimitExceeded(ip, r.URL.Path)
			w.Header().Set("Retry-After", "1")
			h.writeOAuthError(w, ErrRateLimited(
				fmt.Sprintf("Rate limit exceeded for %s. Please try again later", ip)))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// getClientIP extracts the client IP address from the request
// trustProxy: if true, trust X-Forwarded-For and X-Real-IP headers (only if behind trusted proxy)
func getClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			return strings.TrimSpace(first)
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return strings.TrimSpace(xri)
		}
	}

	return extractIPFromAddr(r.RemoteAddr)
}

// extractIPFromAddr extracts the IP address from "IP:port" format,
// including bracketed IPv6 addresses.
func extractIPFromAddr(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
