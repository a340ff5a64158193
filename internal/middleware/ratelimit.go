package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter throttles requests per client IP. Activation attempts carry
// account value, so the limiter keys on the caller rather than the process.
type RateLimiter struct {
	rps    rate.Limit
	burst  int
	logger *slog.Logger

	mu      sync.Mutex
	clients map[string]*clientLimiter
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// staleAfter is how long an idle client entry survives before eviction.
const staleAfter = 10 * time.Minute

// NewRateLimiter creates a per-IP rate limiter.
func NewRateLimiter(rps float64, burst int, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &RateLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		logger:  logger,
		clients: make(map[string]*clientLimiter),
	}
}

// Handler implements rate limiting middleware
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)

		if !rl.allow(ip) {
			rl.logger.WarnContext(r.Context(), "rate limit exceeded",
				"method", r.Method,
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
			)

			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "60")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"status_code":429,"error_code":"RATE_LIMIT_EXCEEDED","message":"Too many requests, please retry later"}`))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	cl, ok := rl.clients[ip]
	if !ok {
		// Evict idle entries opportunistically so the map stays bounded.
		for key, entry := range rl.clients {
			if now.Sub(entry.lastSeen) > staleAfter {
				delete(rl.clients, key)
			}
		}
		cl = &clientLimiter{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.clients[ip] = cl
	}
	cl.lastSeen = now
	return cl.limiter.Allow()
}

func clientIP(r *http.Request) string {
	// RealIP middleware rewrites RemoteAddr when forwarding headers are set.
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
