package middleware

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"fleet-reports/internal/domain"
	"fleet-reports/internal/metrics"
)

// RateLimitConfig holds configuration for the rate limiter middleware.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate limit (tokens added per second).
	RequestsPerSecond float64
	// Burst is the maximum number of requests allowed in a burst.
	Burst int
	// Scope labels rejections in metrics.
	Scope string
}

// clientLimiter tracks a per-client rate limiter and when it was last seen.
type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter returns an HTTP middleware that enforces a token-bucket rate
// limit per tenant, or per client IP for requests without a tenant. When the
// limit is exceeded it responds with 429 Too Many Requests.
func RateLimiter(cfg RateLimitConfig) func(http.Handler) http.Handler {
	if cfg.Scope == "" {
		cfg.Scope = "api"
	}
	var (
		mu      sync.Mutex
		clients = make(map[string]*clientLimiter)
		sweep   time.Time
	)

	getLimiter := func(key string, now time.Time) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		if now.Sub(sweep) > 5*time.Minute {
			for k, cl := range clients {
				if now.Sub(cl.lastSeen) > 10*time.Minute {
					delete(clients, k)
				}
			}
			sweep = now
		}
		cl, ok := clients[key]
		if !ok {
			cl = &clientLimiter{limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)}
			clients[key] = cl
		}
		cl.lastSeen = now
		return cl.limiter
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			now := time.Now()
			limiter := getLimiter(limiterKey(r), now)

			reservation := limiter.ReserveN(now, 1)
			if !reservation.OK() {
				metrics.APIRateLimitHits.WithLabelValues(cfg.Scope).Inc()
				writeTooManyRequests(w, 0)
				return
			}
			if delay := reservation.DelayFrom(now); delay > 0 {
				reservation.CancelAt(now)
				metrics.APIRateLimitHits.WithLabelValues(cfg.Scope).Inc()
				writeTooManyRequests(w, int(delay.Seconds())+1)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.Burst))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(int(limiter.TokensAt(now))))
			next.ServeHTTP(w, r)
		})
	}
}

// limiterKey buckets requests by tenant when one is known.
func limiterKey(r *http.Request) string {
	if t, ok := domain.TenantFromContext(r.Context()); ok && t.TenantID != "" {
		return "tenant:" + t.TenantID
	}
	return "ip:" + clientIP(r)
}

// clientIP extracts the client IP address from the request, stripping the port.
// X-Forwarded-For is ignored so callers cannot spoof their way around the
// limit.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeTooManyRequests(w http.ResponseWriter, retryAfterSecs int) {
	if retryAfterSecs > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSecs))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"code":    http.StatusTooManyRequests,
		"message": "rate limit exceeded",
	})
}
