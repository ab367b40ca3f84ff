package middleware

import (
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/technosupport/ts-roadwatch/internal/ratelimit"
)

// RateLimitMiddleware bounds incident submissions per source IP. Ingestion
// must never depend on Redis availability, so every limiter failure fails
// open: a hub that cannot count requests still accepts incidents.
type RateLimitMiddleware struct {
	limiter *ratelimit.Limiter
	config  func() ratelimit.LimitConfig // provider, so config reloads apply per request
}

func NewRateLimitMiddleware(l *ratelimit.Limiter, cfg func() ratelimit.LimitConfig) *RateLimitMiddleware {
	return &RateLimitMiddleware{limiter: l, config: cfg}
}

func (m *RateLimitMiddleware) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cfg := m.config()
		if m.limiter == nil || cfg.Rate <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		ip := strings.Split(r.RemoteAddr, ":")[0]
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			ip = strings.TrimSpace(strings.Split(xff, ",")[0])
		}

		key := fmt.Sprintf("rl:ip:%s", m.limiter.HashIP(ip))
		decision, err := m.limiter.CheckRateLimit(r.Context(), key, cfg)
		if err != nil {
			log.Printf("RateLimit check failed (fail open): %v", err)
			next.ServeHTTP(w, r)
			return
		}

		writeRateLimitHeaders(w, decision)
		if !decision.Allowed {
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeRateLimitHeaders(w http.ResponseWriter, d *ratelimit.Decision) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	if !d.Allowed {
		w.Header().Set("Retry-After", strconv.Itoa(d.RetryAfter))
	}
}
