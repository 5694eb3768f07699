package api

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/pixelkit/internal/domain"
)

// withRateLimit charges one token per mutating request to the caller's
// bucket. Reads are free. Limiter errors fail open.
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	if s.rateLimiter == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !shouldRateLimit(r) {
			next.ServeHTTP(w, r)
			return
		}

		subject := rateLimitSubject(r)
		decision, err := s.rateLimiter.Allow(r.Context(), subject, 1)
		if err != nil {
			s.requestLogger(r).Warn().Err(err).Str("subject", subject).Msg("rate limiter check failed")
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
		if decision.Allowed {
			next.ServeHTTP(w, r)
			return
		}

		retryAfter := max(1, int(decision.RetryAfter.Round(time.Second).Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		s.metrics.rateLimitRejected.WithLabelValues(r.Method).Inc()
		writeFailureStatus(w, http.StatusTooManyRequests, domain.KindPermissionDenied, "rate limit exceeded")
	})
}

func shouldRateLimit(r *http.Request) bool {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	default:
		return true
	}
}

// rateLimitSubject prefers the caller's user id and falls back to the client
// address, which RealIP has already resolved.
func rateLimitSubject(r *http.Request) string {
	if user := strings.TrimSpace(r.Header.Get(UserIDHeader)); user != "" {
		return "user:" + user
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if host == "" {
		return "anonymous"
	}
	return "ip:" + host
}
