package httpserver

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"

	"github.com/fairyhunter13/ecohealth-ai-gateway/internal/adapter/observability"
	"github.com/fairyhunter13/ecohealth-ai-gateway/internal/service/ratelimiter"
)

// ClientKey derives the rate-limit identity of a request. With trustProxy
// the first X-Forwarded-For / X-Real-IP / True-Client-IP address wins;
// otherwise only the socket address is used.
func ClientKey(trustProxy bool) httprate.KeyFunc {
	if trustProxy {
		return httprate.KeyByRealIP
	}
	return httprate.KeyByIP
}

// RateLimit admits requests against class's budget. Every response carries
// RateLimit-Limit, RateLimit-Remaining and RateLimit-Reset (seconds);
// rejections add Retry-After and a 429 body with the class's message.
func RateLimit(l ratelimiter.Limiter, class ratelimiter.RouteClass, key httprate.KeyFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k, err := key(r)
			if err != nil || k == "" {
				k = r.RemoteAddr
			}
			d, err := l.Admit(r.Context(), class, k)
			if err != nil {
				writeError(w, r, err, nil)
				return
			}
			reset := time.Until(d.ResetAt)
			h := w.Header()
			h.Set("RateLimit-Limit", strconv.Itoa(d.Limit))
			h.Set("RateLimit-Remaining", strconv.Itoa(d.Remaining))
			h.Set("RateLimit-Reset", strconv.Itoa(ceilSeconds(reset)))
			if !d.Allowed {
				observability.RateLimitRejectionsTotal.WithLabelValues(string(class)).Inc()
				LoggerFrom(r).Warn("rate limit exceeded", slog.String("class", string(class)), slog.Duration("retry_after", d.RetryAfter))
				h.Set("Retry-After", strconv.Itoa(ceilSeconds(d.RetryAfter)))
				writeJSON(w, http.StatusTooManyRequests, errorBody{
					Error:   d.Message,
					Code:    "RATE_LIMITED",
					Details: map[string]any{"retryAfterSeconds": ceilSeconds(d.RetryAfter)},
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}
