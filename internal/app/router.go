package app

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpserver "github.com/fairyhunter13/ecohealth-ai-gateway/internal/adapter/httpserver"
	"github.com/fairyhunter13/ecohealth-ai-gateway/internal/adapter/observability"
	"github.com/fairyhunter13/ecohealth-ai-gateway/internal/config"
	"github.com/fairyhunter13/ecohealth-ai-gateway/internal/service/ratelimiter"
)

// ParseOrigins splits a comma-separated origin list into a slice, trimming spaces.
// If the input is empty, returns ["*"].
func ParseOrigins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return []string{"*"}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// BuildRouter constructs the HTTP handler with all middlewares and routes.
//
// Every API route spends the general budget; chat and assistant calls also
// spend the chat budget and login spends the auth budget.
func BuildRouter(cfg config.Config, srv *httpserver.Server, limiter ratelimiter.Limiter) http.Handler {
	r := chi.NewRouter()
	r.Use(httpserver.Recoverer())
	r.Use(httpserver.TraceMiddleware)
	r.Use(httpserver.RequestID())
	r.Use(httpserver.TimeoutMiddleware(cfg.HandlerTimeout()))
	r.Use(httpserver.AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)
	r.Use(httpserver.MaxBody(cfg.MaxBodyKB * 1024))

	allowCreds := cfg.AdminEnabled() && ParseOrigins(cfg.CORSAllowOrigins)[0] != "*"
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   ParseOrigins(cfg.CORSAllowOrigins),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "RateLimit-Limit", "RateLimit-Remaining", "RateLimit-Reset", "Retry-After"},
		AllowCredentials: allowCreds,
		MaxAge:           300,
	}))

	r.Get("/healthz", srv.HealthzHandler())
	r.Get("/readyz", srv.ReadyzHandler())
	r.Handle("/metrics", promhttp.Handler())

	key := httpserver.ClientKey(cfg.RateLimitTrustProxy)
	r.Group(func(api chi.Router) {
		api.Use(httpserver.RateLimit(limiter, ratelimiter.ClassGeneral, key))

		api.Get("/chat/history", srv.HistoryHandler())
		api.Group(func(chat chi.Router) {
			chat.Use(httpserver.RateLimit(limiter, ratelimiter.ClassChat, key))
			chat.Post("/chat", srv.ChatHandler())
			chat.Post("/chat/{domain}", srv.ChatHandler())
			chat.Post("/assist/diagnosis", srv.DiagnosisHandler())
			chat.Post("/assist/carbon", srv.CarbonHandler())
			chat.Post("/assist/scan-report", srv.ScanReportHandler())
		})

		if cfg.AdminEnabled() {
			sessions := httpserver.NewSessionManager(cfg)
			api.With(httpserver.RateLimit(limiter, ratelimiter.ClassAuth, key)).Post("/auth/login", sessions.LoginHandler())
			api.Post("/auth/logout", sessions.LogoutHandler())
			api.With(sessions.AuthRequired).Get("/admin/intents", srv.IntentsHandler())
		}
	})

	return httpserver.SecurityHeaders(r)
}
