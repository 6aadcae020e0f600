package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"route", "method"},
	)

	AIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_requests_total",
			Help: "Provider calls by provider, model and outcome (success, error, empty, timeout, circuit_open, skipped)",
		},
		[]string{"provider", "model", "outcome"},
	)
	AIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ai_request_duration_seconds",
			Help:    "Provider call duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30},
		},
		[]string{"provider", "model"},
	)
	AIPromptTokens = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ai_prompt_tokens",
			Help:    "Prompt size in tokens per provider call",
			Buckets: prometheus.ExponentialBuckets(16, 2, 10),
		},
		[]string{"provider"},
	)
	CascadeExhaustedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ai_cascade_exhausted_total",
			Help: "Cascade invocations in which every model failed",
		},
	)
	CascadeAttempts = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ai_cascade_attempts",
			Help:    "Models attempted per cascade invocation",
			Buckets: []float64{1, 2, 3, 4, 5, 6, 8, 10, 12},
		},
	)
	StructuredOutputFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_structured_output_failures_total",
			Help: "Completions that held no valid JSON object, by caller",
		},
		[]string{"caller"},
	)

	FallbackResponsesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_fallback_responses_total",
			Help: "Canned replies substituted for live answers, by domain",
		},
		[]string{"domain"},
	)
	TurnsPersistedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_turns_persisted_total",
			Help: "Conversation turns appended to the log",
		},
		[]string{"domain", "sender"},
	)
	IntentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_intents_total",
			Help: "Classified intents of answered user messages",
		},
		[]string{"domain", "intent"},
	)
	RateLimitRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_rejections_total",
			Help: "Requests rejected by the rate limiter, by route class",
		},
		[]string{"class"},
	)
	RateLimitBackendErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rate_limit_backend_errors_total",
			Help: "Shared limiter store failures that fell back to the in-process limiter",
		},
	)
	TurnEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_turn_events_total",
			Help: "Turn analytics events handed to the broker, by outcome",
		},
		[]string{"outcome"},
	)
)

var registerOnce sync.Once

// InitMetrics registers all collectors with the default registry. Safe to call more than once.
func InitMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDuration,
			AIRequestsTotal,
			AIRequestDuration,
			AIPromptTokens,
			CascadeExhaustedTotal,
			CascadeAttempts,
			StructuredOutputFailuresTotal,
			FallbackResponsesTotal,
			TurnsPersistedTotal,
			IntentsTotal,
			RateLimitRejectionsTotal,
			RateLimitBackendErrorsTotal,
			TurnEventsTotal,
		)
	})
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		HTTPRequestsTotal.WithLabelValues(route, r.Method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(dur)
	})
}

// ObserveAIAttempt records one cascade attempt.
func ObserveAIAttempt(provider, model, outcome string, d time.Duration) {
	AIRequestsTotal.WithLabelValues(provider, model, outcome).Inc()
	if d > 0 {
		AIRequestDuration.WithLabelValues(provider, model).Observe(d.Seconds())
	}
}

// ObserveTurn records a persisted turn and, for bot turns, its intent and fallback status.
func ObserveTurn(domain, sender, intent string, synthetic bool) {
	TurnsPersistedTotal.WithLabelValues(domain, sender).Inc()
	if sender != "bot" {
		return
	}
	IntentsTotal.WithLabelValues(domain, intent).Inc()
	if synthetic {
		FallbackResponsesTotal.WithLabelValues(domain).Inc()
	}
}
