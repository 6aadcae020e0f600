// Command server starts the EcoHealth conversational gateway.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	ai "github.com/fairyhunter13/ecohealth-ai-gateway/internal/adapter/ai"
	"github.com/fairyhunter13/ecohealth-ai-gateway/internal/adapter/ai/gemini"
	"github.com/fairyhunter13/ecohealth-ai-gateway/internal/adapter/ai/openai"
	"github.com/fairyhunter13/ecohealth-ai-gateway/internal/adapter/ai/tokencount"
	httpserver "github.com/fairyhunter13/ecohealth-ai-gateway/internal/adapter/httpserver"
	"github.com/fairyhunter13/ecohealth-ai-gateway/internal/adapter/observability"
	"github.com/fairyhunter13/ecohealth-ai-gateway/internal/adapter/queue/redpanda"
	"github.com/fairyhunter13/ecohealth-ai-gateway/internal/adapter/repo/memory"
	"github.com/fairyhunter13/ecohealth-ai-gateway/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/ecohealth-ai-gateway/internal/app"
	"github.com/fairyhunter13/ecohealth-ai-gateway/internal/config"
	"github.com/fairyhunter13/ecohealth-ai-gateway/internal/domain"
	"github.com/fairyhunter13/ecohealth-ai-gateway/internal/knowledge"
	"github.com/fairyhunter13/ecohealth-ai-gateway/internal/service/ratelimiter"
	"github.com/fairyhunter13/ecohealth-ai-gateway/internal/usecase"
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx := context.Background()

	catalog := knowledge.Default()
	if cfg.PromptCatalogPath != "" {
		catalog, err = knowledge.Load(cfg.PromptCatalogPath)
		if err != nil {
			slog.Error("prompt catalog load failed", slog.String("path", cfg.PromptCatalogPath), slog.Any("error", err))
			os.Exit(1)
		}
	}

	// Conversation log
	var (
		turns  domain.TurnRepository
		dbPing app.Pinger
	)
	if cfg.DBURL != "" {
		pool, err := postgres.NewPool(ctx, cfg.DBURL)
		if err != nil {
			slog.Error("db connect failed", slog.Any("error", err))
			os.Exit(1)
		}
		defer pool.Close()
		repo := postgres.NewTurnRepo(pool)
		if err := repo.EnsureSchema(ctx); err != nil {
			slog.Error("db schema failed", slog.Any("error", err))
			os.Exit(1)
		}
		turns, dbPing = repo, repo
	} else {
		slog.Warn("DB_URL not set, conversation log is kept in memory")
		repo := memory.NewTurnRepo()
		turns, dbPing = repo, repo
	}

	// Rate limiting
	policies := ratelimiter.PoliciesFromConfig(cfg)
	var (
		limiter   ratelimiter.Limiter = ratelimiter.NewMemoryLimiter(policies)
		redisPing app.Pinger
	)
	if cfg.RedisURL != "" {
		rdb, err := ratelimiter.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			slog.Warn("redis unavailable, rate limits are per instance", slog.Any("error", err))
		} else {
			defer func() { _ = rdb.Close() }()
			limiter = ratelimiter.NewRedisLimiter(rdb, policies)
			redisPing = app.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
		}
	}

	// Model cascade
	cascade, breakers, err := buildCascade(cfg)
	if err != nil {
		slog.Error("cascade setup failed", slog.Any("error", err))
		os.Exit(1)
	}

	// Turn events
	chatOpts := []usecase.ChatOption{
		usecase.WithGeneralDomain(cfg.ChatAllowGeneral),
		usecase.WithHistoryLimit(cfg.ChatHistoryLimit),
	}
	var kafkaPing app.Pinger
	if cfg.EventsEnabled() {
		producer, err := redpanda.NewProducer(ctx, cfg.KafkaBrokers, cfg.KafkaTurnsTopic)
		if err != nil {
			slog.Error("redpanda producer setup failed", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := producer.Close(flushCtx); err != nil {
				slog.Error("failed to close turn producer", slog.Any("error", err))
			}
		}()
		chatOpts = append(chatOpts, usecase.WithEvents(producer))
		kafkaPing = producer
	}

	chatSvc := usecase.NewChatService(turns, cascade, catalog, chatOpts...)
	assistSvc := usecase.NewAssistService(cascade, catalog)

	srv := httpserver.NewServer(cfg, chatSvc, assistSvc, app.BuildReadinessChecks(dbPing, redisPing, kafkaPing)...)
	if breakers != nil {
		srv.Breakers = breakers
	}
	handler := app.BuildRouter(cfg, srv, limiter)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting",
			slog.Int("port", cfg.Port),
			slog.Bool("fallback_only", cascade == nil),
			slog.Bool("admin", cfg.AdminEnabled()),
			slog.Bool("events", cfg.EventsEnabled()))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
}

// buildCascade returns nil when no provider key is configured; every chat
// reply is then the domain's canned fallback. The breaker manager is nil
// unless circuit breaking is enabled.
func buildCascade(cfg config.Config) (usecase.Cascade, *ai.CircuitBreakerManager, error) {
	if cfg.FallbackOnly() {
		slog.Warn("no provider API key configured, running in fallback-only mode")
		return nil, nil, nil
	}
	var providers []domain.Provider
	if cfg.GeminiAPIKey != "" {
		providers = append(providers, gemini.New(cfg.GeminiAPIKey, cfg.GeminiBaseURL, cfg.ProviderTimeout))
	}
	if cfg.OpenAIAPIKey != "" {
		providers = append(providers, openai.New(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.ProviderTimeout))
	}
	router, err := ai.NewRouter(providers[0], providers[1:]...)
	if err != nil {
		return nil, nil, err
	}

	opts := []ai.InvokerOption{
		ai.WithAttemptTimeout(cfg.ProviderTimeout),
		ai.WithCascadeDeadline(cfg.CascadeDeadline),
		ai.WithTokenCounter(tokencount.NewCounter()),
	}
	var breakers *ai.CircuitBreakerManager
	if cfg.CascadeCircuitBreaker {
		breakers = ai.NewCircuitBreakerManager()
		opts = append(opts, ai.WithCircuitBreakers(breakers))
	}
	models := cfg.Models()
	inv, err := ai.NewInvoker(router, models, opts...)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("model cascade ready", slog.Any("models", models), slog.Bool("circuit_breaker", breakers != nil))
	return inv, breakers, nil
}
