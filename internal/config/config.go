// Package config defines configuration parsing and helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// DefaultGeminiModels is the cascade priority order used when CASCADE_MODELS is unset.
var DefaultGeminiModels = []string{
	"gemini-2.0-flash",
	"gemini-2.0-flash-lite",
	"gemini-2.5-flash",
	"gemini-2.5-pro",
	"gemini-exp-1206",
	"gemini-flash-latest",
	"gemini-pro-latest",
	"gemini-flash-lite-latest",
	"gemini-2.0-flash-001",
	"gemini-2.0-flash-lite-001",
}

// Config holds all application configuration parsed from environment variables.
type Config struct {
	AppEnv string `env:"APP_ENV" envDefault:"dev"`
	Port   int    `env:"PORT" envDefault:"8080"`
	// DBURL empty keeps the conversation log in memory.
	DBURL string `env:"DB_URL"`
	// RedisURL empty keeps rate-limit windows in process.
	RedisURL        string   `env:"REDIS_URL"`
	KafkaBrokers    []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTurnsTopic string   `env:"KAFKA_TURNS_TOPIC" envDefault:"chat-turns"`

	GeminiAPIKey        string `env:"GEMINI_API_KEY"`
	GeminiBaseURL       string `env:"GEMINI_BASE_URL" envDefault:"https://generativelanguage.googleapis.com/v1beta"`
	OpenAIAPIKey        string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL       string `env:"OPENAI_BASE_URL" envDefault:"https://api.openai.com/v1"`
	OpenAIFallbackModel string `env:"OPENAI_FALLBACK_MODEL" envDefault:"gpt-4o-mini"`
	// CascadeModels overrides the priority list. Entries may carry a provider
	// prefix ("openai:gpt-4o-mini"); bare ids go to Gemini.
	CascadeModels         []string      `env:"CASCADE_MODELS" envSeparator:","`
	ProviderTimeout       time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"30s"`
	CascadeDeadline       time.Duration `env:"CASCADE_DEADLINE" envDefault:"90s"`
	CascadeCircuitBreaker bool          `env:"CASCADE_CIRCUIT_BREAKER" envDefault:"false"`

	RateLimitGeneralMax    int           `env:"RATE_LIMIT_GENERAL_MAX" envDefault:"100"`
	RateLimitGeneralWindow time.Duration `env:"RATE_LIMIT_GENERAL_WINDOW" envDefault:"15m"`
	RateLimitChatMax       int           `env:"RATE_LIMIT_CHAT_MAX" envDefault:"20"`
	RateLimitChatWindow    time.Duration `env:"RATE_LIMIT_CHAT_WINDOW" envDefault:"1m"`
	RateLimitAuthMax       int           `env:"RATE_LIMIT_AUTH_MAX" envDefault:"5"`
	RateLimitAuthWindow    time.Duration `env:"RATE_LIMIT_AUTH_WINDOW" envDefault:"15m"`
	// RateLimitTrustProxy keys clients by X-Forwarded-For / X-Real-IP instead of RemoteAddr.
	RateLimitTrustProxy bool `env:"RATE_LIMIT_TRUST_PROXY" envDefault:"false"`

	ChatHistoryLimit  int    `env:"CHAT_HISTORY_LIMIT" envDefault:"100"`
	ChatAllowGeneral  bool   `env:"CHAT_ALLOW_GENERAL" envDefault:"false"`
	PromptCatalogPath string `env:"PROMPT_CATALOG_PATH"`

	AdminUsername      string `env:"ADMIN_USERNAME"`
	AdminPassword      string `env:"ADMIN_PASSWORD"`
	AdminPasswordHash  string `env:"ADMIN_PASSWORD_HASH"`
	AdminSessionSecret string `env:"ADMIN_SESSION_SECRET"`
	// AdminSessionSameSite controls the SameSite attribute for admin session cookies.
	// Valid values: Strict, Lax, None. Defaults to Strict.
	AdminSessionSameSite string `env:"ADMIN_SESSION_SAMESITE" envDefault:"Strict"`

	CORSAllowOrigins      string        `env:"CORS_ALLOW_ORIGINS" envDefault:"*"`
	MaxBodyKB             int64         `env:"MAX_BODY_KB" envDefault:"64"`
	ServerShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	HTTPReadTimeout       time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	// Chat requests may walk the whole cascade, so the write timeout sits above CASCADE_DEADLINE.
	HTTPWriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"120s"`
	HTTPIdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`

	OTLPEndpoint    string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`
	OTELServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"ecohealth-ai-gateway"`
}

// AdminEnabled returns true if admin features should be enabled
func (c Config) AdminEnabled() bool {
	return c.AdminUsername != "" && (c.AdminPassword != "" || c.AdminPasswordHash != "") && c.AdminSessionSecret != ""
}

// FallbackOnly reports whether no provider key is configured; the cascade is skipped entirely.
func (c Config) FallbackOnly() bool {
	return strings.TrimSpace(c.GeminiAPIKey) == "" && strings.TrimSpace(c.OpenAIAPIKey) == ""
}

// EventsEnabled reports whether turn events should be published.
func (c Config) EventsEnabled() bool {
	for _, b := range c.KafkaBrokers {
		if strings.TrimSpace(b) != "" {
			return true
		}
	}
	return false
}

// HandlerTimeout bounds request handling so the timeout body is written before
// the server's WriteTimeout closes the connection. Zero disables it.
func (c Config) HandlerTimeout() time.Duration {
	if c.HTTPWriteTimeout <= 0 {
		return 0
	}
	margin := 5 * time.Second
	if tenth := c.HTTPWriteTimeout / 10; tenth < margin {
		margin = tenth
	}
	return c.HTTPWriteTimeout - margin
}

// Models returns the configured cascade in priority order. Models whose
// provider has no API key are dropped.
func (c Config) Models() []string {
	src := c.CascadeModels
	if len(src) == 0 {
		src = append([]string{}, DefaultGeminiModels...)
		if c.OpenAIFallbackModel != "" {
			src = append(src, "openai:"+c.OpenAIFallbackModel)
		}
	}
	out := make([]string, 0, len(src))
	for _, m := range src {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		provider := "gemini"
		if i := strings.Index(m, ":"); i > 0 {
			provider = strings.ToLower(m[:i])
		}
		switch provider {
		case "gemini":
			if c.GeminiAPIKey == "" {
				continue
			}
		case "openai":
			if c.OpenAIAPIKey == "" {
				continue
			}
		default:
			continue
		}
		out = append(out, m)
	}
	return out
}

// Load parses environment variables into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("op=config.Load: %w", err)
	}
	if cfg.ChatHistoryLimit <= 0 || cfg.ChatHistoryLimit > 100 {
		cfg.ChatHistoryLimit = 100
	}
	return cfg, nil
}

// IsDev reports whether the app is running in development mode.
func (c Config) IsDev() bool { return strings.ToLower(c.AppEnv) == "dev" }

// IsProd reports whether the app is running in production mode.
func (c Config) IsProd() bool { return strings.ToLower(c.AppEnv) == "prod" }

// IsTest reports whether the app is running in test mode.
func (c Config) IsTest() bool { return strings.ToLower(c.AppEnv) == "test" }
