// Package gemini implements the Provider boundary on the Gemini generateContent REST API.
package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fairyhunter13/ecohealth-ai-gateway/internal/adapter/observability"
	"github.com/fairyhunter13/ecohealth-ai-gateway/internal/domain"
)

// ProviderName is the cascade prefix for this provider.
const ProviderName = "gemini"

const maxErrorSnippet = 512

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Client calls models/{model}:generateContent with an API key header.
type Client struct {
	rc *resty.Client
}

// New creates a Gemini client. timeout is a transport-level ceiling; the
// cascade applies its own per-attempt bound through the request context.
func New(apiKey, baseURL string, timeout time.Duration) *Client {
	transport := otelhttp.NewTransport(http.DefaultTransport,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return fmt.Sprintf("Gemini %s %s", r.Method, r.URL.Host)
		}),
	)
	rc := resty.New().
		SetTransport(transport).
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("x-goog-api-key", apiKey).
		SetHeader("Content-Type", "application/json")
	if timeout > 0 {
		rc.SetTimeout(timeout)
	}
	return &Client{rc: rc}
}

// Name implements domain.Provider.
func (c *Client) Name() string { return ProviderName }

// Generate implements domain.Provider. The prompt is sent as a single user turn.
func (c *Client) Generate(ctx context.Context, model, prompt string) (string, error) {
	var out generateResponse
	var apiErr apiError
	resp, err := c.rc.R().
		SetContext(ctx).
		SetPathParam("model", model).
		SetBody(generateRequest{Contents: []content{{Role: "user", Parts: []part{{Text: prompt}}}}}).
		SetResult(&out).
		SetError(&apiErr).
		Post("/models/{model}:generateContent")
	if err != nil {
		return "", fmt.Errorf("op=gemini.Generate model=%s: %w", model, err)
	}
	if resp.IsError() {
		msg := apiErr.Error.Message
		if msg == "" {
			msg = resp.String()
		}
		if len(msg) > maxErrorSnippet {
			msg = msg[:maxErrorSnippet]
		}
		observability.LoggerFromContext(ctx).Debug("gemini error response",
			slog.String("model", model),
			slog.Int("status", resp.StatusCode()),
			slog.String("api_status", apiErr.Error.Status))
		return "", fmt.Errorf("op=gemini.Generate model=%s status=%d: %s", model, resp.StatusCode(), msg)
	}
	if out.PromptFeedback.BlockReason != "" {
		return "", fmt.Errorf("op=gemini.Generate model=%s: %w: prompt blocked (%s)", model, domain.ErrProviderFailure, out.PromptFeedback.BlockReason)
	}
	if len(out.Candidates) == 0 {
		return "", fmt.Errorf("op=gemini.Generate model=%s: %w: no candidates", model, domain.ErrProviderFailure)
	}
	var b strings.Builder
	for _, p := range out.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	return b.String(), nil
}
