// Package openai implements the Provider boundary on any OpenAI-compatible chat completions API.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fairyhunter13/ecohealth-ai-gateway/internal/domain"
)

// ProviderName is the cascade prefix for this provider.
const ProviderName = "openai"

// Client sends the prompt as a single user message.
type Client struct {
	api *goopenai.Client
}

// New creates an OpenAI-compatible client against baseURL.
func New(apiKey, baseURL string, timeout time.Duration) *Client {
	cfg := goopenai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	cfg.HTTPClient = &http.Client{
		Timeout: timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport,
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return fmt.Sprintf("OpenAI %s %s", r.Method, r.URL.Host)
			}),
		),
	}
	return &Client{api: goopenai.NewClientWithConfig(cfg)}
}

// Name implements domain.Provider.
func (c *Client) Name() string { return ProviderName }

// Generate implements domain.Provider.
func (c *Client) Generate(ctx context.Context, model, prompt string) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model: model,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("op=openai.Generate model=%s: %w", model, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("op=openai.Generate model=%s: %w: empty choices", model, domain.ErrProviderFailure)
	}
	return resp.Choices[0].Message.Content, nil
}
