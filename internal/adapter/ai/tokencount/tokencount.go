// Package tokencount estimates prompt and completion sizes for the model cascade.
//
// Gemini does not publish a local tokenizer, so counts use OpenAI's cl100k_base
// BPE as an approximation. The BPE tables are compiled in through the offline
// loader; nothing is fetched at runtime.
package tokencount

import (
	"log/slog"
	"strings"
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

func init() {
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
}

const fallbackEncoding = "cl100k_base"

// Usage is the token footprint of one completed provider call.
type Usage struct {
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
	Model            string `json:"model"`
	Provider         string `json:"provider"`
	Estimated        bool   `json:"estimated"`
}

// Counter caches encodings per normalized model name. Safe for concurrent use.
type Counter struct {
	mu            sync.RWMutex
	encodingCache map[string]*tiktoken.Tiktoken
}

// NewCounter creates a new token counter instance.
func NewCounter() *Counter {
	return &Counter{encodingCache: make(map[string]*tiktoken.Tiktoken)}
}

// DefaultCounter is shared by the providers.
var DefaultCounter = NewCounter()

func (c *Counter) encodingFor(model string) (*tiktoken.Tiktoken, error) {
	name := normalizeModelName(model)

	c.mu.RLock()
	if enc, ok := c.encodingCache[name]; ok {
		c.mu.RUnlock()
		return enc, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if enc, ok := c.encodingCache[name]; ok {
		return enc, nil
	}

	enc, err := tiktoken.EncodingForModel(name)
	if err != nil {
		slog.Debug("falling back to cl100k_base encoding",
			slog.String("model", model),
			slog.String("normalized", name),
			slog.Any("error", err))
		enc, err = tiktoken.GetEncoding(fallbackEncoding)
		if err != nil {
			return nil, err
		}
	}
	c.encodingCache[name] = enc
	return enc, nil
}

// normalizeModelName strips cascade provider prefixes ("openai:gpt-4o-mini")
// and maps model families onto names tiktoken knows.
func normalizeModelName(model string) string {
	model = strings.ToLower(strings.TrimSpace(model))
	if i := strings.Index(model, ":"); i >= 0 {
		model = model[i+1:]
	}
	if i := strings.LastIndex(model, "/"); i >= 0 {
		model = model[i+1:]
	}
	switch {
	case strings.HasPrefix(model, "gpt-4o"):
		return "gpt-4o"
	case strings.Contains(model, "gpt-3.5"):
		return "gpt-3.5-turbo"
	default:
		// gemini and everything else: cl100k_base approximation
		return "gpt-4"
	}
}

// CountTokens counts tokens in text as seen by model.
func (c *Counter) CountTokens(text, model string) (int, error) {
	enc, err := c.encodingFor(model)
	if err != nil {
		return 0, err
	}
	return len(enc.Encode(text, nil, nil)), nil
}

// Estimate never fails; it falls back to ~4 characters per token.
func (c *Counter) Estimate(text, model string) (int, bool) {
	n, err := c.CountTokens(text, model)
	if err != nil {
		slog.Warn("failed to count tokens, using estimate",
			slog.String("model", model),
			slog.Any("error", err))
		return len(text) / 4, true
	}
	return n, false
}

// Usage measures a single-message prompt and its completion.
func (c *Counter) Usage(prompt, completion, model, provider string) Usage {
	p, pe := c.Estimate(prompt, model)
	o, oe := c.Estimate(completion, model)
	return Usage{
		PromptTokens:     p,
		CompletionTokens: o,
		TotalTokens:      p + o,
		Model:            model,
		Provider:         provider,
		Estimated:        pe || oe,
	}
}
