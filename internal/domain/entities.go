// Package domain holds the conversation gateway's core types, ports and error taxonomy.
package domain

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrNotFound           = errors.New("not found")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrRateLimited        = errors.New("rate limited")
	ErrProviderFailure    = errors.New("provider failure")
	ErrAllModelsExhausted = errors.New("all models exhausted")
	ErrSchemaInvalid      = errors.New("invalid structured output")
	ErrPersistence        = errors.New("persistence unavailable")
	ErrInternal           = errors.New("internal error")
)

// Domain selects persona, prompt template, intent rules and canned fallback.
type Domain string

const (
	DomainAgriculture Domain = "agriculture"
	DomainHealthcare  Domain = "healthcare"
	DomainEnvironment Domain = "environment"
	DomainGeneral     Domain = "general"
)

// ChatDomains are the business verticals accepted by the chat endpoint.
var ChatDomains = []Domain{DomainAgriculture, DomainHealthcare, DomainEnvironment}

// ParseDomain normalizes s and reports whether it names a known domain
// (including general).
func ParseDomain(s string) (Domain, bool) {
	d := Domain(strings.ToLower(strings.TrimSpace(s)))
	switch d {
	case DomainAgriculture, DomainHealthcare, DomainEnvironment, DomainGeneral:
		return d, true
	}
	return "", false
}

// IsChatDomain reports whether d is one of the three business verticals.
func (d Domain) IsChatDomain() bool {
	for _, c := range ChatDomains {
		if d == c {
			return true
		}
	}
	return false
}

// Sender enumerates who authored a turn.
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// Message length bounds, counted in characters (runes).
const (
	MinMessageLen = 1
	MaxMessageLen = 1000
)

// Turn is one immutable entry of the conversation log.
// Invariants: Text is 1..1000 characters; Intent is set only on bot turns;
// every bot turn follows a user turn of the same session and domain.
type Turn struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Sender    Sender    `json:"sender"`
	SessionID string    `json:"sessionId,omitempty"`
	Domain    Domain    `json:"domain"`
	Intent    string    `json:"intent,omitempty"`
	Synthetic bool      `json:"synthetic,omitempty"`
	Model     string    `json:"model,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// HistoryQuery filters the conversation log. Empty fields match everything.
type HistoryQuery struct {
	SessionID string
	Domain    Domain
	Limit     int
}

// IntentCount is one row of intent analytics.
type IntentCount struct {
	Domain Domain `json:"domain"`
	Intent string `json:"intent"`
	Count  int64  `json:"count"`
}

// TurnRepository is the append/query store for conversation turns (port).
type TurnRepository interface {
	Append(ctx Context, t Turn) (Turn, error)
	History(ctx Context, q HistoryQuery) ([]Turn, error)
	IntentCounts(ctx Context, d Domain) ([]IntentCount, error)
}

// Provider is the generative completion boundary (port).
// Generate submits prompt to model and returns its text or fails.
type Provider interface {
	Name() string
	Generate(ctx Context, model, prompt string) (string, error)
}

// TurnEvent is published for analytics after a bot turn is persisted.
type TurnEvent struct {
	TurnID    string        `json:"turn_id"`
	SessionID string        `json:"session_id,omitempty"`
	Domain    Domain        `json:"domain"`
	Intent    string        `json:"intent"`
	Synthetic bool          `json:"synthetic"`
	Model     string        `json:"model,omitempty"`
	Latency   time.Duration `json:"latency_ns"`
	CreatedAt time.Time     `json:"created_at"`
}

// EventPublisher receives turn analytics events (port). Implementations must not block.
type EventPublisher interface {
	PublishTurn(ctx Context, evt TurnEvent)
}

// Context is an alias to context.Context so ports read uniformly across adapters.
type Context = context.Context
