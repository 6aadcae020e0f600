// Package ratelimiter enforces independent fixed-window budgets per route
// class and client key.
package ratelimiter

import (
	"context"
	"fmt"
	"time"

	"github.com/fairyhunter13/ecohealth-ai-gateway/internal/config"
	"github.com/fairyhunter13/ecohealth-ai-gateway/internal/domain"
)

// RouteClass names an independent traffic budget.
type RouteClass string

const (
	ClassGeneral RouteClass = "general"
	ClassChat    RouteClass = "chat"
	ClassAuth    RouteClass = "auth"
)

// Policy is the budget of one route class: at most Max admissions per Window.
type Policy struct {
	Max     int
	Window  time.Duration
	Message string
}

// Policies maps each route class to its budget.
type Policies map[RouteClass]Policy

// DefaultPolicies returns general 100/15m, chat 20/1m and auth 5/15m.
func DefaultPolicies() Policies {
	return Policies{
		ClassGeneral: {Max: 100, Window: 15 * time.Minute, Message: "Too many requests from this IP, please try again after 15 minutes"},
		ClassChat:    {Max: 20, Window: time.Minute, Message: "Too many messages. Please wait a moment before sending more."},
		ClassAuth:    {Max: 5, Window: 15 * time.Minute, Message: "Too many login attempts. Please try again after 15 minutes."},
	}
}

// PoliciesFromConfig applies configured budgets over the defaults.
func PoliciesFromConfig(cfg config.Config) Policies {
	p := DefaultPolicies()
	set := func(c RouteClass, max int, window time.Duration) {
		cur := p[c]
		if max > 0 {
			cur.Max = max
		}
		if window > 0 {
			cur.Window = window
		}
		p[c] = cur
	}
	set(ClassGeneral, cfg.RateLimitGeneralMax, cfg.RateLimitGeneralWindow)
	set(ClassChat, cfg.RateLimitChatMax, cfg.RateLimitChatWindow)
	set(ClassAuth, cfg.RateLimitAuthMax, cfg.RateLimitAuthWindow)
	return p
}

func (p Policies) lookup(c RouteClass) (Policy, error) {
	pol, ok := p[c]
	if !ok || pol.Max <= 0 || pol.Window <= 0 {
		return Policy{}, fmt.Errorf("%w: no rate limit policy for class %q", domain.ErrInvalidArgument, c)
	}
	return pol, nil
}

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
	Message    string
}

// Limiter admits or rejects a request for (class, key). Check and increment
// are one atomic step; rejected requests are not counted.
type Limiter interface {
	Admit(ctx context.Context, class RouteClass, key string) (Decision, error)
}
