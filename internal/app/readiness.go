// Package app assembles the HTTP router and readiness checks from adapters.
package app

import (
	"context"

	httpserver "github.com/fairyhunter13/ecohealth-ai-gateway/internal/adapter/httpserver"
)

// Pinger is anything whose liveness can be checked.
type Pinger interface{ Ping(ctx context.Context) error }

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

// Ping implements Pinger.
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// BuildReadinessChecks returns one check per configured dependency; nil
// dependencies are not checked.
func BuildReadinessChecks(db, redis, kafka Pinger) []httpserver.ReadinessCheck {
	var checks []httpserver.ReadinessCheck
	add := func(name string, p Pinger) {
		if p == nil {
			return
		}
		checks = append(checks, httpserver.ReadinessCheck{Name: name, Check: p.Ping})
	}
	add("db", db)
	add("redis", redis)
	add("kafka", kafka)
	return checks
}
