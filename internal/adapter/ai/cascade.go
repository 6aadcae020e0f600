// Package ai implements the model cascade, provider routing and structured
// output extraction used by the conversation gateway.
package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/fairyhunter13/ecohealth-ai-gateway/internal/adapter/ai/tokencount"
	"github.com/fairyhunter13/ecohealth-ai-gateway/internal/adapter/observability"
	"github.com/fairyhunter13/ecohealth-ai-gateway/internal/domain"
)

// Attempt outcomes.
const (
	OutcomeSuccess     = "success"
	OutcomeError       = "error"
	OutcomeEmpty       = "empty"
	OutcomeTimeout     = "timeout"
	OutcomeCircuitOpen = "circuit_open"
	OutcomeSkipped     = "skipped"
)

// ErrEmptyCompletion is recorded when a provider returns only whitespace.
var ErrEmptyCompletion = errors.New("empty completion")

// ErrCascadeDeadline is recorded for models never tried because the cascade deadline passed.
var ErrCascadeDeadline = errors.New("cascade deadline exceeded")

// ErrCircuitOpen is recorded for models skipped by their circuit breaker.
var ErrCircuitOpen = errors.New("circuit open")

// Attempt is the ephemeral record of one model tried by the cascade.
type Attempt struct {
	Model    string
	Outcome  string
	Err      error
	Duration time.Duration
	// Usage is set on a successful attempt when a token counter is configured.
	Usage *tokencount.Usage
}

// Result is a successful cascade run: the winning model and the attempts that led to it.
type Result struct {
	Text     string
	Model    string
	Attempts []Attempt
}

// ExhaustedError is returned when every configured model failed.
type ExhaustedError struct {
	Attempts []Attempt
}

func (e *ExhaustedError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", a.Model, a.Err))
	}
	return fmt.Sprintf("all %d models exhausted [%s]", len(e.Attempts), strings.Join(parts, "; "))
}

// Is lets callers match with errors.Is(err, domain.ErrAllModelsExhausted).
func (e *ExhaustedError) Is(target error) bool {
	return target == domain.ErrAllModelsExhausted
}

// Invoker is a first-success cascade over an ordered model list. Each model
// is tried at most once per Invoke; the first non-empty completion wins.
type Invoker struct {
	provider domain.Provider
	models   []string
	timeout  time.Duration
	deadline time.Duration
	breakers *CircuitBreakerManager
	counter  *tokencount.Counter
}

// InvokerOption customizes an Invoker.
type InvokerOption func(*Invoker)

// WithAttemptTimeout bounds every provider call. Zero disables the bound.
func WithAttemptTimeout(d time.Duration) InvokerOption {
	return func(i *Invoker) { i.timeout = d }
}

// WithCascadeDeadline bounds the whole invocation. Zero disables it.
func WithCascadeDeadline(d time.Duration) InvokerOption {
	return func(i *Invoker) { i.deadline = d }
}

// WithCircuitBreakers skips models with repeated recent failures.
func WithCircuitBreakers(m *CircuitBreakerManager) InvokerOption {
	return func(i *Invoker) { i.breakers = m }
}

// WithTokenCounter records prompt sizes per attempt and token usage of the
// winning one.
func WithTokenCounter(c *tokencount.Counter) InvokerOption {
	return func(i *Invoker) { i.counter = c }
}

// NewInvoker builds a cascade over models in the given priority order.
func NewInvoker(p domain.Provider, models []string, opts ...InvokerOption) (*Invoker, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: provider is nil", domain.ErrInvalidArgument)
	}
	if len(models) == 0 {
		return nil, fmt.Errorf("%w: cascade needs at least one model", domain.ErrInvalidArgument)
	}
	inv := &Invoker{
		provider: p,
		models:   append([]string(nil), models...),
		timeout:  30 * time.Second,
	}
	for _, o := range opts {
		o(inv)
	}
	return inv, nil
}

// Models returns the cascade order.
func (inv *Invoker) Models() []string { return append([]string(nil), inv.models...) }

// Invoke runs the cascade for prompt.
//
// Provider calls run on a context detached from ctx cancellation, bounded by
// the attempt timeout, so an aborted request lets the in-flight call finish.
// ctx is checked before every attempt; once it is done no further model is
// tried and ctx.Err() is returned.
func (inv *Invoker) Invoke(ctx context.Context, prompt string) (Result, error) {
	tracer := otel.Tracer("ai.cascade")
	ctx, span := tracer.Start(ctx, "cascade.Invoke")
	defer span.End()
	lg := observability.LoggerFromContext(ctx)

	var cutoff time.Time
	if inv.deadline > 0 {
		cutoff = time.Now().Add(inv.deadline)
	}
	attempts := make([]Attempt, 0, len(inv.models))
	for i, model := range inv.models {
		if err := ctx.Err(); err != nil {
			span.SetStatus(codes.Error, "caller cancelled")
			lg.Info("cascade stopped by caller", slog.Int("attempted", len(attempts)), slog.Any("error", err))
			return Result{Attempts: attempts}, fmt.Errorf("op=cascade.Invoke: %w", err)
		}
		if !cutoff.IsZero() && !time.Now().Before(cutoff) {
			for _, m := range inv.models[i:] {
				attempts = append(attempts, Attempt{Model: m, Outcome: OutcomeSkipped, Err: ErrCascadeDeadline})
				observability.ObserveAIAttempt(providerOf(m, inv.provider), m, OutcomeSkipped, 0)
			}
			lg.Warn("cascade deadline reached", slog.Duration("deadline", inv.deadline), slog.Int("skipped", len(inv.models)-i))
			break
		}

		var br *CircuitBreaker
		if inv.breakers != nil {
			br = inv.breakers.GetBreaker(model)
			if !br.ShouldAttempt() {
				attempts = append(attempts, Attempt{Model: model, Outcome: OutcomeCircuitOpen, Err: ErrCircuitOpen})
				observability.ObserveAIAttempt(providerOf(model, inv.provider), model, OutcomeCircuitOpen, 0)
				lg.Debug("cascade attempt skipped", slog.String("model", model), slog.String("outcome", OutcomeCircuitOpen))
				continue
			}
		}

		a, text := inv.attempt(ctx, model, prompt, cutoff)
		attempts = append(attempts, a)
		if br != nil {
			if a.Err == nil {
				br.RecordSuccess()
			} else {
				br.RecordFailure()
			}
		}

		if a.Err == nil {
			attrs := []any{
				slog.String("model", model),
				slog.Int("attempt", i+1),
				slog.Duration("duration", a.Duration),
			}
			if a.Usage != nil {
				attrs = append(attrs, slog.Group("usage",
					slog.Int("prompt_tokens", a.Usage.PromptTokens),
					slog.Int("completion_tokens", a.Usage.CompletionTokens),
					slog.Bool("estimated", a.Usage.Estimated)))
			}
			lg.Info("cascade attempt succeeded", attrs...)
			observability.CascadeAttempts.Observe(float64(len(attempts)))
			span.SetAttributes(attribute.String("ai.model", model), attribute.Int("ai.attempts", len(attempts)))
			return Result{Text: text, Model: model, Attempts: attempts}, nil
		}
		lg.Warn("cascade attempt failed",
			slog.String("model", model),
			slog.Int("attempt", i+1),
			slog.String("outcome", a.Outcome),
			slog.Duration("duration", a.Duration),
			slog.Any("error", a.Err))
	}

	observability.CascadeExhaustedTotal.Inc()
	observability.CascadeAttempts.Observe(float64(len(attempts)))
	exhausted := &ExhaustedError{Attempts: attempts}
	span.RecordError(exhausted)
	span.SetStatus(codes.Error, "all models exhausted")
	lg.Error("cascade exhausted", slog.Int("models", len(inv.models)), slog.Any("error", exhausted))
	return Result{Attempts: attempts}, exhausted
}

func (inv *Invoker) attempt(ctx context.Context, model, prompt string, cutoff time.Time) (Attempt, string) {
	provider := providerOf(model, inv.provider)
	ctx, span := otel.Tracer("ai.cascade").Start(ctx, "cascade.attempt")
	span.SetAttributes(attribute.String("ai.model", model), attribute.String("ai.provider", provider))
	defer span.End()

	callCtx := context.WithoutCancel(ctx)
	timeout := inv.timeout
	if !cutoff.IsZero() {
		if left := time.Until(cutoff); timeout <= 0 || left < timeout {
			timeout = left
		}
	}
	var cancel context.CancelFunc = func() {}
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(callCtx, timeout)
	}
	defer cancel()

	start := time.Now()
	text, err := inv.provider.Generate(callCtx, model, prompt)
	a := Attempt{Model: model, Duration: time.Since(start)}
	switch {
	case err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded):
		a.Outcome, a.Err = OutcomeTimeout, fmt.Errorf("%w: %v", domain.ErrProviderFailure, err)
	case err != nil:
		a.Outcome, a.Err = OutcomeError, fmt.Errorf("%w: %v", domain.ErrProviderFailure, err)
	case strings.TrimSpace(text) == "":
		a.Outcome, a.Err = OutcomeEmpty, fmt.Errorf("%w: %w", domain.ErrProviderFailure, ErrEmptyCompletion)
	default:
		a.Outcome = OutcomeSuccess
	}
	observability.ObserveAIAttempt(provider, model, a.Outcome, a.Duration)
	if inv.counter != nil {
		completion := ""
		if a.Err == nil {
			completion = text
		}
		u := inv.counter.Usage(prompt, completion, model, provider)
		if u.PromptTokens > 0 {
			observability.AIPromptTokens.WithLabelValues(provider).Observe(float64(u.PromptTokens))
		}
		if a.Err == nil {
			a.Usage = &u
			span.SetAttributes(attribute.Int("ai.tokens.total", u.TotalTokens))
		}
	}
	if a.Err != nil {
		span.RecordError(a.Err)
		span.SetStatus(codes.Error, a.Outcome)
		return a, ""
	}
	return a, text
}

func providerOf(model string, p domain.Provider) string {
	if r, ok := p.(*Router); ok {
		name, _ := r.split(model)
		return name
	}
	return p.Name()
}
