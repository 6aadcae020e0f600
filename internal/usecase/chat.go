// Package usecase contains the conversation gateway and the structured
// assistants built on the model cascade.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fairyhunter13/ecohealth-ai-gateway/internal/adapter/ai"
	"github.com/fairyhunter13/ecohealth-ai-gateway/internal/adapter/observability"
	"github.com/fairyhunter13/ecohealth-ai-gateway/internal/domain"
	"github.com/fairyhunter13/ecohealth-ai-gateway/internal/knowledge"
	"github.com/fairyhunter13/ecohealth-ai-gateway/pkg/textx"
)

// Cascade produces a completion for a prompt. *ai.Invoker implements it.
type Cascade interface {
	Invoke(ctx context.Context, prompt string) (ai.Result, error)
}

// ChatRequest is one inbound chat message.
type ChatRequest struct {
	Message   string
	SessionID string
	Domain    string
}

// ChatReply is the gateway's answer to a ChatRequest.
type ChatReply struct {
	Response  string        `json:"response"`
	Domain    domain.Domain `json:"domain"`
	Intent    string        `json:"intent"`
	Synthetic bool          `json:"synthetic"`
	Model     string        `json:"model,omitempty"`
	TurnID    string        `json:"turnId"`
}

// ChatService is the conversation gateway: validate, persist the user turn,
// generate (or fall back), classify, persist the bot turn.
type ChatService struct {
	Turns   domain.TurnRepository
	Cascade Cascade
	Catalog *knowledge.Catalog
	Events  domain.EventPublisher

	allowGeneral bool
	historyLimit int
	seq          *sequencer
	now          func() time.Time
}

// ChatOption customizes a ChatService.
type ChatOption func(*ChatService)

// WithGeneralDomain lets chat callers use the general domain.
func WithGeneralDomain(allow bool) ChatOption {
	return func(s *ChatService) { s.allowGeneral = allow }
}

// WithHistoryLimit caps GET history results (1..100).
func WithHistoryLimit(n int) ChatOption {
	return func(s *ChatService) {
		if n > 0 && n <= 100 {
			s.historyLimit = n
		}
	}
}

// WithEvents publishes a TurnEvent after every bot turn.
func WithEvents(p domain.EventPublisher) ChatOption {
	return func(s *ChatService) { s.Events = p }
}

// NewChatService wires the gateway. A nil cascade means fallback-only mode:
// every reply is the domain's canned text.
func NewChatService(turns domain.TurnRepository, cascade Cascade, catalog *knowledge.Catalog, opts ...ChatOption) *ChatService {
	if catalog == nil {
		catalog = knowledge.Default()
	}
	s := &ChatService{
		Turns:        turns,
		Cascade:      cascade,
		Catalog:      catalog,
		historyLimit: 100,
		seq:          newSequencer(),
		now:          time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// FallbackOnly reports whether the service never calls a model.
func (s *ChatService) FallbackOnly() bool { return s.Cascade == nil }

func (s *ChatService) validate(req ChatRequest) (string, domain.Domain, error) {
	msg := textx.SanitizeText(req.Message)
	n := textx.RuneLen(msg)
	if n < domain.MinMessageLen {
		return "", "", fmt.Errorf("%w: message is required", domain.ErrInvalidArgument)
	}
	if n > domain.MaxMessageLen {
		return "", "", fmt.Errorf("%w: message must be at most %d characters", domain.ErrInvalidArgument, domain.MaxMessageLen)
	}
	raw := req.Domain
	if strings.TrimSpace(raw) == "" {
		raw = string(domain.DomainGeneral)
	}
	d, ok := domain.ParseDomain(raw)
	if !ok || (!d.IsChatDomain() && !(d == domain.DomainGeneral && s.allowGeneral)) {
		return "", "", fmt.Errorf("%w: invalid domain %q, must be one of agriculture, healthcare, environment", domain.ErrInvalidArgument, req.Domain)
	}
	return msg, d, nil
}

// Reply runs one chat exchange. Model failures never surface: the canned
// fallback replaces them. Validation, persistence and cancellation errors do.
func (s *ChatService) Reply(ctx domain.Context, req ChatRequest) (ChatReply, error) {
	msg, d, err := s.validate(req)
	if err != nil {
		return ChatReply{}, err
	}
	lg := observability.LoggerFromContext(ctx).With(slog.String("domain", string(d)))

	if req.SessionID != "" {
		unlock, err := s.seq.lock(ctx, req.SessionID)
		if err != nil {
			lg.Info("chat request abandoned while queued", slog.Any("error", err))
			return ChatReply{}, fmt.Errorf("op=chat.queue: %w", err)
		}
		defer unlock()
	}
	if err := ctx.Err(); err != nil {
		return ChatReply{}, fmt.Errorf("op=chat.queue: %w", err)
	}
	start := s.now()

	user, err := s.Turns.Append(ctx, domain.Turn{
		Text:      msg,
		Sender:    domain.SenderUser,
		SessionID: req.SessionID,
		Domain:    d,
		CreatedAt: after(start, s.lastStamp(ctx, lg, req.SessionID)),
	})
	if err != nil {
		return ChatReply{}, fmt.Errorf("op=chat.persist_user: %w", err)
	}
	if req.SessionID != "" {
		s.seq.issued(req.SessionID, user.CreatedAt)
	}
	observability.ObserveTurn(string(d), string(domain.SenderUser), "", false)

	text, model, synthetic, err := s.generate(ctx, lg, d, msg)
	if err != nil {
		return ChatReply{}, err
	}
	intent := s.Catalog.Classify(msg, d)

	bot, err := s.Turns.Append(ctx, domain.Turn{
		Text:      clip(text),
		Sender:    domain.SenderBot,
		SessionID: req.SessionID,
		Domain:    d,
		Intent:    intent,
		Synthetic: synthetic,
		Model:     model,
		CreatedAt: after(s.now(), user.CreatedAt),
	})
	if err != nil {
		return ChatReply{}, fmt.Errorf("op=chat.persist_bot: %w", err)
	}
	if req.SessionID != "" {
		s.seq.issued(req.SessionID, bot.CreatedAt)
	}
	observability.ObserveTurn(string(d), string(domain.SenderBot), intent, synthetic)

	if s.Events != nil {
		s.Events.PublishTurn(ctx, domain.TurnEvent{
			TurnID:    bot.ID,
			SessionID: bot.SessionID,
			Domain:    d,
			Intent:    intent,
			Synthetic: synthetic,
			Model:     model,
			Latency:   s.now().Sub(start),
			CreatedAt: bot.CreatedAt,
		})
	}
	return ChatReply{Response: bot.Text, Domain: d, Intent: intent, Synthetic: synthetic, Model: model, TurnID: bot.ID}, nil
}

// lastStamp is the newest CreatedAt issued for the session. A cold session is
// seeded from its latest stored turn. The caller must hold the session.
func (s *ChatService) lastStamp(ctx domain.Context, lg *slog.Logger, sessionID string) time.Time {
	if sessionID == "" {
		return time.Time{}
	}
	if t := s.seq.lastIssued(sessionID); !t.IsZero() {
		return t
	}
	recent, err := s.Turns.History(ctx, domain.HistoryQuery{SessionID: sessionID, Limit: 1})
	if err != nil {
		lg.Warn("session clock seed failed", slog.Any("error", err))
		return time.Time{}
	}
	if len(recent) == 0 {
		return time.Time{}
	}
	return recent[len(recent)-1].CreatedAt
}

// after returns now in UTC, bumped to floor+1µs when the clock has not moved
// past floor.
func after(now, floor time.Time) time.Time {
	now = now.UTC().Truncate(time.Microsecond)
	if !floor.IsZero() && !now.After(floor) {
		return floor.UTC().Add(time.Microsecond)
	}
	return now
}

// generate returns the live answer, or the canned fallback when the cascade
// is disabled or exhausted. A cancelled caller gets its context error and no
// bot turn.
func (s *ChatService) generate(ctx domain.Context, lg *slog.Logger, d domain.Domain, msg string) (text, model string, synthetic bool, err error) {
	if s.Cascade == nil {
		return s.Catalog.Fallback(d), "", true, nil
	}
	res, err := s.Cascade.Invoke(ctx, s.Catalog.Compose(d, msg))
	if err == nil {
		return res.Text, res.Model, false, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil || errors.Is(err, context.Canceled) {
		lg.Info("chat request abandoned during generation", slog.Any("error", err))
		if ctxErr == nil {
			ctxErr = err
		}
		return "", "", false, fmt.Errorf("op=chat.generate: %w", ctxErr)
	}
	lg.Warn("substituting canned fallback", slog.Any("error", err))
	return s.Catalog.Fallback(d), "", true, nil
}

// clip keeps a reply within the turn length bound.
func clip(text string) string {
	return textx.Truncate(textx.SanitizeText(text), domain.MaxMessageLen)
}

// History returns the conversation log filtered by session and domain,
// oldest first. An empty domain matches all domains.
func (s *ChatService) History(ctx domain.Context, sessionID, dom string) ([]domain.Turn, error) {
	q := domain.HistoryQuery{SessionID: strings.TrimSpace(sessionID), Limit: s.historyLimit}
	if strings.TrimSpace(dom) != "" {
		d, ok := domain.ParseDomain(dom)
		if !ok {
			return nil, fmt.Errorf("%w: invalid domain %q", domain.ErrInvalidArgument, dom)
		}
		q.Domain = d
	}
	turns, err := s.Turns.History(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("op=chat.history: %w", err)
	}
	return turns, nil
}

// IntentCounts aggregates bot-turn intents for the admin surface.
// KnownIntents lists the tags the catalog can assign in d: rule tags in
// evaluation order, then the default tag.
func (s *ChatService) KnownIntents(d domain.Domain) []string {
	rules := s.Catalog.Intents(d)
	out := make([]string, 0, len(rules)+1)
	for _, r := range rules {
		out = append(out, r.Tag)
	}
	if def := s.Catalog.DefaultIntent(d); def != "" {
		out = append(out, def)
	}
	return out
}

func (s *ChatService) IntentCounts(ctx domain.Context, dom string) ([]domain.IntentCount, error) {
	var d domain.Domain
	if strings.TrimSpace(dom) != "" {
		var ok bool
		if d, ok = domain.ParseDomain(dom); !ok {
			return nil, fmt.Errorf("%w: invalid domain %q", domain.ErrInvalidArgument, dom)
		}
	}
	out, err := s.Turns.IntentCounts(ctx, d)
	if err != nil {
		return nil, fmt.Errorf("op=chat.intent_counts: %w", err)
	}
	return out, nil
}
