// Package postgres stores the conversation log in PostgreSQL.
package postgres

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/ecohealth-ai-gateway/internal/domain"
)

// schema is applied by EnsureSchema. seq gives a total order that does not
// depend on timestamps.
const schema = `
CREATE TABLE IF NOT EXISTS chat_turns (
	id          UUID PRIMARY KEY,
	seq         BIGSERIAL NOT NULL,
	session_id  TEXT NULL,
	sender      TEXT NOT NULL CHECK (sender IN ('user','bot')),
	domain      TEXT NOT NULL CHECK (domain IN ('agriculture','healthcare','environment','general')),
	text        TEXT NOT NULL CHECK (char_length(text) BETWEEN 1 AND 1000),
	intent      TEXT NULL,
	synthetic   BOOLEAN NOT NULL DEFAULT FALSE,
	model       TEXT NULL,
	created_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS chat_turns_session_seq_idx ON chat_turns (session_id, seq);
CREATE INDEX IF NOT EXISTS chat_turns_domain_seq_idx ON chat_turns (domain, seq);
`

// TurnRepo is the append-only conversation log.
type TurnRepo struct{ Pool PgxPool }

// NewTurnRepo constructs a TurnRepo with the given pool.
func NewTurnRepo(p PgxPool) *TurnRepo { return &TurnRepo{Pool: p} }

// EnsureSchema creates the table and indexes if they do not exist.
func (r *TurnRepo) EnsureSchema(ctx domain.Context) error {
	if _, err := r.Pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("op=turns.ensure_schema: %w", err)
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Append inserts t. A missing ID or CreatedAt is filled in.
func (r *TurnRepo) Append(ctx domain.Context, t domain.Turn) (domain.Turn, error) {
	tracer := otel.Tracer("repo.turns")
	ctx, span := tracer.Start(ctx, "turns.Append")
	defer span.End()
	span.SetAttributes(attribute.String("turn.domain", string(t.Domain)), attribute.String("turn.sender", string(t.Sender)))

	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	q := `INSERT INTO chat_turns (id, session_id, sender, domain, text, intent, synthetic, model, created_at) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`
	_, err := r.Pool.Exec(ctx, q, t.ID, nullable(t.SessionID), string(t.Sender), string(t.Domain), t.Text, nullable(t.Intent), t.Synthetic, nullable(t.Model), t.CreatedAt)
	if err != nil {
		span.RecordError(err)
		return domain.Turn{}, fmt.Errorf("op=turns.append: %w: %v", domain.ErrPersistence, err)
	}
	return t, nil
}

// History returns the most recent q.Limit matching turns, oldest first.
func (r *TurnRepo) History(ctx domain.Context, q domain.HistoryQuery) ([]domain.Turn, error) {
	tracer := otel.Tracer("repo.turns")
	ctx, span := tracer.Start(ctx, "turns.History")
	defer span.End()

	limit := q.Limit
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	sql := `SELECT id, COALESCE(session_id,''), sender, domain, text, COALESCE(intent,''), synthetic, COALESCE(model,''), created_at
FROM (
	SELECT * FROM chat_turns
	WHERE ($1 = '' OR session_id = $1) AND ($2 = '' OR domain = $2)
	ORDER BY seq DESC
	LIMIT $3
) recent
ORDER BY seq ASC`
	rows, err := r.Pool.Query(ctx, sql, q.SessionID, string(q.Domain), limit)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("op=turns.history: %w: %v", domain.ErrPersistence, err)
	}
	defer rows.Close()

	out := make([]domain.Turn, 0, limit)
	for rows.Next() {
		var t domain.Turn
		var sender, dom string
		if err := rows.Scan(&t.ID, &t.SessionID, &sender, &dom, &t.Text, &t.Intent, &t.Synthetic, &t.Model, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("op=turns.history_scan: %w: %v", domain.ErrPersistence, err)
		}
		t.Sender = domain.Sender(sender)
		t.Domain = domain.Domain(dom)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=turns.history_rows: %w: %v", domain.ErrPersistence, err)
	}
	return out, nil
}

// IntentCounts aggregates bot-turn intents, optionally for one domain.
func (r *TurnRepo) IntentCounts(ctx domain.Context, d domain.Domain) ([]domain.IntentCount, error) {
	tracer := otel.Tracer("repo.turns")
	ctx, span := tracer.Start(ctx, "turns.IntentCounts")
	defer span.End()

	sql := `SELECT domain, COALESCE(intent,''), COUNT(*) FROM chat_turns
WHERE sender = 'bot' AND ($1 = '' OR domain = $1)
GROUP BY domain, intent
ORDER BY COUNT(*) DESC, domain, intent`
	rows, err := r.Pool.Query(ctx, sql, string(d))
	if err != nil {
		return nil, fmt.Errorf("op=turns.intent_counts: %w: %v", domain.ErrPersistence, err)
	}
	defer rows.Close()

	var out []domain.IntentCount
	for rows.Next() {
		var ic domain.IntentCount
		var dom string
		if err := rows.Scan(&dom, &ic.Intent, &ic.Count); err != nil {
			return nil, fmt.Errorf("op=turns.intent_counts_scan: %w: %v", domain.ErrPersistence, err)
		}
		ic.Domain = domain.Domain(dom)
		out = append(out, ic)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=turns.intent_counts_rows: %w: %v", domain.ErrPersistence, err)
	}
	return out, nil
}

// Ping reports whether the database answers.
func (r *TurnRepo) Ping(ctx domain.Context) error {
	var one int
	if err := r.Pool.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("op=turns.ping: %w", err)
	}
	return nil
}
