// Package memory is an in-process conversation log used when no database is
// configured. It is not persistent and suits development and tests only.
package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fairyhunter13/ecohealth-ai-gateway/internal/domain"
)

const maxHistory = 100

// TurnRepo keeps turns in append order. Slice position plays the role of the
// database sequence column.
type TurnRepo struct {
	mu    sync.RWMutex
	turns []domain.Turn
	now   func() time.Time
}

// NewTurnRepo creates an empty log.
func NewTurnRepo() *TurnRepo {
	return &TurnRepo{now: time.Now}
}

// Append stores t, filling a missing ID or CreatedAt.
func (r *TurnRepo) Append(_ domain.Context, t domain.Turn) (domain.Turn, error) {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = r.now().UTC()
	}
	r.mu.Lock()
	r.turns = append(r.turns, t)
	r.mu.Unlock()
	return t, nil
}

// History returns the latest q.Limit matching turns, oldest first.
func (r *TurnRepo) History(_ domain.Context, q domain.HistoryQuery) ([]domain.Turn, error) {
	limit := q.Limit
	if limit <= 0 || limit > maxHistory {
		limit = maxHistory
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Turn, 0, limit)
	for i := len(r.turns) - 1; i >= 0 && len(out) < limit; i-- {
		t := r.turns[i]
		if q.SessionID != "" && t.SessionID != q.SessionID {
			continue
		}
		if q.Domain != "" && t.Domain != q.Domain {
			continue
		}
		out = append(out, t)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// IntentCounts aggregates bot-turn intents, optionally for one domain, most
// frequent first.
func (r *TurnRepo) IntentCounts(_ domain.Context, d domain.Domain) ([]domain.IntentCount, error) {
	type key struct {
		d      domain.Domain
		intent string
	}
	counts := map[key]int64{}
	r.mu.RLock()
	for _, t := range r.turns {
		if t.Sender != domain.SenderBot || (d != "" && t.Domain != d) {
			continue
		}
		counts[key{t.Domain, t.Intent}]++
	}
	r.mu.RUnlock()

	out := make([]domain.IntentCount, 0, len(counts))
	for k, n := range counts {
		out = append(out, domain.IntentCount{Domain: k.d, Intent: k.intent, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		if out[i].Domain != out[j].Domain {
			return out[i].Domain < out[j].Domain
		}
		return out[i].Intent < out[j].Intent
	})
	return out, nil
}

// Ping always succeeds.
func (r *TurnRepo) Ping(domain.Context) error { return nil }

// Len returns the number of stored turns.
func (r *TurnRepo) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.turns)
}
