package ratelimiter

import (
	"context"
	"sync"
	"time"
)

type window struct {
	start  time.Time
	count  int
	length time.Duration
}

// MemoryLimiter keeps fixed windows in a mutex-guarded map. It is correct
// for a single process only; use RedisLimiter when instances share clients.
type MemoryLimiter struct {
	mu         sync.Mutex
	policies   Policies
	windows    map[string]*window
	now        func() time.Time
	lastSweep  time.Time
	sweepEvery time.Duration
}

// NewMemoryLimiter creates an in-process limiter.
func NewMemoryLimiter(p Policies) *MemoryLimiter {
	if p == nil {
		p = DefaultPolicies()
	}
	return &MemoryLimiter{
		policies:   p,
		windows:    make(map[string]*window),
		now:        time.Now,
		sweepEvery: time.Minute,
	}
}

// Admit implements Limiter.
func (m *MemoryLimiter) Admit(_ context.Context, class RouteClass, key string) (Decision, error) {
	pol, err := m.policies.lookup(class)
	if err != nil {
		return Decision{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.sweepLocked(now)

	k := string(class) + "\x00" + key
	w := m.windows[k]
	if w == nil || now.Sub(w.start) >= pol.Window {
		w = &window{start: now, length: pol.Window}
		m.windows[k] = w
	}
	reset := w.start.Add(pol.Window)
	if w.count >= pol.Max {
		return Decision{
			Allowed:    false,
			Limit:      pol.Max,
			Remaining:  0,
			ResetAt:    reset,
			RetryAfter: reset.Sub(now),
			Message:    pol.Message,
		}, nil
	}
	w.count++
	return Decision{
		Allowed:   true,
		Limit:     pol.Max,
		Remaining: pol.Max - w.count,
		ResetAt:   reset,
	}, nil
}

// sweepLocked drops expired windows so idle keys do not accumulate.
func (m *MemoryLimiter) sweepLocked(now time.Time) {
	if now.Sub(m.lastSweep) < m.sweepEvery {
		return
	}
	m.lastSweep = now
	for k, w := range m.windows {
		if now.Sub(w.start) >= w.length {
			delete(m.windows, k)
		}
	}
}

// Len returns the number of live windows.
func (m *MemoryLimiter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.windows)
}
