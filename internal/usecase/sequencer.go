package usecase

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// sequencer serializes work per key. Waiters are admitted in arrival order and
// may give up when their context ends. Entries are reference counted and
// removed once no caller holds or waits for them.
type sequencer struct {
	mu    sync.Mutex
	slots map[string]*seqSlot
}

type seqSlot struct {
	sem  *semaphore.Weighted
	refs int
	// last is the newest timestamp issued for the key; guarded by sem.
	last time.Time
}

func newSequencer() *sequencer {
	return &sequencer{slots: make(map[string]*seqSlot)}
}

// lock waits until key is free and returns its unlock function, or ctx.Err()
// when ctx ends first.
func (s *sequencer) lock(ctx context.Context, key string) (func(), error) {
	s.mu.Lock()
	sl := s.slots[key]
	if sl == nil {
		sl = &seqSlot{sem: semaphore.NewWeighted(1)}
		s.slots[key] = sl
	}
	sl.refs++
	s.mu.Unlock()

	if err := sl.sem.Acquire(ctx, 1); err != nil {
		s.release(key, sl)
		return nil, err
	}
	return func() {
		sl.sem.Release(1)
		s.release(key, sl)
	}, nil
}

func (s *sequencer) release(key string, sl *seqSlot) {
	s.mu.Lock()
	sl.refs--
	if sl.refs == 0 {
		delete(s.slots, key)
	}
	s.mu.Unlock()
}

// lastIssued returns the newest timestamp recorded for key while the slot is
// live. The caller must hold key.
func (s *sequencer) lastIssued(key string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sl := s.slots[key]; sl != nil {
		return sl.last
	}
	return time.Time{}
}

// issued records t for key. The caller must hold key.
func (s *sequencer) issued(key string, t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sl := s.slots[key]; sl != nil && t.After(sl.last) {
		sl.last = t
	}
}

func (s *sequencer) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots)
}
