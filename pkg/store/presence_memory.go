package store

import (
	"context"
	"sync"
	"time"
)

// MemoryPresence tracks typing timestamps in-process. Expiry is enforced at
// read time by comparing against the injected clock, so no sweeper is
// needed for correctness.
type MemoryPresence struct {
	mu  sync.Mutex
	ttl time.Duration
	now func() time.Time
	// conversation ID -> user ID -> last refresh
	typing map[string]map[string]time.Time
}

// NewMemoryPresence creates a presence tracker with the default typing TTL.
func NewMemoryPresence() *MemoryPresence {
	return &MemoryPresence{
		ttl:    TypingTTL,
		now:    time.Now,
		typing: make(map[string]map[string]time.Time),
	}
}

// WithClock replaces the clock, for tests.
func (p *MemoryPresence) WithClock(now func() time.Time) *MemoryPresence {
	p.now = now
	return p
}

// SetTyping refreshes the caller's typing entry.
func (p *MemoryPresence) SetTyping(_ context.Context, conversationID, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	byUser := p.typing[conversationID]
	if byUser == nil {
		byUser = make(map[string]time.Time)
		p.typing[conversationID] = byUser
	}
	byUser[userID] = p.now()
	return nil
}

// ClearTyping drops the caller's entry; no-op when absent.
func (p *MemoryPresence) ClearTyping(_ context.Context, conversationID, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if byUser := p.typing[conversationID]; byUser != nil {
		delete(byUser, userID)
		if len(byUser) == 0 {
			delete(p.typing, conversationID)
		}
	}
	return nil
}

// ActiveTypists returns user IDs whose entry is within the TTL. Stale
// entries are removed opportunistically.
func (p *MemoryPresence) ActiveTypists(_ context.Context, conversationID string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	byUser := p.typing[conversationID]
	if len(byUser) == 0 {
		return nil, nil
	}
	cutoff := p.now().Add(-p.ttl)
	var out []string
	for userID, at := range byUser {
		if at.Before(cutoff) {
			delete(byUser, userID)
			continue
		}
		out = append(out, userID)
	}
	if len(byUser) == 0 {
		delete(p.typing, conversationID)
	}
	return out, nil
}
