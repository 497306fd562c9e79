package live

import "sync"

// Key identifies a row or a list shard that a query read or a mutation
// wrote. List queries register shard keys (e.g. the conversation list of
// one user) alongside the row keys they touched.
type Key struct {
	Entity string
	ID     string
}

// Entities tracked by the bus.
const (
	EntityUser         = "user"
	EntityWorkspace    = "workspace"
	EntityMembership   = "membership"
	EntityConversation = "conversation"
	EntityMessage      = "message"
	EntityReceipt      = "receipt"
	EntityTyping       = "typing"
)

// ConversationListKey is the shard key for a user's conversation list.
func ConversationListKey(userID string) Key {
	return Key{Entity: EntityConversation, ID: "list:" + userID}
}

// MessageListKey is the shard key for a conversation's message list.
func MessageListKey(conversationID string) Key {
	return Key{Entity: EntityMessage, ID: "list:" + conversationID}
}

// TypingKey is the shard key for a conversation's typing state.
func TypingKey(conversationID string) Key {
	return Key{Entity: EntityTyping, ID: conversationID}
}

// Subscription is one continuous query's registration. Notifications are
// coalesced: the channel holds at most one pending signal, so a burst of
// writes triggers a single recompute.
type Subscription struct {
	bus  *Bus
	ch   chan struct{}
	mu   sync.Mutex
	keys map[Key]struct{}
}

// Notify returns the channel signalled when the read-set intersects a
// write.
func (s *Subscription) Notify() <-chan struct{} { return s.ch }

// Reset replaces the subscription's read-set after a recompute.
func (s *Subscription) Reset(keys ...Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = make(map[Key]struct{}, len(keys))
	for _, k := range keys {
		s.keys[k] = struct{}{}
	}
}

func (s *Subscription) matches(keys []Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		if _, ok := s.keys[k]; ok {
			return true
		}
	}
	return false
}

// Close unregisters the subscription and releases its read-set.
func (s *Subscription) Close() {
	s.bus.remove(s)
}

// Bus is the in-process invalidation dispatcher: queries subscribe with the
// keys they read, mutations publish the keys they wrote, and every
// subscription whose read-set intersects the write is signalled. It is
// conservative (an intersecting subscription may recompute to an identical
// result) but never misses an update.
type Bus struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[*Subscription]struct{})}
}

// Subscribe registers a continuous query with its initial read-set.
func (b *Bus) Subscribe(keys ...Key) *Subscription {
	s := &Subscription{bus: b, ch: make(chan struct{}, 1)}
	s.Reset(keys...)
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// Publish signals every subscription whose read-set intersects keys. Sends
// never block: a subscriber that already has a pending signal is skipped.
func (b *Bus) Publish(keys ...Key) {
	if len(keys) == 0 {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		if !s.matches(keys) {
			continue
		}
		select {
		case s.ch <- struct{}{}:
		default:
		}
	}
}

func (b *Bus) remove(s *Subscription) {
	b.mu.Lock()
	delete(b.subs, s)
	b.mu.Unlock()
}
