package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisPresence stores typing entries as keys with a PX expiry, so Redis
// handles both the TTL and storage hygiene. Shared across nodes.
type RedisPresence struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisPresence connects a typing tracker to Redis.
func NewRedisPresence(addr, password, prefix string) *RedisPresence {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "bundlechat:typing"
	}
	return &RedisPresence{
		client: redis.NewClient(&redis.Options{Addr: addr, Password: password}),
		prefix: prefix,
		ttl:    TypingTTL,
	}
}

func (p *RedisPresence) key(conversationID, userID string) string {
	return fmt.Sprintf("%s:%s:%s", p.prefix, conversationID, userID)
}

// SetTyping refreshes the entry and its expiry.
func (p *RedisPresence) SetTyping(ctx context.Context, conversationID, userID string) error {
	return p.client.Set(ctx, p.key(conversationID, userID), "1", p.ttl).Err()
}

// ClearTyping removes the entry; deleting a missing key is a no-op.
func (p *RedisPresence) ClearTyping(ctx context.Context, conversationID, userID string) error {
	return p.client.Del(ctx, p.key(conversationID, userID)).Err()
}

// ActiveTypists scans live keys for the conversation. Expired entries are
// already gone, so every surviving key is a live typist.
func (p *RedisPresence) ActiveTypists(ctx context.Context, conversationID string) ([]string, error) {
	pattern := fmt.Sprintf("%s:%s:*", p.prefix, conversationID)
	strip := fmt.Sprintf("%s:%s:", p.prefix, conversationID)
	var out []string
	iter := p.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		out = append(out, strings.TrimPrefix(iter.Val(), strip))
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
