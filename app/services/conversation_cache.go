package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/amirphl/event-rsvp-engine/models"
	"github.com/redis/go-redis/v9"
)

// ConversationCache keeps read-mostly conversation snapshots for the operator views.
// Every write path invalidates the contact's entry.
type ConversationCache interface {
	Get(ctx context.Context, contactID uint) (*models.Conversation, bool)
	Set(ctx context.Context, conv *models.Conversation)
	Invalidate(ctx context.Context, contactID uint)
}

// RedisConversationCache stores JSON snapshots with a TTL
type RedisConversationCache struct {
	rc     *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisConversationCache creates a redis-backed cache
func NewRedisConversationCache(rc *redis.Client, prefix string, ttl time.Duration) *RedisConversationCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisConversationCache{rc: rc, prefix: prefix, ttl: ttl}
}

func (c *RedisConversationCache) key(contactID uint) string {
	return fmt.Sprintf("%sconversation:%d", c.prefix, contactID)
}

func (c *RedisConversationCache) Get(ctx context.Context, contactID uint) (*models.Conversation, bool) {
	raw, err := c.rc.Get(ctx, c.key(contactID)).Bytes()
	if err != nil {
		return nil, false
	}
	var conv models.Conversation
	if err := json.Unmarshal(raw, &conv); err != nil {
		return nil, false
	}
	return &conv, true
}

func (c *RedisConversationCache) Set(ctx context.Context, conv *models.Conversation) {
	if conv == nil {
		return
	}
	raw, err := json.Marshal(conv)
	if err != nil {
		return
	}
	_ = c.rc.Set(ctx, c.key(conv.ContactID), raw, c.ttl).Err()
}

func (c *RedisConversationCache) Invalidate(ctx context.Context, contactID uint) {
	_ = c.rc.Del(ctx, c.key(contactID)).Err()
}

// NoopConversationCache never hits
type NoopConversationCache struct{}

func (NoopConversationCache) Get(context.Context, uint) (*models.Conversation, bool) { return nil, false }
func (NoopConversationCache) Set(context.Context, *models.Conversation)             {}
func (NoopConversationCache) Invalidate(context.Context, uint)                      {}
