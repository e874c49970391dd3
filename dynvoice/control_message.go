package dynvoice

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ControlMessageStore remembers the ID of the message carrying a voice
// channel's control buttons, so buttons can be cleared from the previous
// message whenever a new one is posted.
type ControlMessageStore interface {
	// Get returns the current message ID, or an empty string if none
	// is known
	Get(ctx context.Context, channelID string) (string, error)
	Set(ctx context.Context, channelID string, messageID string) error
	Delete(ctx context.Context, channelID string) error
}

type redisControlMessages struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func newRedisControlMessages(
	client redis.UniversalClient,
	prefix string,
	ttl time.Duration,
) *redisControlMessages {
	if prefix == "" {
		prefix = DefaultRedisKeyPrefix
	}
	if ttl <= 0 {
		ttl = DefaultRedisTTL
	}
	return &redisControlMessages{client: client, prefix: prefix, ttl: ttl}
}

func (r *redisControlMessages) key(channelID string) string {
	return fmt.Sprintf("%s:%s", r.prefix, channelID)
}

func (r *redisControlMessages) Get(ctx context.Context, channelID string) (string, error) {
	v, err := r.client.Get(ctx, r.key(channelID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return v, err
}

func (r *redisControlMessages) Set(ctx context.Context, channelID string, messageID string) error {
	return r.client.Set(ctx, r.key(channelID), messageID, r.ttl).Err()
}

func (r *redisControlMessages) Delete(ctx context.Context, channelID string) error {
	return r.client.Del(ctx, r.key(channelID)).Err()
}

// newRedisClient connects to redis and verifies the connection
func newRedisClient(ctx context.Context, cfg *RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(
		&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		},
	)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

type memoryControlMessage struct {
	messageID string
	expires   time.Time
}

// memoryControlMessages is used when no redis address is configured
type memoryControlMessages struct {
	mu       sync.Mutex
	messages map[string]memoryControlMessage
	ttl      time.Duration
	now      func() time.Time
}

func newMemoryControlMessages(ttl time.Duration) *memoryControlMessages {
	if ttl <= 0 {
		ttl = DefaultRedisTTL
	}
	return &memoryControlMessages{
		messages: map[string]memoryControlMessage{},
		ttl:      ttl,
		now:      time.Now,
	}
}

func (m *memoryControlMessages) Get(_ context.Context, channelID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[channelID]
	if !ok {
		return "", nil
	}
	if m.now().After(msg.expires) {
		delete(m.messages, channelID)
		return "", nil
	}
	return msg.messageID, nil
}

func (m *memoryControlMessages) Set(_ context.Context, channelID string, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[channelID] = memoryControlMessage{
		messageID: messageID,
		expires:   m.now().Add(m.ttl),
	}
	return nil
}

func (m *memoryControlMessages) Delete(_ context.Context, channelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.messages, channelID)
	return nil
}
