package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"groovecast/internal/core"
)

const redisKeyPrefix = "groovecast:queue:"

// RedisQueueStore persists queue snapshots in Redis so several instances can
// hand chats over to each other.
type RedisQueueStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisClient connects to Redis and checks the connection.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// NewRedisQueueStore stores snapshots that expire after ttl; zero keeps them forever.
func NewRedisQueueStore(client *redis.Client, ttl time.Duration) *RedisQueueStore {
	return &RedisQueueStore{client: client, ttl: ttl}
}

func redisKey(chatID string) string {
	return redisKeyPrefix + chatID
}

func (s *RedisQueueStore) SaveQueueState(ctx context.Context, chatID string, snapshot *core.QueueSnapshot) error {
	data, err := encodeSnapshot(snapshot)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, redisKey(chatID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save queue state for %s: %w", chatID, err)
	}
	return nil
}

func (s *RedisQueueStore) LoadQueueState(ctx context.Context, chatID string) (*core.QueueSnapshot, error) {
	data, err := s.client.Get(ctx, redisKey(chatID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load queue state for %s: %w", chatID, err)
	}
	return decodeSnapshot(data)
}

func (s *RedisQueueStore) DeleteQueueState(ctx context.Context, chatID string) error {
	if err := s.client.Del(ctx, redisKey(chatID)).Err(); err != nil {
		return fmt.Errorf("failed to delete queue state for %s: %w", chatID, err)
	}
	return nil
}

func (s *RedisQueueStore) Close() error {
	return s.client.Close()
}
