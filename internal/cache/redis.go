package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisStore keeps entries in Redis; expiry is delegated to key TTLs.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisStore creates a Redis backed store.
func NewRedisStore(client redis.UniversalClient, config *Config, logger *zap.Logger) *RedisStore {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := config.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{
		client: client,
		prefix: config.KeyPrefix,
		ttl:    ttl,
		logger: logger,
	}
}

func (s *RedisStore) redisKey(question, tenant string) string {
	return s.prefix + Key(question, tenant)
}

// Get reads and decodes the entry.
func (s *RedisStore) Get(ctx context.Context, question, tenant string) (*Entry, error) {
	data, err := s.client.Get(ctx, s.redisKey(question, tenant)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrMiss
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		s.logger.Warn("discarding undecodable cache entry", zap.Error(err))
		return nil, ErrMiss
	}
	return &e, nil
}

// Set encodes and writes the entry with the store TTL.
func (s *RedisStore) Set(ctx context.Context, question, tenant string, entry *Entry) error {
	cp := *entry
	cp.Key = Key(question, tenant)
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	data, err := json.Marshal(&cp)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	if err := s.client.Set(ctx, s.prefix+cp.Key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *RedisStore) scanKeys(ctx context.Context) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	for {
		batch, next, err := s.client.Scan(ctx, cursor, s.prefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("redis scan: %w", err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}

// Clear deletes every key under the prefix.
func (s *RedisStore) Clear(ctx context.Context) (int, error) {
	keys, err := s.scanKeys(ctx)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := s.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("redis del: %w", err)
	}
	return int(n), nil
}

// ClearExpired is a no-op; Redis evicts expired keys itself.
func (s *RedisStore) ClearExpired(_ context.Context) (int, error) {
	return 0, nil
}

// Len counts keys under the prefix.
func (s *RedisStore) Len(ctx context.Context) (int, error) {
	keys, err := s.scanKeys(ctx)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}
