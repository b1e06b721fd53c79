package counters

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// incrementScript starts the TTL on the first increment so the window is anchored there.
var incrementScript = redis.NewScript(`
local value = redis.call("INCR", KEYS[1])
if value == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return value
`)

// RedisStore is a Store and Deduplicator backed by Redis.
type RedisStore struct {
	client redis.UniversalClient
	logger *slog.Logger
}

// NewRedisStore connects to the Redis instance at url and verifies it responds.
func NewRedisStore(ctx context.Context, logger *slog.Logger, url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.InfoContext(ctx, "Connected to redis counter store", "addr", opts.Addr)

	return NewRedisStoreWithClient(client, logger), nil
}

func NewRedisStoreWithClient(client redis.UniversalClient, logger *slog.Logger) *RedisStore {
	return &RedisStore{
		client: client,
		logger: logger.With("module", "redis_counters"),
	}
}

func (s *RedisStore) Get(ctx context.Context, key Key) (int64, error) {
	value, err := s.client.Get(ctx, key.String()).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}

	if err != nil {
		return 0, fmt.Errorf("failed to read counter %s: %w", key, err)
	}

	return value, nil
}

func (s *RedisStore) IncrementAndGet(ctx context.Context, key Key, ttl time.Duration) (int64, error) {
	if ttl <= 0 {
		return 0, ErrInvalidTTL
	}

	value, err := incrementScript.Run(ctx, s.client, []string{key.String()}, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to increment counter %s: %w", key, err)
	}

	return value, nil
}

func (s *RedisStore) Expire(ctx context.Context, key Key, ttl time.Duration) error {
	var err error
	if ttl <= 0 {
		err = s.client.Del(ctx, key.String()).Err()
	} else {
		err = s.client.PExpire(ctx, key.String(), ttl).Err()
	}

	if err != nil {
		return fmt.Errorf("failed to expire counter %s: %w", key, err)
	}

	return nil
}

func (s *RedisStore) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, ErrInvalidTTL
	}

	claimed, err := s.client.SetNX(ctx, dedupKey(key), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim %s: %w", key, err)
	}

	if !claimed {
		s.logger.DebugContext(ctx, "Duplicate delivery", "key", key)
	}

	return claimed, nil
}

func (s *RedisStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, dedupKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to release %s: %w", key, err)
	}

	return nil
}

// Ping checks the connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
