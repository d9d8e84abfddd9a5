package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "pushgw:idem:"

// RedisStore is the shared-deployment backend. Expiry is native: records
// are written with the TTL and Redis drops them, so Sweep is a no-op.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// RedisOptions holds the connection settings for NewRedisStore.
type RedisOptions struct {
	Address  string
	Password string
	DB       int
	PoolSize int
}

// NewRedisStore connects and verifies the connection with a ping.
func NewRedisStore(opts RedisOptions, ttl time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Address,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("error connecting to redis: %w", err)
	}

	return &RedisStore{client: client, ttl: ttl}, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (*Record, bool, error) {
	data, err := s.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("error reading idempotency record: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, false, fmt.Errorf("error decoding idempotency record: %w", err)
	}
	return &rec, true, nil
}

func (s *RedisStore) Set(ctx context.Context, rec *Record) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("error encoding idempotency record: %w", err)
	}
	if err := s.client.Set(ctx, redisKeyPrefix+rec.Key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("error writing idempotency record: %w", err)
	}
	return nil
}

func (s *RedisStore) Sweep(ctx context.Context) (int64, error) {
	// Redis expires records natively.
	return 0, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
