package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/contactkeeper/internal/common"
	"github.com/redis/go-redis/v9"
)

// RedisOptions describes how to reach the cache tier.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// Timeout bounds dialing and every read/write on a pooled connection.
	Timeout time.Duration
}

// RedisStore implements Store on a shared go-redis connection pool.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore creates the client. No connection is made until first use;
// call Ping to fail fast at startup.
func NewRedisStore(o RedisOptions) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:         o.Addr,
		Password:     o.Password,
		DB:           o.DB,
		DialTimeout:  o.Timeout,
		ReadTimeout:  o.Timeout,
		WriteTimeout: o.Timeout,
	})
	return NewRedisStoreFromClient(client)
}

// NewRedisStoreFromClient wraps an existing client (cluster, sentinel, tests).
func NewRedisStoreFromClient(c redis.UniversalClient) *RedisStore {
	return &RedisStore{client: c}
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("cache set %s: non-positive ttl %s", key, ttl)
	}
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return unavailable("set", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	v, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrMiss
	}
	if err != nil {
		return "", unavailable("get", err)
	}
	return v, nil
}

// Replace issues SET key value XX KEEPTTL.
func (s *RedisStore) Replace(ctx context.Context, key, value string) error {
	err := s.client.SetArgs(ctx, key, value, redis.SetArgs{Mode: "XX", KeepTTL: true}).Err()
	if errors.Is(err, redis.Nil) {
		return ErrMiss
	}
	if err != nil {
		return unavailable("replace", err)
	}
	return nil
}

// IncrUntil runs INCR and EXPIREAT inside one MULTI/EXEC block so a counter
// is never left without an expiry.
func (s *RedisStore) IncrUntil(ctx context.Context, key string, expireAt time.Time) (int64, error) {
	var incr *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.ExpireAt(ctx, key, expireAt)
		return nil
	})
	if err != nil {
		return 0, unavailable("incr", err)
	}
	return incr.Val(), nil
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return unavailable("del", err)
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: redis %s: %v", common.ErrCacheUnavailable, op, err)
}
