package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix    = "idempotency:"
	pendingValue = "pending"
)

// RedisStore keeps idempotency keys in Redis. A reserved key holds
// "pending" until the order id is recorded.
type RedisStore struct {
	client     redis.Cmdable
	pendingTTL time.Duration
	ttl        time.Duration
}

// NewRedisStore creates the store. pendingTTL bounds how long a crashed
// placement can hold a key; ttl is how long a finished key replays its order.
// A pendingTTL shorter than ttl lets a key whose order was placed but never
// recorded be reserved again before ttl runs out.
func NewRedisStore(client redis.Cmdable, pendingTTL, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, pendingTTL: pendingTTL, ttl: ttl}
}

// Reserve claims key. When the key is already taken it returns the order id
// it resolved to, or 0 while the first request is still running.
func (s *RedisStore) Reserve(ctx context.Context, key string) (int64, bool, error) {
	ok, err := s.setPending(ctx, key)
	if err != nil || ok {
		return 0, ok, err
	}

	val, err := s.client.Get(ctx, keyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET; claim it once more
		ok, err := s.setPending(ctx, key)
		return 0, ok, err
	}
	if err != nil {
		return 0, false, fmt.Errorf("read %s: %w", key, err)
	}
	if val == pendingValue {
		return 0, false, nil
	}
	orderID, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("key %s holds %q: %w", key, val, err)
	}
	return orderID, false, nil
}

func (s *RedisStore) setPending(ctx context.Context, key string) (bool, error) {
	ok, err := s.client.SetNX(ctx, keyPrefix+key, pendingValue, s.pendingTTL).Result()
	if err != nil {
		return false, fmt.Errorf("reserve %s: %w", key, err)
	}
	return ok, nil
}

func (s *RedisStore) Complete(ctx context.Context, key string, orderID int64) error {
	return s.client.Set(ctx, keyPrefix+key, strconv.FormatInt(orderID, 10), s.ttl).Err()
}

func (s *RedisStore) Release(ctx context.Context, key string) error {
	return s.client.Del(ctx, keyPrefix+key).Err()
}
