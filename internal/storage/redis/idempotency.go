// Package redis keeps Idempotency-Key reservations for order placement.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-redis/redis/v8"
)

// ErrInFlight is returned when another request holding the same key is
// still being processed.
var ErrInFlight = errors.New("request with this idempotency key is in progress")

const pendingMarker = "\x00pending"

// IdempotencyStore reserves Idempotency-Key values and remembers the
// response of the request that completed under each key.
type IdempotencyStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewIdempotencyStore returns a store that keeps keys for ttl.
func NewIdempotencyStore(rdb *redis.Client, ttl time.Duration) *IdempotencyStore {
	return &IdempotencyStore{rdb: rdb, ttl: ttl}
}

func storeKey(scope, key string) string {
	return fmt.Sprintf("idempotency:%s:%s", scope, key)
}

// Reserve claims key within scope. It returns (nil, nil) when the caller now
// owns the key, the stored response when a previous request completed under
// it, and ErrInFlight while that request is still running.
func (s *IdempotencyStore) Reserve(ctx context.Context, scope, key string) ([]byte, error) {
	k := storeKey(scope, key)

	ok, err := s.rdb.SetNX(ctx, k, pendingMarker, s.ttl).Result()
	if err != nil {
		return nil, errors.Wrap(err, "reserve key")
	}
	if ok {
		return nil, nil
	}

	stored, err := s.rdb.Get(ctx, k).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		// Expired between SETNX and GET: try once more.
		return s.Reserve(ctx, scope, key)
	case err != nil:
		return nil, errors.Wrap(err, "load key")
	case string(stored) == pendingMarker:
		return nil, ErrInFlight
	default:
		return stored, nil
	}
}

// Complete stores the response for a reserved key.
func (s *IdempotencyStore) Complete(ctx context.Context, scope, key string, response []byte) error {
	if err := s.rdb.Set(ctx, storeKey(scope, key), response, s.ttl).Err(); err != nil {
		return errors.Wrap(err, "complete key")
	}
	return nil
}

// Release drops a reservation so that the request can be retried.
func (s *IdempotencyStore) Release(ctx context.Context, scope, key string) error {
	if err := s.rdb.Del(ctx, storeKey(scope, key)).Err(); err != nil {
		return errors.Wrap(err, "release key")
	}
	return nil
}

// NewClient connects to Redis and verifies the connection.
func NewClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrap(err, "ping redis")
	}
	return rdb, nil
}
