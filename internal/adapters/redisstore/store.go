package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is a ratelimit.Store on Redis. Values are epoch milliseconds as decimal strings.
type Store struct {
	client redis.UniversalClient
}

// NewStore wraps client.
func NewStore(client redis.UniversalClient) *Store {
	return &Store{client: client}
}

// Get returns the stored time for key.
func (s *Store) Get(ctx context.Context, key string) (time.Time, bool, error) {
	raw, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("get %s: %w", key, err)
	}

	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w: %s=%q", ErrCorruptEntry, key, raw)
	}
	return time.UnixMilli(ms), true, nil
}

// Set stores at under key with expiry ttl.
func (s *Store) Set(ctx context.Context, key string, at time.Time, ttl time.Duration) error {
	val := strconv.FormatInt(at.UnixMilli(), 10)
	if err := s.client.Set(ctx, key, val, ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}
