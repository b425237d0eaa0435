package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// LockPrefix namespaces slot locks.
const LockPrefix = "lock:"

const (
	defaultLockTTL      = 30 * time.Second
	defaultPollInterval = 50 * time.Millisecond
	releaseTimeout      = 2 * time.Second
)

// releaseScript deletes the lock only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker serialises arbitration runs per slot across processes.
// A holder that dies releases implicitly when the TTL lapses.
type Locker struct {
	client redis.UniversalClient
	ttl    time.Duration
	poll   time.Duration
}

// LockerOption configures a Locker.
type LockerOption func(*Locker)

// WithLockTTL bounds how long a lock outlives a crashed holder.
func WithLockTTL(ttl time.Duration) LockerOption {
	return func(l *Locker) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// WithPollInterval sets the retry interval while waiting for a held lock.
func WithPollInterval(d time.Duration) LockerOption {
	return func(l *Locker) {
		if d > 0 {
			l.poll = d
		}
	}
}

// NewLocker creates a Locker.
func NewLocker(client redis.UniversalClient, opts ...LockerOption) *Locker {
	l := &Locker{client: client, ttl: defaultLockTTL, poll: defaultPollInterval}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Lock blocks until the slot lock is held or ctx is done.
func (l *Locker) Lock(ctx context.Context, slot string) (func(), error) {
	key := LockPrefix + slot
	token := uuid.NewString()

	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("acquire %s: %w", key, err)
		}
		if ok {
			return func() { l.release(key, token) }, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %w", ErrLockTimeout, key, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (l *Locker) release(key, token string) {
	// Release even when the caller's ctx is already cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	_ = releaseScript.Run(ctx, l.client, []string{key}, token).Err()
}
