// Package ratelimit enforces a minimum spacing between accepted submissions
// from the same source.
//
// The check and the write are separate store calls. Two near-simultaneous
// requests from one source may both pass; downstream arbitration absorbs the
// duplicate, so no lock is taken.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"
)

// KeyPrefix namespaces rate-limit entries in a shared store.
const KeyPrefix = "ratelimit:"

// Default timing.
const (
	DefaultWindow = 30 * time.Second
	DefaultTTL    = 60 * time.Second
)

// Store persists the last accepted submission time per key, with expiry.
type Store interface {
	// Get returns the stored time and whether an unexpired entry exists.
	Get(ctx context.Context, key string) (time.Time, bool, error)
	// Set overwrites the entry for key, expiring it after ttl.
	Set(ctx context.Context, key string, at time.Time, ttl time.Duration) error
}

// Decision is the outcome of a limiter check.
type Decision struct {
	Allowed bool
	// RetryAfter is the whole number of seconds until the next allowed submission.
	RetryAfter int
}

// DeniedError reports a rate-limit denial.
type DeniedError struct {
	RetryAfter int
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("rate limited: retry after %ds", e.RetryAfter)
}

// Limiter implements the per-source window.
type Limiter struct {
	store  Store
	window time.Duration
	ttl    time.Duration
	now    func() time.Time
}

// NewLimiter creates a Limiter over store.
func NewLimiter(store Store, opts ...Option) *Limiter {
	l := &Limiter{
		store:  store,
		window: DefaultWindow,
		ttl:    DefaultTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.ttl < l.window {
		l.ttl = l.window
	}
	return l
}

// Window returns the enforced spacing.
func (l *Limiter) Window() time.Duration { return l.window }

// Key returns the store key for a source.
func Key(source string) string { return KeyPrefix + source }

// Check reports whether source may submit now. It never writes.
func (l *Limiter) Check(ctx context.Context, source string) (Decision, error) {
	last, ok, err := l.store.Get(ctx, Key(source))
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %w", ErrStore, err)
	}
	if !ok {
		return Decision{Allowed: true}, nil
	}

	elapsed := l.now().Sub(last)
	if elapsed < 0 {
		// Entry written by a host with a faster clock.
		elapsed = 0
	}
	if elapsed >= l.window {
		return Decision{Allowed: true}, nil
	}
	return Decision{Allowed: false, RetryAfter: retryAfter(l.window - elapsed)}, nil
}

// Record stores now as the last accepted submission time for source.
func (l *Limiter) Record(ctx context.Context, source string) error {
	if err := l.store.Set(ctx, Key(source), l.now(), l.ttl); err != nil {
		return fmt.Errorf("%w: %w", ErrStore, err)
	}
	return nil
}

// CheckAndRecord checks source and, when allowed, records the submission.
// A denial leaves the stored entry untouched.
func (l *Limiter) CheckAndRecord(ctx context.Context, source string) (Decision, error) {
	d, err := l.Check(ctx, source)
	if err != nil || !d.Allowed {
		return d, err
	}
	if err := l.Record(ctx, source); err != nil {
		return Decision{}, err
	}
	return d, nil
}

func retryAfter(remaining time.Duration) int {
	secs := int(math.Ceil(remaining.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}
