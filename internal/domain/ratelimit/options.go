package ratelimit

import "time"

// Option configures a Limiter.
type Option func(*Limiter)

// WithWindow sets the minimum spacing between accepted submissions.
func WithWindow(window time.Duration) Option {
	return func(l *Limiter) {
		if window > 0 {
			l.window = window
		}
	}
}

// WithTTL sets the entry expiry. It is raised to the window if shorter.
func WithTTL(ttl time.Duration) Option {
	return func(l *Limiter) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}
