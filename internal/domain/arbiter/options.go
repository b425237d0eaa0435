package arbiter

import (
	"time"

	"github.com/okian/hiscore/pkg/logger"
)

// Option configures a Workflow.
type Option func(*Workflow)

// WithSlot sets the slot a workflow arbitrates.
func WithSlot(slot string) Option {
	return func(w *Workflow) {
		if slot != "" {
			w.slot = slot
		}
	}
}

// WithLocker replaces the in-process slot lock.
func WithLocker(l Locker) Option {
	return func(w *Workflow) {
		if l != nil {
			w.locker = l
		}
	}
}

// WithMaxAttempts bounds read-compare-write attempts per run.
func WithMaxAttempts(n int) Option {
	return func(w *Workflow) {
		if n > 0 {
			w.maxAttempts = n
		}
	}
}

// WithRetryInterval sets the initial backoff between conflicting attempts.
func WithRetryInterval(d time.Duration) Option {
	return func(w *Workflow) {
		if d > 0 {
			w.retryInterval = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(w *Workflow) {
		if l != nil {
			w.log = l
		}
	}
}
