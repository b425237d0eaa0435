package ratelimit

import "errors"

// Sentinel kinds for rate limiter errors.
var (
	ErrStore = errors.New("rate limit store unavailable")
)
