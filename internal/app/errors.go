package app

import "errors"

var (
	// ErrRateLimitUnavailable is returned when the limiter store cannot be read.
	ErrRateLimitUnavailable = errors.New("rate limit store unavailable")
	// ErrDispatch is returned when the publication trigger fails.
	ErrDispatch = errors.New("publication trigger failed")
)
