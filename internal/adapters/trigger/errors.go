package trigger

import "errors"

var (
	// ErrDispatchFailed covers timeouts, transport errors and non-2xx replies.
	ErrDispatchFailed = errors.New("dispatch failed")
	// ErrInvalidRepository is returned for a repository not in owner/name form.
	ErrInvalidRepository = errors.New("invalid repository")
	// ErrInvalidBaseURL is returned for an unparsable API root.
	ErrInvalidBaseURL = errors.New("invalid base url")
)
