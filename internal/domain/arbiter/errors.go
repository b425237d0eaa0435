package arbiter

import "errors"

var (
	// ErrConflict reports a lost compare-and-swap or a duplicate review.
	ErrConflict = errors.New("artifact conflict")
	// ErrInvalidEvent is returned for events that fail score or player checks.
	ErrInvalidEvent = errors.New("invalid dispatch event")
	// ErrNoProposal is returned by review actions when nothing is open.
	ErrNoProposal = errors.New("no open proposal")
	// ErrRetriesExhausted wraps the last conflict after the attempt budget is spent.
	ErrRetriesExhausted = errors.New("workflow retries exhausted")
)
