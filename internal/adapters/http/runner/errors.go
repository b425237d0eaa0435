package runner

import "errors"

var (
	// ErrMissingToken is returned when the runner is built without a credential.
	ErrMissingToken = errors.New("runner token is required")
	// ErrUnauthorized marks a request with a missing or wrong bearer token.
	ErrUnauthorized = errors.New("bad credentials")
	// ErrUnsupportedEvent marks a dispatch with an unknown event type.
	ErrUnsupportedEvent = errors.New("unsupported event type")
	// ErrInvalidPayload marks a dispatch whose client payload does not validate.
	ErrInvalidPayload = errors.New("invalid client payload")
)
