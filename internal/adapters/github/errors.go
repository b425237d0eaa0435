package github

import "errors"

var (
	// ErrInvalidRepository is returned for a repository not in owner/name form.
	ErrInvalidRepository = errors.New("invalid repository")
	// ErrInvalidBaseURL is returned for an unparsable API root.
	ErrInvalidBaseURL = errors.New("invalid base url")
	// ErrCorruptRecord is returned when the record file is not valid JSON.
	ErrCorruptRecord = errors.New("corrupt record file")
)
