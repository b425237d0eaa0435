package redisstore

import "errors"

var (
	// ErrConnect is returned when the initial ping fails.
	ErrConnect = errors.New("redis connect failed")
	// ErrCorruptEntry is returned when a stored value is not an epoch-millis integer.
	ErrCorruptEntry = errors.New("corrupt rate limit entry")
	// ErrLockTimeout is returned when the slot lock cannot be acquired before ctx is done.
	ErrLockTimeout = errors.New("lock acquire timed out")
)
