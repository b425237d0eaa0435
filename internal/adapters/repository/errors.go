package repository

import "errors"

// Sentinel kinds for artifact store errors.
var (
	ErrUnsupportedDialect = errors.New("unsupported database dialect")
	ErrOpen               = errors.New("open database")
	ErrCorruptVersion     = errors.New("corrupt proposal version")
)
