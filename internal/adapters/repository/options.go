package repository

import "github.com/okian/hiscore/pkg/logger"

// Option applies a configuration option to the SQLStore.
type Option func(*SQLStore)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(s *SQLStore) {
		if l != nil {
			s.log = l
		}
	}
}
