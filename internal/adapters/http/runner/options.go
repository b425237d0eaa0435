package runner

import (
	"github.com/okian/hiscore/internal/domain/arbiter"
	"github.com/okian/hiscore/pkg/logger"
)

// Option configures a Server.
type Option func(*Server)

// WithReviewActions exposes merge, close and record routes backed by a.
func WithReviewActions(a arbiter.ReviewActions) Option {
	return func(s *Server) {
		s.actions = a
	}
}

// WithLogger sets the handler logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}
