package github

import (
	"net/http"

	"github.com/okian/hiscore/pkg/logger"
)

// Option configures a Store.
type Option func(*Store)

// WithBaseURL points the store at a GitHub-compatible API root.
func WithBaseURL(u string) Option {
	return func(s *Store) {
		if u != "" {
			s.baseURL = u
		}
	}
}

// WithBaseBranch sets the branch holding the published record.
func WithBaseBranch(b string) Option {
	return func(s *Store) {
		if b != "" {
			s.baseBranch = b
		}
	}
}

// WithProposalBranch sets the shared branch holding the proposal.
func WithProposalBranch(b string) Option {
	return func(s *Store) {
		if b != "" {
			s.proposalBranch = b
		}
	}
}

// WithRecordPath sets the record file path inside the repository.
func WithRecordPath(p string) Option {
	return func(s *Store) {
		if p != "" {
			s.recordPath = p
		}
	}
}

// WithHTTPClient supplies the transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(s *Store) {
		if hc != nil {
			s.httpClient = hc
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}
