// Package arbiter decides whether a dispatched score becomes the pending
// high-score proposal for a slot.
//
// A run resolves the current candidate, compares strictly, writes the
// proposal content under compare-and-swap and then creates or updates the
// single review thread for that proposal. Runs are idempotent: replaying an
// event that no longer beats the candidate is a no-op.
package arbiter

import (
	"context"
	"fmt"

	"github.com/okian/hiscore/internal/domain/model"
)

// Store is the artifact layer the workflow reads and mutates.
type Store interface {
	// Resolve reads the published record and any open proposal for slot.
	Resolve(ctx context.Context, slot string) (Snapshot, error)
	// WriteProposal replaces the proposal content if the stored version still
	// matches snap.Version. A mismatch returns ErrConflict.
	WriteProposal(ctx context.Context, slot string, snap Snapshot, rec model.Record) error
	// OpenReview returns the open review thread for slot, or nil.
	OpenReview(ctx context.Context, slot string) (*Review, error)
	// CreateReview opens the review thread. ErrConflict if one already exists
	// or the proposal is no longer open.
	CreateReview(ctx context.Context, slot string, change Change) (Review, error)
	// CommentReview records a revision on an existing thread. ErrConflict if
	// the thread was closed in the meantime.
	CommentReview(ctx context.Context, slot string, review Review, change Change) error
}

// ReviewActions are the human-side transitions of a proposal, offered by
// stores that keep reviews locally.
type ReviewActions interface {
	// Merge publishes the open proposal and closes its review.
	Merge(ctx context.Context, slot string) (model.Record, error)
	// Discard closes the open proposal without publishing.
	Discard(ctx context.Context, slot string) error
	// Published returns the current published record.
	Published(ctx context.Context, slot string) (model.Record, error)
}

// Snapshot is a consistent read of a slot.
type Snapshot struct {
	Published model.Record
	Proposal  *model.Record
	// Version identifies the proposal content for compare-and-swap; empty when there is none.
	Version string
}

// Candidate returns the record a new score must beat.
func (s Snapshot) Candidate() model.Record {
	if s.Proposal != nil && s.Proposal.Score > s.Published.Score {
		return *s.Proposal
	}
	return s.Published
}

// Beats reports whether rec displaces candidate. Ties keep the candidate.
func Beats(rec, candidate model.Record) bool {
	return rec.Score > candidate.Score
}

// Review is an open change-request thread.
type Review struct {
	Number int
	Title  string
	URL    string
}

// Change describes a proposal revision for a review thread.
type Change struct {
	Record    model.Record
	Published model.Record
	EventID   string
}

// Title is the review headline.
func (c Change) Title() string {
	return fmt.Sprintf("New high score: %s", c.Record)
}

// Body describes the delta.
func (c Change) Body() string {
	prev := "none"
	if !c.Published.IsZero() {
		prev = c.Published.String()
	}
	body := fmt.Sprintf("Proposed high score **%d** by **%s** (previous: %s).", c.Record.Score, c.Record.Name, prev)
	if c.EventID != "" {
		body += fmt.Sprintf("\n\nDispatch: `%s`", c.EventID)
	}
	return body
}

// Note is the comment added when an open proposal is revised.
func (c Change) Note() string {
	return fmt.Sprintf("Revised to **%d** by **%s**.", c.Record.Score, c.Record.Name)
}

// Outcome is the terminal state of a run.
type Outcome string

const (
	OutcomeProposed          Outcome = "proposed"
	OutcomeRejectedNotHigher Outcome = "rejected_not_higher"
)

// Result summarises a run.
type Result struct {
	Outcome Outcome
	// Candidate is the record in force after the run.
	Candidate model.Record
	Review    *Review
	// Healed is set when a missing review thread was created for an existing proposal.
	Healed   bool
	Attempts int
}
