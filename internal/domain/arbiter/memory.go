package arbiter

import (
	"context"
	"strconv"
	"sync"

	"github.com/okian/hiscore/internal/domain/model"
)

type memorySlot struct {
	published model.Record
	proposal  *model.Record
	version   int
	review    *Review
	notes     []string
}

// MemoryStore is an in-process Store with review actions.
type MemoryStore struct {
	mu         sync.Mutex
	slots      map[string]*memorySlot
	nextReview int
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{slots: make(map[string]*memorySlot)}
}

func (m *MemoryStore) slot(name string) *memorySlot {
	s, ok := m.slots[name]
	if !ok {
		s = &memorySlot{}
		m.slots[name] = s
	}
	return s
}

// Resolve implements Store.
func (m *MemoryStore) Resolve(_ context.Context, slot string) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.slot(slot)
	snap := Snapshot{Published: s.published}
	if s.proposal != nil {
		p := *s.proposal
		snap.Proposal = &p
		snap.Version = strconv.Itoa(s.version)
	}
	return snap, nil
}

// WriteProposal implements Store.
func (m *MemoryStore) WriteProposal(_ context.Context, slot string, snap Snapshot, rec model.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.slot(slot)
	current := ""
	if s.proposal != nil {
		current = strconv.Itoa(s.version)
	}
	if current != snap.Version {
		return ErrConflict
	}
	s.proposal = &rec
	s.version++
	return nil
}

// OpenReview implements Store.
func (m *MemoryStore) OpenReview(_ context.Context, slot string) (*Review, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.slot(slot)
	if s.review == nil {
		return nil, nil
	}
	r := *s.review
	return &r, nil
}

// CreateReview implements Store.
func (m *MemoryStore) CreateReview(_ context.Context, slot string, change Change) (Review, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.slot(slot)
	if s.review != nil {
		return Review{}, ErrConflict
	}
	m.nextReview++
	s.review = &Review{Number: m.nextReview, Title: change.Title()}
	s.notes = append(s.notes, change.Body())
	return *s.review, nil
}

// CommentReview implements Store.
func (m *MemoryStore) CommentReview(_ context.Context, slot string, review Review, change Change) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.slot(slot)
	if s.review == nil || s.review.Number != review.Number {
		return ErrConflict
	}
	s.review.Title = change.Title()
	s.notes = append(s.notes, change.Note())
	return nil
}

// Merge publishes the open proposal and closes it. The published score never decreases.
func (m *MemoryStore) Merge(_ context.Context, slot string) (model.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.slot(slot)
	if s.proposal == nil {
		return s.published, ErrNoProposal
	}
	if s.proposal.Score > s.published.Score {
		s.published = *s.proposal
	}
	s.proposal = nil
	s.review = nil
	s.notes = nil
	return s.published, nil
}

// Discard closes the open proposal without publishing it.
func (m *MemoryStore) Discard(_ context.Context, slot string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.slot(slot)
	if s.proposal == nil {
		return ErrNoProposal
	}
	s.proposal = nil
	s.review = nil
	s.notes = nil
	return nil
}

// Published returns the published record for slot.
func (m *MemoryStore) Published(_ context.Context, slot string) (model.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.slot(slot).published, nil
}

// SetPublished seeds the published record.
func (m *MemoryStore) SetPublished(slot string, rec model.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slot(slot).published = rec
}

// Notes returns the review thread text for slot, oldest first.
func (m *MemoryStore) Notes(slot string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.slot(slot).notes...)
}
