package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/okian/hiscore/internal/domain/arbiter"
	"github.com/okian/hiscore/internal/domain/model"
	"github.com/okian/hiscore/pkg/logger"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SQLStore implements arbiter.Store and arbiter.ReviewActions on gorm.
type SQLStore struct {
	db  *gorm.DB
	log logger.Logger
}

// NewStore creates a SQLStore. Call Migrate first.
func NewStore(db *gorm.DB, opts ...Option) *SQLStore {
	s := &SQLStore{db: db, log: logger.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Resolve implements arbiter.Store.
func (s *SQLStore) Resolve(ctx context.Context, slot string) (arbiter.Snapshot, error) {
	var snap arbiter.Snapshot
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		pub, err := published(tx, slot)
		if err != nil {
			return err
		}
		snap.Published = pub

		p, err := openProposal(tx, slot)
		if err != nil || p == nil {
			return err
		}
		rec := p.record()
		snap.Proposal = &rec
		snap.Version = encodeVersion(p.ID, p.Version)
		return nil
	})
	if err != nil {
		return arbiter.Snapshot{}, fmt.Errorf("resolve %s: %w", slot, err)
	}
	return snap, nil
}

// WriteProposal implements arbiter.Store.
func (s *SQLStore) WriteProposal(ctx context.Context, slot string, snap arbiter.Snapshot, rec model.Record) error {
	db := s.db.WithContext(ctx)

	if snap.Version == "" {
		open := slot
		p := Proposal{
			Slot:      slot,
			OpenSlot:  &open,
			Score:     rec.Score,
			Name:      rec.Name,
			Timestamp: rec.Timestamp,
			Version:   1,
			State:     StateOpen,
		}
		if err := db.Create(&p).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return arbiter.ErrConflict
			}
			return fmt.Errorf("insert proposal: %w", err)
		}
		return nil
	}

	id, version, err := decodeVersion(snap.Version)
	if err != nil {
		return err
	}
	res := db.Model(&Proposal{}).
		Where("id = ? AND version = ? AND state = ?", id, version, StateOpen).
		Updates(map[string]any{
			"score":     rec.Score,
			"name":      rec.Name,
			"timestamp": rec.Timestamp,
			"version":   gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return fmt.Errorf("update proposal %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return arbiter.ErrConflict
	}
	return nil
}

// OpenReview implements arbiter.Store.
func (s *SQLStore) OpenReview(ctx context.Context, slot string) (*arbiter.Review, error) {
	p, err := openProposal(s.db.WithContext(ctx), slot)
	if err != nil {
		return nil, fmt.Errorf("open review %s: %w", slot, err)
	}
	if p == nil || !p.ReviewOpened {
		return nil, nil
	}
	return &arbiter.Review{Number: int(p.ID), Title: p.ReviewTitle}, nil
}

// CreateReview implements arbiter.Store.
func (s *SQLStore) CreateReview(ctx context.Context, slot string, change arbiter.Change) (arbiter.Review, error) {
	var review arbiter.Review
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := openProposal(tx, slot)
		if err != nil {
			return err
		}
		if p == nil {
			// Merged or discarded since the write.
			return arbiter.ErrConflict
		}

		res := tx.Model(&Proposal{}).
			Where("id = ? AND review_opened = ?", p.ID, false).
			Updates(map[string]any{
				"review_opened": true,
				"review_title":  change.Title(),
				"review_body":   change.Body(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return arbiter.ErrConflict
		}
		if err := tx.Create(&ReviewNote{ProposalID: p.ID, Body: change.Body()}).Error; err != nil {
			return err
		}
		review = arbiter.Review{Number: int(p.ID), Title: change.Title()}
		return nil
	})
	if err != nil {
		return arbiter.Review{}, fmt.Errorf("create review %s: %w", slot, err)
	}
	return review, nil
}

// CommentReview implements arbiter.Store.
func (s *SQLStore) CommentReview(ctx context.Context, slot string, review arbiter.Review, change arbiter.Change) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Proposal{}).
			Where("id = ? AND slot = ? AND state = ? AND review_opened = ?", review.Number, slot, StateOpen, true).
			Update("review_title", change.Title())
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return arbiter.ErrConflict
		}
		return tx.Create(&ReviewNote{ProposalID: uint(review.Number), Body: change.Note()}).Error
	})
	if err != nil {
		return fmt.Errorf("comment review #%d: %w", review.Number, err)
	}
	return nil
}

// Merge publishes the open proposal and closes it. The published score never decreases.
func (s *SQLStore) Merge(ctx context.Context, slot string) (model.Record, error) {
	var out model.Record
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := openProposal(tx, slot)
		if err != nil {
			return err
		}
		if p == nil {
			return arbiter.ErrNoProposal
		}

		current, err := published(tx, slot)
		if err != nil {
			return err
		}
		out = current
		if p.Score > current.Score {
			row := PublishedRecord{Slot: slot, Score: p.Score, Name: p.Name, Timestamp: p.Timestamp}
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "slot"}},
				DoUpdates: clause.AssignmentColumns([]string{"score", "name", "timestamp", "updated_at"}),
			}).Create(&row).Error
			if err != nil {
				return err
			}
			out = row.record()
		}
		return closeProposal(tx, p.ID, StateMerged)
	})
	if err != nil {
		return model.Record{}, fmt.Errorf("merge %s: %w", slot, err)
	}
	s.log.Info(ctx, "proposal merged", logger.String("slot", slot), logger.String("published", out.String()))
	return out, nil
}

// Discard closes the open proposal without publishing.
func (s *SQLStore) Discard(ctx context.Context, slot string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := openProposal(tx, slot)
		if err != nil {
			return err
		}
		if p == nil {
			return arbiter.ErrNoProposal
		}
		return closeProposal(tx, p.ID, StateClosed)
	})
	if err != nil {
		return fmt.Errorf("discard %s: %w", slot, err)
	}
	s.log.Info(ctx, "proposal discarded", logger.String("slot", slot))
	return nil
}

// Published returns the published record for slot, zero if none.
func (s *SQLStore) Published(ctx context.Context, slot string) (model.Record, error) {
	rec, err := published(s.db.WithContext(ctx), slot)
	if err != nil {
		return model.Record{}, fmt.Errorf("published %s: %w", slot, err)
	}
	return rec, nil
}

// Notes returns the review thread of a proposal, oldest first.
func (s *SQLStore) Notes(ctx context.Context, reviewNumber int) ([]string, error) {
	var notes []ReviewNote
	err := s.db.WithContext(ctx).
		Where("proposal_id = ?", reviewNumber).
		Order("id ASC").
		Find(&notes).Error
	if err != nil {
		return nil, fmt.Errorf("notes #%d: %w", reviewNumber, err)
	}
	out := make([]string, len(notes))
	for i, n := range notes {
		out[i] = n.Body
	}
	return out, nil
}

func published(tx *gorm.DB, slot string) (model.Record, error) {
	var row PublishedRecord
	err := tx.Where("slot = ?", slot).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Record{}, nil
	}
	if err != nil {
		return model.Record{}, err
	}
	return row.record(), nil
}

func openProposal(tx *gorm.DB, slot string) (*Proposal, error) {
	var p Proposal
	err := tx.Where("open_slot = ?", slot).Take(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func closeProposal(tx *gorm.DB, id uint, state string) error {
	return tx.Model(&Proposal{}).
		Where("id = ?", id).
		Updates(map[string]any{"state": state, "open_slot": nil}).Error
}

func encodeVersion(id uint, version int64) string {
	return fmt.Sprintf("%d.%d", id, version)
}

func decodeVersion(v string) (uint, int64, error) {
	idPart, verPart, ok := strings.Cut(v, ".")
	if !ok {
		return 0, 0, fmt.Errorf("%w: %q", ErrCorruptVersion, v)
	}
	id, err := strconv.ParseUint(idPart, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrCorruptVersion, v)
	}
	ver, err := strconv.ParseInt(verPart, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrCorruptVersion, v)
	}
	return uint(id), ver, nil
}
