package repository

import (
	"time"

	"github.com/okian/hiscore/internal/domain/model"
)

// Proposal states.
const (
	StateOpen   = "open"
	StateMerged = "merged"
	StateClosed = "closed"
)

// PublishedRecord is the merged high score for a slot.
type PublishedRecord struct {
	Slot      string `gorm:"primaryKey;size:64"`
	Score     int    `gorm:"not null"`
	Name      string `gorm:"size:3;not null"`
	Timestamp int64  `gorm:"not null"`
	UpdatedAt time.Time
}

// Proposal is a pending artifact revision. OpenSlot is set only while the
// proposal is open; its unique index allows one open proposal per slot.
type Proposal struct {
	ID        uint    `gorm:"primaryKey;autoIncrement"`
	Slot      string  `gorm:"size:64;index;not null"`
	OpenSlot  *string `gorm:"size:64;uniqueIndex"`
	Score     int     `gorm:"not null"`
	Name      string  `gorm:"size:3;not null"`
	Timestamp int64   `gorm:"not null"`
	Version   int64   `gorm:"not null;default:1"`
	State     string  `gorm:"size:16;index;not null"`

	ReviewOpened bool   `gorm:"not null;default:false"`
	ReviewTitle  string `gorm:"size:255"`
	ReviewBody   string `gorm:"type:text"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ReviewNote is one entry in a proposal's review thread.
type ReviewNote struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	ProposalID uint   `gorm:"index;not null"`
	Body       string `gorm:"type:text;not null"`
	CreatedAt  time.Time
}

func (p PublishedRecord) record() model.Record {
	return model.Record{Score: p.Score, Name: p.Name, Timestamp: p.Timestamp}
}

func (p Proposal) record() model.Record {
	return model.Record{Score: p.Score, Name: p.Name, Timestamp: p.Timestamp}
}
