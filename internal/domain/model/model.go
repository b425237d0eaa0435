// Package model contains domain models passed between layers.
package model

import (
	"fmt"
	"time"
)

// EventTypeUpdateScore is the dispatch event type understood by the arbiter.
const EventTypeUpdateScore = "update-score"

// Submission is a validated score submission.
type Submission struct {
	Score  int
	Player string // three upper-case letters
}

// DispatchEvent carries an accepted submission from the gateway to the arbiter.
// Delivery is at-least-once; ID only helps drop exact replays.
type DispatchEvent struct {
	ID          string
	Score       int
	Player      string
	SubmittedAt time.Time
}

// Record is the stored shape of both the proposal artifact and the published record.
type Record struct {
	Score     int    `json:"score"`
	Name      string `json:"name"`
	Timestamp int64  `json:"timestamp"` // epoch millis
}

// IsZero reports whether r holds no record at all.
func (r Record) IsZero() bool {
	return r == Record{}
}

// Time returns the record timestamp as a time.Time.
func (r Record) Time() time.Time {
	return time.UnixMilli(r.Timestamp)
}

func (r Record) String() string {
	return fmt.Sprintf("%d by %s", r.Score, r.Name)
}

// Record converts an event to the artifact content it would write.
func (e DispatchEvent) Record() Record {
	return Record{Score: e.Score, Name: e.Player, Timestamp: e.SubmittedAt.UnixMilli()}
}
