package domain

import "time"

// SourceNote is the document a set of cards was generated from. UID survives
// renames; Path is re-resolved when the document moves.
type SourceNote struct {
	UID       string
	Name      string
	Path      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Project is a named grouping of source notes.
type Project struct {
	ID        int64
	Name      string
	CreatedAt time.Time
	NoteCount int
}

// DailyStats holds the review counters of one logical day.
type DailyStats struct {
	Date            string
	Reviews         int
	Again           int
	Hard            int
	Good            int
	Easy            int
	NewCards        int
	TimeSpentMs     int64
	ReviewedCardIDs []string
}

// ReviewLog is a persisted review event.
type ReviewLog struct {
	ID     int64
	CardID string
	ReviewLogEntry
}

// OrphanReason explains why a card has no resolvable source.
type OrphanReason string

const (
	OrphanNoSourceUID       OrphanReason = "no_source_uid"
	OrphanMissingSourceFile OrphanReason = "missing_source_file"
)

// OrphanedCard is a card tagged with the reason it is orphaned.
type OrphanedCard struct {
	Card   Card
	Reason OrphanReason
}

// CardWithContent is a card with denormalized display fields of its source.
type CardWithContent struct {
	Card
	SourceName string
	SourcePath string
	Projects   []string
}

// Maturity is the breakdown of cards by learning stage.
type Maturity struct {
	New       int
	Learning  int
	Young     int
	Mature    int
	Suspended int
}

// Total returns the number of cards counted.
func (m Maturity) Total() int {
	return m.New + m.Learning + m.Young + m.Mature + m.Suspended
}

// MatureInterval is the scheduled interval, in days, from which a review card is mature.
const MatureInterval = 21
