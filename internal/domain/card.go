package domain

import (
	"fmt"
	"time"
)

// MaxHistory is the number of review log entries kept on a card.
const MaxHistory = 20

// State is the learning stage of a card.
type State int

const (
	New State = iota
	Learning
	Review
	Relearning
)

var stateNames = [...]string{New: "New", Learning: "Learning", Review: "Review", Relearning: "Relearning"}

func (s State) String() string {
	if s >= New && s <= Relearning {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Rating is the user's response to a card review.
// 1: Again (Incorrect)
// 2: Hard
// 3: Good
// 4: Easy
type Rating int

const (
	Again Rating = 1
	Hard  Rating = 2
	Good  Rating = 3
	Easy  Rating = 4
)

// Valid reports whether r is one of the four known ratings.
func (r Rating) Valid() bool {
	return r >= Again && r <= Easy
}

func (r Rating) String() string {
	switch r {
	case Again:
		return "again"
	case Hard:
		return "hard"
	case Good:
		return "good"
	case Easy:
		return "easy"
	}
	return fmt.Sprintf("Rating(%d)", int(r))
}

// ReviewLogEntry records a single review event for a card.
type ReviewLogEntry struct {
	Rating        Rating    `json:"rating"`
	ScheduledDays int       `json:"scheduledDays"`
	ElapsedDays   int       `json:"elapsedDays"`
	State         State     `json:"state"`
	TimeSpentMs   int64     `json:"timeSpentMs"`
	Timestamp     time.Time `json:"timestamp"`
}

// Card is the atomic scheduling unit.
//
// Question and Answer are nil until text is attached. A zero CreatedAt means
// "not supplied" and is resolved by the store.
type Card struct {
	ID string

	Due           time.Time
	Stability     float64
	Difficulty    float64
	Reps          int
	Lapses        int
	State         State
	LastReview    *time.Time
	ScheduledDays int
	LearningStep  int

	Suspended   bool
	BuriedUntil *time.Time

	Question *string
	Answer   *string
	Tags     []string

	SourceUID *string

	CreatedAt time.Time
	UpdatedAt time.Time

	History []ReviewLogEntry
}

// IsBuried reports whether the card is buried at now.
func (c Card) IsBuried(now time.Time) bool {
	return c.BuriedUntil != nil && now.Before(*c.BuriedUntil)
}

// IsOrphaned reports whether the card has no source reference at all.
// Dangling references can only be detected against the store.
func (c Card) IsOrphaned() bool {
	return c.SourceUID == nil || *c.SourceUID == ""
}

// HasContent reports whether question text has been attached.
func (c Card) HasContent() bool {
	return c.Question != nil && *c.Question != ""
}

// AppendHistory adds e to the history, evicting the oldest entries beyond MaxHistory.
func (c *Card) AppendHistory(e ReviewLogEntry) {
	c.History = append(c.History, e)
	if over := len(c.History) - MaxHistory; over > 0 {
		c.History = append([]ReviewLogEntry(nil), c.History[over:]...)
	}
}

// ScheduleUpdate is the output of a scheduling algorithm for one review.
type ScheduleUpdate struct {
	Due           time.Time
	Stability     float64
	Difficulty    float64
	State         State
	ScheduledDays int
	LearningStep  int
	Reps          int
	Lapses        int
	LastReview    time.Time
}

// Apply replaces the card's scheduling fields with u. Content, flags and
// history are left untouched.
func (c *Card) Apply(u ScheduleUpdate) {
	c.Due = u.Due
	c.Stability = u.Stability
	c.Difficulty = u.Difficulty
	c.State = u.State
	c.ScheduledDays = u.ScheduledDays
	c.LearningStep = u.LearningStep
	c.Reps = u.Reps
	c.Lapses = u.Lapses
	lr := u.LastReview
	c.LastReview = &lr
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}

// TimePtr returns a pointer to t.
func TimePtr(t time.Time) *time.Time {
	return &t
}
