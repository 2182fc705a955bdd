package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/conorfennell/knolvault/internal/domain"
)

// Timestamps are stored as unix milliseconds.

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms)
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromNullMillis(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.UnixMilli(n.Int64)
	return &t
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func fromNullString(n sql.NullString) *string {
	if !n.Valid {
		return nil
	}
	s := n.String
	return &s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var cardFields = []string{
	"id", "source_uid", "question", "answer", "due", "stability", "difficulty",
	"reps", "lapses", "state", "last_review", "scheduled_days", "learning_step",
	"suspended", "buried_until", "history", "tags", "created_at", "updated_at", "deleted_at",
}

// cardColumns renders the card column list, prefixed with alias when set.
func cardColumns(alias string) string {
	if alias == "" {
		return strings.Join(cardFields, ", ")
	}
	cols := make([]string, len(cardFields))
	for i, f := range cardFields {
		cols[i] = alias + "." + f
	}
	return strings.Join(cols, ", ")
}

// live is the predicate selecting rows that are not soft-deleted.
func live(alias string) string {
	if alias == "" {
		return "deleted_at IS NULL"
	}
	return alias + ".deleted_at IS NULL"
}

type cardRow struct {
	ID            string         `db:"id"`
	SourceUID     sql.NullString `db:"source_uid"`
	Question      sql.NullString `db:"question"`
	Answer        sql.NullString `db:"answer"`
	Due           int64          `db:"due"`
	Stability     float64        `db:"stability"`
	Difficulty    float64        `db:"difficulty"`
	Reps          int            `db:"reps"`
	Lapses        int            `db:"lapses"`
	State         int            `db:"state"`
	LastReview    sql.NullInt64  `db:"last_review"`
	ScheduledDays int            `db:"scheduled_days"`
	LearningStep  int            `db:"learning_step"`
	Suspended     int            `db:"suspended"`
	BuriedUntil   sql.NullInt64  `db:"buried_until"`
	History       string         `db:"history"`
	Tags          string         `db:"tags"`
	CreatedAt     int64          `db:"created_at"`
	UpdatedAt     int64          `db:"updated_at"`
	DeletedAt     sql.NullInt64  `db:"deleted_at"`
}

func newCardRow(c domain.Card) (cardRow, error) {
	history := c.History
	if history == nil {
		history = []domain.ReviewLogEntry{}
	}
	h, err := json.Marshal(history)
	if err != nil {
		return cardRow{}, fmt.Errorf("failed to encode history: %w", err)
	}
	tags := c.Tags
	if tags == nil {
		tags = []string{}
	}
	tg, err := json.Marshal(tags)
	if err != nil {
		return cardRow{}, fmt.Errorf("failed to encode tags: %w", err)
	}
	return cardRow{
		ID:            c.ID,
		SourceUID:     nullString(c.SourceUID),
		Question:      nullString(c.Question),
		Answer:        nullString(c.Answer),
		Due:           toMillis(c.Due),
		Stability:     c.Stability,
		Difficulty:    c.Difficulty,
		Reps:          c.Reps,
		Lapses:        c.Lapses,
		State:         int(c.State),
		LastReview:    nullMillis(c.LastReview),
		ScheduledDays: c.ScheduledDays,
		LearningStep:  c.LearningStep,
		Suspended:     boolInt(c.Suspended),
		BuriedUntil:   nullMillis(c.BuriedUntil),
		History:       string(h),
		Tags:          string(tg),
		CreatedAt:     toMillis(c.CreatedAt),
		UpdatedAt:     toMillis(c.UpdatedAt),
	}, nil
}

func (r cardRow) toCard() (domain.Card, error) {
	var history []domain.ReviewLogEntry
	if r.History != "" {
		if err := json.Unmarshal([]byte(r.History), &history); err != nil {
			return domain.Card{}, fmt.Errorf("failed to decode history of card %s: %w", r.ID, err)
		}
	}
	var tags []string
	if r.Tags != "" {
		if err := json.Unmarshal([]byte(r.Tags), &tags); err != nil {
			return domain.Card{}, fmt.Errorf("failed to decode tags of card %s: %w", r.ID, err)
		}
	}
	if len(tags) == 0 {
		tags = nil
	}
	if len(history) == 0 {
		history = nil
	}
	return domain.Card{
		ID:            r.ID,
		SourceUID:     fromNullString(r.SourceUID),
		Question:      fromNullString(r.Question),
		Answer:        fromNullString(r.Answer),
		Due:           fromMillis(r.Due),
		Stability:     r.Stability,
		Difficulty:    r.Difficulty,
		Reps:          r.Reps,
		Lapses:        r.Lapses,
		State:         domain.State(r.State),
		LastReview:    fromNullMillis(r.LastReview),
		ScheduledDays: r.ScheduledDays,
		LearningStep:  r.LearningStep,
		Suspended:     r.Suspended != 0,
		BuriedUntil:   fromNullMillis(r.BuriedUntil),
		History:       history,
		Tags:          tags,
		CreatedAt:     fromMillis(r.CreatedAt),
		UpdatedAt:     fromMillis(r.UpdatedAt),
	}, nil
}

func toCards(rows []cardRow) ([]domain.Card, error) {
	cards := make([]domain.Card, 0, len(rows))
	for _, r := range rows {
		c, err := r.toCard()
		if err != nil {
			return nil, err
		}
		cards = append(cards, c)
	}
	return cards, nil
}
