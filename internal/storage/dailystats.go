package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/conorfennell/knolvault/internal/domain"
)

// DailyStatsRepository keeps per-day review counters and the review log.
type DailyStatsRepository struct {
	eng     *Engine
	onWrite func()
}

func newDailyStatsRepository(eng *Engine, onWrite func()) *DailyStatsRepository {
	if onWrite == nil {
		onWrite = func() {}
	}
	return &DailyStatsRepository{eng: eng, onWrite: onWrite}
}

// ReviewRecord is one review counted into a day.
type ReviewRecord struct {
	Date        string // day key, see dayboundary.Calculator.DateKey
	CardID      string
	Rating      domain.Rating
	IsNew       bool // the card was in state New before the review
	TimeSpentMs int64
}

type dailyRow struct {
	Date        string `db:"date"`
	Reviews     int    `db:"reviews"`
	Again       int    `db:"again"`
	Hard        int    `db:"hard"`
	Good        int    `db:"good"`
	Easy        int    `db:"easy"`
	NewCards    int    `db:"new_cards"`
	TimeSpentMs int64  `db:"time_spent_ms"`
}

func (r dailyRow) toStats() domain.DailyStats {
	return domain.DailyStats{
		Date:        r.Date,
		Reviews:     r.Reviews,
		Again:       r.Again,
		Hard:        r.Hard,
		Good:        r.Good,
		Easy:        r.Easy,
		NewCards:    r.NewCards,
		TimeSpentMs: r.TimeSpentMs,
	}
}

const dailyColumns = "date, reviews, again, hard, good, easy, new_cards, time_spent_ms"

func ratingCounts(r domain.Rating) (again, hard, good, easy int) {
	switch r {
	case domain.Again:
		again = 1
	case domain.Hard:
		hard = 1
	case domain.Good:
		good = 1
	case domain.Easy:
		easy = 1
	}
	return
}

// record counts rec into its day. It reports whether this is the first review
// of the card on that day; a new card is counted as new only then.
func (r *DailyStatsRepository) record(ctx context.Context, e sqlx.ExecerContext, rec ReviewRecord) (bool, error) {
	if rec.Date == "" || rec.CardID == "" {
		return false, errors.New("review record needs a date and a card id")
	}
	if !rec.Rating.Valid() {
		return false, fmt.Errorf("%w: %d", ErrInvalidRating, rec.Rating)
	}
	if _, err := e.ExecContext(ctx, "INSERT INTO daily_stats (date) VALUES (?) ON CONFLICT(date) DO NOTHING", rec.Date); err != nil {
		return false, fmt.Errorf("failed to create daily stats: %w", err)
	}
	res, err := e.ExecContext(ctx, "INSERT OR IGNORE INTO daily_reviewed_cards (date, card_id) VALUES (?, ?)", rec.Date, rec.CardID)
	if err != nil {
		return false, fmt.Errorf("failed to record reviewed card: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	first := n > 0

	newCards := 0
	if rec.IsNew && first {
		newCards = 1
	}
	again, hard, good, easy := ratingCounts(rec.Rating)
	if _, err := e.ExecContext(ctx, `
UPDATE daily_stats SET
    reviews = reviews + 1,
    again = again + ?,
    hard = hard + ?,
    good = good + ?,
    easy = easy + ?,
    new_cards = new_cards + ?,
    time_spent_ms = time_spent_ms + ?
WHERE date = ?`, again, hard, good, easy, newCards, rec.TimeSpentMs, rec.Date); err != nil {
		return false, fmt.Errorf("failed to update daily stats: %w", err)
	}
	return first, nil
}

// RecordReview counts one review. Reviewing the same card again on the same
// day counts as a review but never as a second new card.
func (r *DailyStatsRepository) RecordReview(ctx context.Context, rec ReviewRecord) (bool, error) {
	var first bool
	err := r.eng.RunInTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		first, err = r.record(ctx, tx, rec)
		return err
	})
	if err != nil {
		return false, err
	}
	r.onWrite()
	return first, nil
}

// Get returns the stats of date with the ids of the cards reviewed that day,
// or nil when nothing was recorded.
func (r *DailyStatsRepository) Get(ctx context.Context, date string) (*domain.DailyStats, error) {
	var row dailyRow
	err := sqlx.GetContext(ctx, r.eng.db, &row, "SELECT "+dailyColumns+" FROM daily_stats WHERE date = ?", date)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get daily stats: %w", err)
	}
	stats := row.toStats()
	if err := sqlx.SelectContext(ctx, r.eng.db, &stats.ReviewedCardIDs,
		"SELECT card_id FROM daily_reviewed_cards WHERE date = ? ORDER BY card_id", date); err != nil {
		return nil, fmt.Errorf("failed to get reviewed cards: %w", err)
	}
	return &stats, nil
}

func (r *DailyStatsRepository) selectDays(ctx context.Context, where string, args ...any) ([]domain.DailyStats, error) {
	query := "SELECT " + dailyColumns + " FROM daily_stats"
	if where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY date"
	var rows []dailyRow
	if err := sqlx.SelectContext(ctx, r.eng.db, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query daily stats: %w", err)
	}
	out := make([]domain.DailyStats, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toStats())
	}
	return out, nil
}

// GetRange returns the recorded days between from and to inclusive, ascending.
// Days without reviews are absent.
func (r *DailyStatsRepository) GetRange(ctx context.Context, from, to string) ([]domain.DailyStats, error) {
	return r.selectDays(ctx, "date >= ? AND date <= ?", from, to)
}

// GetAll returns every recorded day, ascending.
func (r *DailyStatsRepository) GetAll(ctx context.Context) ([]domain.DailyStats, error) {
	return r.selectDays(ctx, "")
}

// StudyDays returns the keys of the days with at least one review, ascending.
func (r *DailyStatsRepository) StudyDays(ctx context.Context) ([]string, error) {
	var days []string
	if err := sqlx.SelectContext(ctx, r.eng.db, &days, "SELECT date FROM daily_stats WHERE reviews > 0 ORDER BY date"); err != nil {
		return nil, fmt.Errorf("failed to list study days: %w", err)
	}
	return days, nil
}

func (r *DailyStatsRepository) addReviewLog(ctx context.Context, e sqlx.ExecerContext, cardID string, entry domain.ReviewLogEntry) (int64, error) {
	res, err := e.ExecContext(ctx, `
INSERT INTO review_log (card_id, rating, scheduled_days, elapsed_days, state, time_spent_ms, reviewed_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		cardID, int(entry.Rating), entry.ScheduledDays, entry.ElapsedDays, int(entry.State), entry.TimeSpentMs, toMillis(entry.Timestamp))
	if err != nil {
		return 0, fmt.Errorf("failed to add review log: %w", err)
	}
	return res.LastInsertId()
}

// AddReviewLog persists one review event and returns its id.
func (r *DailyStatsRepository) AddReviewLog(ctx context.Context, cardID string, entry domain.ReviewLogEntry) (int64, error) {
	id, err := r.addReviewLog(ctx, r.eng.db, cardID, entry)
	if err != nil {
		return 0, err
	}
	r.onWrite()
	return id, nil
}

type reviewLogRow struct {
	ID            int64  `db:"id"`
	CardID        string `db:"card_id"`
	Rating        int    `db:"rating"`
	ScheduledDays int    `db:"scheduled_days"`
	ElapsedDays   int    `db:"elapsed_days"`
	State         int    `db:"state"`
	TimeSpentMs   int64  `db:"time_spent_ms"`
	ReviewedAt    int64  `db:"reviewed_at"`
}

// GetReviewLogs returns the live review events of a card, oldest first.
func (r *DailyStatsRepository) GetReviewLogs(ctx context.Context, cardID string) ([]domain.ReviewLog, error) {
	var rows []reviewLogRow
	if err := sqlx.SelectContext(ctx, r.eng.db, &rows, `
SELECT id, card_id, rating, scheduled_days, elapsed_days, state, time_spent_ms, reviewed_at
FROM review_log WHERE card_id = ? AND `+live("")+` ORDER BY reviewed_at, id`, cardID); err != nil {
		return nil, fmt.Errorf("failed to query review log: %w", err)
	}
	out := make([]domain.ReviewLog, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.ReviewLog{
			ID:     row.ID,
			CardID: row.CardID,
			ReviewLogEntry: domain.ReviewLogEntry{
				Rating:        domain.Rating(row.Rating),
				ScheduledDays: row.ScheduledDays,
				ElapsedDays:   row.ElapsedDays,
				State:         domain.State(row.State),
				TimeSpentMs:   row.TimeSpentMs,
				Timestamp:     fromMillis(row.ReviewedAt),
			},
		})
	}
	return out, nil
}
