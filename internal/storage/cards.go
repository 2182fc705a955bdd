package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/conorfennell/knolvault/internal/domain"
)

// CardRepository stores card scheduling records.
type CardRepository struct {
	eng     *Engine
	onWrite func()
}

func newCardRepository(eng *Engine, onWrite func()) *CardRepository {
	if onWrite == nil {
		onWrite = func() {}
	}
	return &CardRepository{eng: eng, onWrite: onWrite}
}

func selectCardRows(ctx context.Context, q sqlx.QueryerContext, where string, args ...any) ([]cardRow, error) {
	query := "SELECT " + cardColumns("") + " FROM cards"
	if where != "" {
		query += " WHERE " + where
	}
	var rows []cardRow
	if err := sqlx.SelectContext(ctx, q, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query cards: %w", err)
	}
	return rows, nil
}

// getRow returns the row for id including tombstones, or nil.
func getRow(ctx context.Context, q sqlx.QueryerContext, id string) (*cardRow, error) {
	var row cardRow
	err := sqlx.GetContext(ctx, q, &row, "SELECT "+cardColumns("")+" FROM cards WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get card: %w", err)
	}
	return &row, nil
}

func (r *CardRepository) get(ctx context.Context, q sqlx.QueryerContext, id string) (*domain.Card, error) {
	row, err := getRow(ctx, q, id)
	if err != nil || row == nil || row.DeletedAt.Valid {
		return nil, err
	}
	c, err := row.toCard()
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Get returns the card with id, or nil if it does not exist.
func (r *CardRepository) Get(ctx context.Context, id string) (*domain.Card, error) {
	return r.get(ctx, r.eng.db, id)
}

const upsertCardQuery = `
INSERT INTO cards (id, source_uid, question, answer, due, stability, difficulty, reps, lapses, state,
    last_review, scheduled_days, learning_step, suspended, buried_until, history, tags, created_at, updated_at)
VALUES (:id, :source_uid, :question, :answer, :due, :stability, :difficulty, :reps, :lapses, :state,
    :last_review, :scheduled_days, :learning_step, :suspended, :buried_until, :history, :tags, :created_at, :updated_at)
ON CONFLICT(id) DO UPDATE SET
    source_uid = excluded.source_uid,
    question = excluded.question,
    answer = excluded.answer,
    due = excluded.due,
    stability = excluded.stability,
    difficulty = excluded.difficulty,
    reps = excluded.reps,
    lapses = excluded.lapses,
    state = excluded.state,
    last_review = excluded.last_review,
    scheduled_days = excluded.scheduled_days,
    learning_step = excluded.learning_step,
    suspended = excluded.suspended,
    buried_until = excluded.buried_until,
    tags = excluded.tags,
    history = CASE WHEN cards.deleted_at IS NULL THEN cards.history ELSE excluded.history END,
    created_at = CASE WHEN cards.deleted_at IS NULL THEN cards.created_at ELSE excluded.created_at END,
    updated_at = excluded.updated_at,
    deleted_at = NULL`

// set writes card. A live row keeps its created_at and history; history is
// only changed through appendHistory. A new id takes card.CreatedAt, or now
// when it is zero.
func (r *CardRepository) set(ctx context.Context, e sqlx.ExtContext, card domain.Card, now time.Time) error {
	if card.ID == "" {
		return errors.New("card id is required")
	}
	if card.CreatedAt.IsZero() {
		card.CreatedAt = now
	}
	card.UpdatedAt = now
	row, err := newCardRow(card)
	if err != nil {
		return err
	}
	if _, err := sqlx.NamedExecContext(ctx, e, upsertCardQuery, row); err != nil {
		return fmt.Errorf("failed to save card: %w", err)
	}
	return nil
}

// Set inserts or replaces card.
func (r *CardRepository) Set(ctx context.Context, card domain.Card, now time.Time) error {
	if err := r.set(ctx, r.eng.db, card, now); err != nil {
		return err
	}
	r.onWrite()
	return nil
}

func (r *CardRepository) softDelete(ctx context.Context, e sqlx.ExecerContext, id string, now time.Time) (bool, error) {
	res, err := e.ExecContext(ctx, "UPDATE cards SET deleted_at = ?, updated_at = ? WHERE id = ? AND "+live(""),
		toMillis(now), toMillis(now), id)
	if err != nil {
		return false, fmt.Errorf("failed to delete card: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil || n == 0 {
		return false, err
	}
	if _, err := e.ExecContext(ctx, "UPDATE review_log SET deleted_at = ? WHERE card_id = ? AND "+live(""),
		toMillis(now), id); err != nil {
		return false, fmt.Errorf("failed to delete review log: %w", err)
	}
	return true, nil
}

// Delete soft-deletes the card and its review log. It reports whether a live
// card was deleted.
func (r *CardRepository) Delete(ctx context.Context, id string, now time.Time) (bool, error) {
	var deleted bool
	err := r.eng.RunInTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		deleted, err = r.softDelete(ctx, tx, id, now)
		return err
	})
	if err != nil {
		return false, err
	}
	if deleted {
		r.onWrite()
	}
	return deleted, nil
}

// Has reports whether a live card with id exists.
func (r *CardRepository) Has(ctx context.Context, id string) (bool, error) {
	var n int
	if err := sqlx.GetContext(ctx, r.eng.db, &n, "SELECT COUNT(*) FROM cards WHERE id = ? AND "+live(""), id); err != nil {
		return false, fmt.Errorf("failed to check card: %w", err)
	}
	return n > 0, nil
}

// Keys returns the ids of all live cards, oldest first.
func (r *CardRepository) Keys(ctx context.Context) ([]string, error) {
	var ids []string
	if err := sqlx.SelectContext(ctx, r.eng.db, &ids,
		"SELECT id FROM cards WHERE "+live("")+" ORDER BY created_at, id"); err != nil {
		return nil, fmt.Errorf("failed to list card ids: %w", err)
	}
	return ids, nil
}

// GetAll returns all live cards, oldest first.
func (r *CardRepository) GetAll(ctx context.Context) ([]domain.Card, error) {
	rows, err := selectCardRows(ctx, r.eng.db, live("")+" ORDER BY created_at, id")
	if err != nil {
		return nil, err
	}
	return toCards(rows)
}

// Size returns the number of live cards.
func (r *CardRepository) Size(ctx context.Context) (int, error) {
	var n int
	if err := sqlx.GetContext(ctx, r.eng.db, &n, "SELECT COUNT(*) FROM cards WHERE "+live("")); err != nil {
		return 0, fmt.Errorf("failed to count cards: %w", err)
	}
	return n, nil
}

// update runs a single-row update against a live card.
func (r *CardRepository) update(ctx context.Context, set string, id string, now time.Time, args ...any) error {
	args = append(args, toMillis(now), id)
	res, err := r.eng.db.ExecContext(ctx, "UPDATE cards SET "+set+", updated_at = ? WHERE id = ? AND "+live(""), args...)
	if err != nil {
		return fmt.Errorf("failed to update card: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrCardNotFound, id)
	}
	r.onWrite()
	return nil
}

// UpdateContent attaches question and answer text to a card.
func (r *CardRepository) UpdateContent(ctx context.Context, id, question, answer string, now time.Time) error {
	return r.update(ctx, "question = ?, answer = ?", id, now, question, answer)
}

// Move reassigns the card to another source note. A nil sourceUID detaches it.
// Scheduling fields and history are untouched.
func (r *CardRepository) Move(ctx context.Context, id string, sourceUID *string, now time.Time) error {
	return r.update(ctx, "source_uid = ?", id, now, nullString(sourceUID))
}

// SetSuspended toggles the suspended flag.
func (r *CardRepository) SetSuspended(ctx context.Context, id string, suspended bool, now time.Time) error {
	return r.update(ctx, "suspended = ?", id, now, boolInt(suspended))
}

// Bury hides the card until the given instant. A nil until unburies it.
func (r *CardRepository) Bury(ctx context.Context, id string, until *time.Time, now time.Time) error {
	return r.update(ctx, "buried_until = ?", id, now, nullMillis(until))
}

func (r *CardRepository) appendHistory(ctx context.Context, e sqlx.ExtContext, id string, entry domain.ReviewLogEntry, now time.Time) error {
	card, err := r.get(ctx, e, id)
	if err != nil {
		return err
	}
	if card == nil {
		return fmt.Errorf("%w: %s", ErrCardNotFound, id)
	}
	card.AppendHistory(entry)
	h, err := json.Marshal(card.History)
	if err != nil {
		return fmt.Errorf("failed to encode history: %w", err)
	}
	if _, err := e.ExecContext(ctx, "UPDATE cards SET history = ?, updated_at = ? WHERE id = ?",
		string(h), toMillis(now), id); err != nil {
		return fmt.Errorf("failed to save history: %w", err)
	}
	return nil
}

// AppendHistory adds entry to the card's history, keeping the newest
// domain.MaxHistory entries.
func (r *CardRepository) AppendHistory(ctx context.Context, id string, entry domain.ReviewLogEntry, now time.Time) error {
	err := r.eng.RunInTx(ctx, func(tx *sqlx.Tx) error {
		return r.appendHistory(ctx, tx, id, entry, now)
	})
	if err != nil {
		return err
	}
	r.onWrite()
	return nil
}

// GetBySource returns the live cards owned by sourceUID, oldest first.
func (r *CardRepository) GetBySource(ctx context.Context, sourceUID string) ([]domain.Card, error) {
	rows, err := selectCardRows(ctx, r.eng.db, "source_uid = ? AND "+live("")+" ORDER BY created_at, id", sourceUID)
	if err != nil {
		return nil, err
	}
	return toCards(rows)
}

func (r *CardRepository) orphanBySource(ctx context.Context, e sqlx.ExecerContext, sourceUID string, now time.Time) (int64, error) {
	res, err := e.ExecContext(ctx, "UPDATE cards SET source_uid = NULL, updated_at = ? WHERE source_uid = ? AND "+live(""),
		toMillis(now), sourceUID)
	if err != nil {
		return 0, fmt.Errorf("failed to orphan cards: %w", err)
	}
	return res.RowsAffected()
}

// OrphanBySource detaches every card of sourceUID and returns how many were changed.
func (r *CardRepository) OrphanBySource(ctx context.Context, sourceUID string, now time.Time) (int64, error) {
	n, err := r.orphanBySource(ctx, r.eng.db, sourceUID, now)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.onWrite()
	}
	return n, nil
}

func (r *CardRepository) deleteBySource(ctx context.Context, e sqlx.ExtContext, sourceUID string, now time.Time) (int64, error) {
	var ids []string
	if err := sqlx.SelectContext(ctx, e, &ids, "SELECT id FROM cards WHERE source_uid = ? AND "+live(""), sourceUID); err != nil {
		return 0, fmt.Errorf("failed to list cards of source: %w", err)
	}
	var n int64
	for _, id := range ids {
		ok, err := r.softDelete(ctx, e, id, now)
		if err != nil {
			return n, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}

// DeleteBySource soft-deletes every card of sourceUID with its review log.
func (r *CardRepository) DeleteBySource(ctx context.Context, sourceUID string, now time.Time) (int64, error) {
	var n int64
	err := r.eng.RunInTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		n, err = r.deleteBySource(ctx, tx, sourceUID, now)
		return err
	})
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.onWrite()
	}
	return n, nil
}

type contentRow struct {
	cardRow
	SourceName sql.NullString `db:"source_name"`
	SourcePath sql.NullString `db:"source_path"`
	Projects   sql.NullString `db:"project_names"`
}

// projectSeparator joins project names in the aggregated column. Names are
// trimmed text, so a control character cannot collide.
const projectSeparator = "\x1f"

// GetCardsWithContent returns live cards that carry question text, with the
// name and path of their source note and its project names, oldest first.
func (r *CardRepository) GetCardsWithContent(ctx context.Context) ([]domain.CardWithContent, error) {
	query := `
SELECT ` + cardColumns("c") + `,
    s.name AS source_name,
    s.path AS source_path,
    (SELECT group_concat(name, '` + projectSeparator + `') FROM (
        SELECT p.name FROM note_projects np JOIN projects p ON p.id = np.project_id
        WHERE np.source_uid = c.source_uid ORDER BY p.name)) AS project_names
FROM cards c
LEFT JOIN source_notes s ON s.uid = c.source_uid
WHERE ` + live("c") + ` AND c.question IS NOT NULL AND c.question != ''
ORDER BY c.created_at, c.id`

	var rows []contentRow
	if err := sqlx.SelectContext(ctx, r.eng.db, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to query cards with content: %w", err)
	}

	out := make([]domain.CardWithContent, 0, len(rows))
	for _, row := range rows {
		c, err := row.toCard()
		if err != nil {
			return nil, err
		}
		cwc := domain.CardWithContent{Card: c, SourceName: row.SourceName.String, SourcePath: row.SourcePath.String}
		if row.Projects.Valid && row.Projects.String != "" {
			cwc.Projects = strings.Split(row.Projects.String, projectSeparator)
		}
		out = append(out, cwc)
	}
	return out, nil
}

// GetOrphaned returns live cards with no source uid, or whose uid does not
// match a registered source note.
func (r *CardRepository) GetOrphaned(ctx context.Context) ([]domain.OrphanedCard, error) {
	query := `
SELECT ` + cardColumns("c") + `
FROM cards c
LEFT JOIN source_notes s ON s.uid = c.source_uid
WHERE ` + live("c") + ` AND (c.source_uid IS NULL OR c.source_uid = '' OR s.uid IS NULL)
ORDER BY c.created_at, c.id`

	var rows []cardRow
	if err := sqlx.SelectContext(ctx, r.eng.db, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to query orphaned cards: %w", err)
	}
	cards, err := toCards(rows)
	if err != nil {
		return nil, err
	}

	out := make([]domain.OrphanedCard, 0, len(cards))
	for _, c := range cards {
		reason := domain.OrphanMissingSourceFile
		if c.IsOrphaned() {
			reason = domain.OrphanNoSourceUID
		}
		out = append(out, domain.OrphanedCard{Card: c, Reason: reason})
	}
	return out, nil
}

// insertRow writes a raw row, tombstone and timestamps included.
func insertRow(ctx context.Context, e sqlx.ExtContext, row cardRow) error {
	query := "INSERT OR REPLACE INTO cards (" + cardColumns("") + ") VALUES (:" + strings.Join(cardFields, ", :") + ")"
	if _, err := sqlx.NamedExecContext(ctx, e, query, row); err != nil {
		return fmt.Errorf("failed to write card row: %w", err)
	}
	return nil
}
