package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/conorfennell/knolvault/internal/domain"
)

// Cascade selects what happens to the cards of a deleted source note.
type Cascade int

const (
	// OrphanCards detaches the cards; they keep their scheduling state.
	OrphanCards Cascade = iota
	// DeleteCards soft-deletes the cards with their review log.
	DeleteCards
)

// SourceNoteRepository is the registry of documents that own cards.
type SourceNoteRepository struct {
	eng     *Engine
	cards   *CardRepository
	onWrite func()
}

func newSourceNoteRepository(eng *Engine, cards *CardRepository, onWrite func()) *SourceNoteRepository {
	if onWrite == nil {
		onWrite = func() {}
	}
	return &SourceNoteRepository{eng: eng, cards: cards, onWrite: onWrite}
}

type noteRow struct {
	UID       string `db:"uid"`
	Name      string `db:"name"`
	Path      string `db:"path"`
	CreatedAt int64  `db:"created_at"`
	UpdatedAt int64  `db:"updated_at"`
}

func (r noteRow) toNote() domain.SourceNote {
	return domain.SourceNote{
		UID:       r.UID,
		Name:      r.Name,
		Path:      r.Path,
		CreatedAt: fromMillis(r.CreatedAt),
		UpdatedAt: fromMillis(r.UpdatedAt),
	}
}

const noteColumns = "uid, name, path, created_at, updated_at"

func (r *SourceNoteRepository) getWhere(ctx context.Context, where string, arg any) (*domain.SourceNote, error) {
	var row noteRow
	err := sqlx.GetContext(ctx, r.eng.db, &row, "SELECT "+noteColumns+" FROM source_notes WHERE "+where, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get source note: %w", err)
	}
	n := row.toNote()
	return &n, nil
}

// Upsert registers note or refreshes its name and path. CreatedAt of an
// existing note is never changed.
func (r *SourceNoteRepository) Upsert(ctx context.Context, note domain.SourceNote, now time.Time) error {
	if note.UID == "" {
		return errors.New("source note uid is required")
	}
	created := note.CreatedAt
	if created.IsZero() {
		created = now
	}
	_, err := r.eng.db.ExecContext(ctx, `
INSERT INTO source_notes (uid, name, path, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
ON CONFLICT(uid) DO UPDATE SET name = excluded.name, path = excluded.path, updated_at = excluded.updated_at`,
		note.UID, note.Name, note.Path, toMillis(created), toMillis(now))
	if err != nil {
		return fmt.Errorf("failed to save source note: %w", err)
	}
	r.onWrite()
	return nil
}

// Get returns the note with uid, or nil.
func (r *SourceNoteRepository) Get(ctx context.Context, uid string) (*domain.SourceNote, error) {
	return r.getWhere(ctx, "uid = ?", uid)
}

// GetByPath returns the note currently at path, or nil.
func (r *SourceNoteRepository) GetByPath(ctx context.Context, path string) (*domain.SourceNote, error) {
	return r.getWhere(ctx, "path = ? ORDER BY updated_at DESC LIMIT 1", path)
}

// GetAll returns every note ordered by name.
func (r *SourceNoteRepository) GetAll(ctx context.Context) ([]domain.SourceNote, error) {
	return r.getAll(ctx, r.eng.db)
}

func (r *SourceNoteRepository) getAll(ctx context.Context, q sqlx.QueryerContext) ([]domain.SourceNote, error) {
	var rows []noteRow
	if err := sqlx.SelectContext(ctx, q, &rows, "SELECT "+noteColumns+" FROM source_notes ORDER BY name, uid"); err != nil {
		return nil, fmt.Errorf("failed to list source notes: %w", err)
	}
	notes := make([]domain.SourceNote, 0, len(rows))
	for _, row := range rows {
		notes = append(notes, row.toNote())
	}
	return notes, nil
}

// UpdatePath records that the note moved to path.
func (r *SourceNoteRepository) UpdatePath(ctx context.Context, uid, name, path string, now time.Time) error {
	res, err := r.eng.db.ExecContext(ctx, "UPDATE source_notes SET name = ?, path = ?, updated_at = ? WHERE uid = ?",
		name, path, toMillis(now), uid)
	if err != nil {
		return fmt.Errorf("failed to update source note path: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrSourceNoteNotFound, uid)
	}
	r.onWrite()
	return nil
}

// Delete removes the note and its project memberships, and orphans or deletes
// its cards, in one transaction. It reports whether the note existed.
func (r *SourceNoteRepository) Delete(ctx context.Context, uid string, cascade Cascade, now time.Time) (bool, error) {
	var deleted bool
	err := r.eng.RunInTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		switch cascade {
		case DeleteCards:
			_, err = r.cards.deleteBySource(ctx, tx, uid, now)
		default:
			_, err = r.cards.orphanBySource(ctx, tx, uid, now)
		}
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM note_projects WHERE source_uid = ?", uid); err != nil {
			return fmt.Errorf("failed to delete memberships: %w", err)
		}
		res, err := tx.ExecContext(ctx, "DELETE FROM source_notes WHERE uid = ?", uid)
		if err != nil {
			return fmt.Errorf("failed to delete source note: %w", err)
		}
		n, err := res.RowsAffected()
		deleted = n > 0
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

// insertNoteIfMissing adds note unless its uid is already registered.
func insertNoteIfMissing(ctx context.Context, e sqlx.ExecerContext, note domain.SourceNote) (bool, error) {
	res, err := e.ExecContext(ctx, `
INSERT INTO source_notes (uid, name, path, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
ON CONFLICT(uid) DO NOTHING`,
		note.UID, note.Name, note.Path, toMillis(note.CreatedAt), toMillis(note.UpdatedAt))
	if err != nil {
		return false, fmt.Errorf("failed to insert source note: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
