package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/conorfennell/knolvault/internal/dayboundary"
	"github.com/conorfennell/knolvault/internal/domain"
)

// Scheduler computes the next scheduling state of a card after a review.
type Scheduler interface {
	Next(card domain.Card, rating domain.Rating, now time.Time) domain.ScheduleUpdate
}

// Cards

// GetCard retrieves a live card by id. It returns nil, nil when none exists.
func (s *Store) GetCard(ctx context.Context, id string) (*domain.Card, error) {
	r, err := s.repos()
	if err != nil {
		return nil, err
	}
	return r.cards.Get(ctx, id)
}

// SetCard inserts or replaces a card.
func (s *Store) SetCard(ctx context.Context, card domain.Card) error {
	r, err := s.repos()
	if err != nil {
		return err
	}
	return r.cards.Set(ctx, card, s.now())
}

// DeleteCard soft deletes a card and its review log. It reports whether a live card was deleted.
func (s *Store) DeleteCard(ctx context.Context, id string) (bool, error) {
	r, err := s.repos()
	if err != nil {
		return false, err
	}
	return r.cards.Delete(ctx, id, s.now())
}

// HasCard reports whether a live card with id exists.
func (s *Store) HasCard(ctx context.Context, id string) (bool, error) {
	r, err := s.repos()
	if err != nil {
		return false, err
	}
	return r.cards.Has(ctx, id)
}

// CardIDs returns the ids of every live card.
func (s *Store) CardIDs(ctx context.Context) ([]string, error) {
	r, err := s.repos()
	if err != nil {
		return nil, err
	}
	return r.cards.Keys(ctx)
}

// AllCards retrieves every live card.
func (s *Store) AllCards(ctx context.Context) ([]domain.Card, error) {
	r, err := s.repos()
	if err != nil {
		return nil, err
	}
	return r.cards.GetAll(ctx)
}

// CardCount returns the number of live cards.
func (s *Store) CardCount(ctx context.Context) (int, error) {
	r, err := s.repos()
	if err != nil {
		return 0, err
	}
	return r.cards.Size(ctx)
}

// UpdateCardContent replaces the question and answer of a card.
func (s *Store) UpdateCardContent(ctx context.Context, id, question, answer string) error {
	r, err := s.repos()
	if err != nil {
		return err
	}
	return r.cards.UpdateContent(ctx, id, question, answer, s.now())
}

// MoveCard points a card at another source note, or at none when sourceUID is nil.
func (s *Store) MoveCard(ctx context.Context, id string, sourceUID *string) error {
	r, err := s.repos()
	if err != nil {
		return err
	}
	return r.cards.Move(ctx, id, sourceUID, s.now())
}

// SuspendCard sets or clears the suspended flag of a card.
func (s *Store) SuspendCard(ctx context.Context, id string, suspended bool) error {
	r, err := s.repos()
	if err != nil {
		return err
	}
	return r.cards.SetSuspended(ctx, id, suspended, s.now())
}

// BuryCard hides the card until the start of the next logical day.
func (s *Store) BuryCard(ctx context.Context, id string) error {
	r, err := s.repos()
	if err != nil {
		return err
	}
	now := s.now()
	until := s.calc.TomorrowBoundary(now)
	return r.cards.Bury(ctx, id, &until, now)
}

// UnburyCard makes a buried card available again.
func (s *Store) UnburyCard(ctx context.Context, id string) error {
	r, err := s.repos()
	if err != nil {
		return err
	}
	return r.cards.Bury(ctx, id, nil, s.now())
}

// AppendCardHistory adds entry to the capped review history of a card.
func (s *Store) AppendCardHistory(ctx context.Context, id string, entry domain.ReviewLogEntry) error {
	r, err := s.repos()
	if err != nil {
		return err
	}
	return r.cards.AppendHistory(ctx, id, entry, s.now())
}

// CardsBySource retrieves the live cards of a source note.
func (s *Store) CardsBySource(ctx context.Context, sourceUID string) ([]domain.Card, error) {
	r, err := s.repos()
	if err != nil {
		return nil, err
	}
	return r.cards.GetBySource(ctx, sourceUID)
}

// CardsWithContent retrieves the live cards that carry a question, with their source note and projects.
func (s *Store) CardsWithContent(ctx context.Context) ([]domain.CardWithContent, error) {
	r, err := s.repos()
	if err != nil {
		return nil, err
	}
	return r.cards.GetCardsWithContent(ctx)
}

// GetOrphanedCards returns cards whose source cannot be resolved: no uid, a
// uid without a source note, or, when a SourceResolver is set, a source note
// whose uid no document declares any more.
func (s *Store) GetOrphanedCards(ctx context.Context) ([]domain.OrphanedCard, error) {
	r, err := s.repos()
	if err != nil {
		return nil, err
	}
	orphans, err := r.cards.GetOrphaned(ctx)
	if err != nil {
		return nil, err
	}
	resolver := s.sourceResolver()
	if resolver == nil {
		return orphans, nil
	}

	flagged := make(map[string]struct{}, len(orphans))
	for _, o := range orphans {
		flagged[o.Card.ID] = struct{}{}
	}
	cards, err := r.cards.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	for _, c := range cards {
		if _, ok := flagged[c.ID]; ok || c.IsOrphaned() {
			continue
		}
		if _, ok := resolver.ResolveSource(*c.SourceUID); !ok {
			orphans = append(orphans, domain.OrphanedCard{Card: c, Reason: domain.OrphanMissingSourceFile})
		}
	}
	return orphans, nil
}

// ReviewCard applies a review: the scheduler's update, a history entry, a
// review log row and the day's counters are written in one transaction.
func (s *Store) ReviewCard(ctx context.Context, id string, rating domain.Rating, timeSpent time.Duration, scheduler Scheduler) (*domain.Card, error) {
	if !rating.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidRating, rating)
	}
	r, err := s.repos()
	if err != nil {
		return nil, err
	}
	now := s.now()
	today := s.calc.DateKey(now)

	var reviewed *domain.Card
	err = r.eng.RunInTx(ctx, func(tx *sqlx.Tx) error {
		card, err := r.cards.get(ctx, tx, id)
		if err != nil {
			return err
		}
		if card == nil {
			return fmt.Errorf("%w: %s", ErrCardNotFound, id)
		}

		prev := card.State
		elapsed := 0
		if card.LastReview != nil {
			if d, ok := dayboundary.DaysBetween(s.calc.DateKey(*card.LastReview), today); ok {
				elapsed = d
			}
		}
		update := scheduler.Next(*card, rating, now)
		card.Apply(update)

		entry := domain.ReviewLogEntry{
			Rating:        rating,
			ScheduledDays: update.ScheduledDays,
			ElapsedDays:   elapsed,
			State:         prev,
			TimeSpentMs:   timeSpent.Milliseconds(),
			Timestamp:     now,
		}
		if err := r.cards.set(ctx, tx, *card, now); err != nil {
			return err
		}
		if err := r.cards.appendHistory(ctx, tx, id, entry, now); err != nil {
			return err
		}
		if _, err := r.daily.addReviewLog(ctx, tx, id, entry); err != nil {
			return err
		}
		if _, err := r.daily.record(ctx, tx, ReviewRecord{
			Date:        today,
			CardID:      id,
			Rating:      rating,
			IsNew:       prev == domain.New,
			TimeSpentMs: entry.TimeSpentMs,
		}); err != nil {
			return err
		}
		reviewed, err = r.cards.get(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.markDirty()
	return reviewed, nil
}

// Source notes

// UpsertSourceNote inserts or updates a source note, keeping its creation time.
func (s *Store) UpsertSourceNote(ctx context.Context, note domain.SourceNote) error {
	r, err := s.repos()
	if err != nil {
		return err
	}
	return r.notes.Upsert(ctx, note, s.now())
}

// SourceNote retrieves a source note by uid. It returns nil, nil when none exists.
func (s *Store) SourceNote(ctx context.Context, uid string) (*domain.SourceNote, error) {
	r, err := s.repos()
	if err != nil {
		return nil, err
	}
	return r.notes.Get(ctx, uid)
}

// SourceNoteByPath retrieves the source note registered at path.
func (s *Store) SourceNoteByPath(ctx context.Context, path string) (*domain.SourceNote, error) {
	r, err := s.repos()
	if err != nil {
		return nil, err
	}
	return r.notes.GetByPath(ctx, path)
}

// SourceNotes retrieves every source note.
func (s *Store) SourceNotes(ctx context.Context) ([]domain.SourceNote, error) {
	r, err := s.repos()
	if err != nil {
		return nil, err
	}
	return r.notes.GetAll(ctx)
}

// UpdateSourceNotePath records a new name and path for a source note.
func (s *Store) UpdateSourceNotePath(ctx context.Context, uid, name, path string) error {
	r, err := s.repos()
	if err != nil {
		return err
	}
	return r.notes.UpdatePath(ctx, uid, name, path, s.now())
}

// DeleteSourceNote removes a source note and applies cascade to its cards.
func (s *Store) DeleteSourceNote(ctx context.Context, uid string, cascade Cascade) (bool, error) {
	r, err := s.repos()
	if err != nil {
		return false, err
	}
	return r.notes.Delete(ctx, uid, cascade, s.now())
}

// Projects

// Projects retrieves every project with its note count.
func (s *Store) Projects(ctx context.Context) ([]domain.Project, error) {
	r, err := s.repos()
	if err != nil {
		return nil, err
	}
	return r.projects.GetAll(ctx)
}

// Project retrieves a project by id.
func (s *Store) Project(ctx context.Context, id int64) (*domain.Project, error) {
	r, err := s.repos()
	if err != nil {
		return nil, err
	}
	return r.projects.Get(ctx, id)
}

// ProjectByName retrieves a project by its trimmed name.
func (s *Store) ProjectByName(ctx context.Context, name string) (*domain.Project, error) {
	r, err := s.repos()
	if err != nil {
		return nil, err
	}
	return r.projects.GetByName(ctx, name)
}

// CreateProject returns the project called name, creating it if needed.
func (s *Store) CreateProject(ctx context.Context, name string) (*domain.Project, error) {
	r, err := s.repos()
	if err != nil {
		return nil, err
	}
	return r.projects.GetOrCreate(ctx, name, s.now())
}

// RenameProject changes the name of a project. Names are unique.
func (s *Store) RenameProject(ctx context.Context, id int64, name string) error {
	r, err := s.repos()
	if err != nil {
		return err
	}
	return r.projects.Rename(ctx, id, name)
}

// DeleteProject removes a project and its memberships.
func (s *Store) DeleteProject(ctx context.Context, id int64) (bool, error) {
	r, err := s.repos()
	if err != nil {
		return false, err
	}
	return r.projects.Delete(ctx, id)
}

// SyncNoteProjects makes names the exact project set of a source note.
func (s *Store) SyncNoteProjects(ctx context.Context, sourceUID string, names []string) (ProjectSync, error) {
	r, err := s.repos()
	if err != nil {
		return ProjectSync{}, err
	}
	return r.projects.SyncNoteProjects(ctx, sourceUID, names, s.now())
}

// NoteProjects returns the project names of a source note, sorted.
func (s *Store) NoteProjects(ctx context.Context, sourceUID string) ([]string, error) {
	r, err := s.repos()
	if err != nil {
		return nil, err
	}
	return r.projects.GetNoteProjects(ctx, sourceUID)
}

// ProjectNotes returns the uids of the notes in a project.
func (s *Store) ProjectNotes(ctx context.Context, id int64) ([]string, error) {
	r, err := s.repos()
	if err != nil {
		return nil, err
	}
	return r.projects.GetProjectNotes(ctx, id)
}

// DeleteEmptyProjects removes projects without notes and returns how many went.
func (s *Store) DeleteEmptyProjects(ctx context.Context) (int64, error) {
	r, err := s.repos()
	if err != nil {
		return 0, err
	}
	return r.projects.DeleteEmptyProjects(ctx)
}

// Daily stats

// DailyStats retrieves the counters of one logical day.
func (s *Store) DailyStats(ctx context.Context, date string) (*domain.DailyStats, error) {
	r, err := s.repos()
	if err != nil {
		return nil, err
	}
	return r.daily.Get(ctx, date)
}

// DailyStatsRange retrieves the counters of the days from from to to, inclusive.
func (s *Store) DailyStatsRange(ctx context.Context, from, to string) ([]domain.DailyStats, error) {
	r, err := s.repos()
	if err != nil {
		return nil, err
	}
	return r.daily.GetRange(ctx, from, to)
}

// AllDailyStats retrieves the counters of every recorded day.
func (s *Store) AllDailyStats(ctx context.Context) ([]domain.DailyStats, error) {
	r, err := s.repos()
	if err != nil {
		return nil, err
	}
	return r.daily.GetAll(ctx)
}

// StudyDays returns the day keys with at least one review.
func (s *Store) StudyDays(ctx context.Context) ([]string, error) {
	r, err := s.repos()
	if err != nil {
		return nil, err
	}
	return r.daily.StudyDays(ctx)
}

// ReviewLogs retrieves the review log rows of a card, oldest first.
func (s *Store) ReviewLogs(ctx context.Context, cardID string) ([]domain.ReviewLog, error) {
	r, err := s.repos()
	if err != nil {
		return nil, err
	}
	return r.daily.GetReviewLogs(ctx, cardID)
}

// Aggregation

// MaturityBreakdown counts live cards per maturity bucket.
func (s *Store) MaturityBreakdown(ctx context.Context) (domain.Maturity, error) {
	r, err := s.repos()
	if err != nil {
		return domain.Maturity{}, err
	}
	return r.agg.MaturityBreakdown(ctx)
}

// DueDates returns the effective due instants of unsuspended cards past New, ascending.
func (s *Store) DueDates(ctx context.Context, now time.Time) ([]time.Time, error) {
	r, err := s.repos()
	if err != nil {
		return nil, err
	}
	return r.agg.DueDates(ctx, now)
}

// DueByDate counts effective due instants per day key.
func (s *Store) DueByDate(ctx context.Context, now time.Time) (map[string]int, error) {
	r, err := s.repos()
	if err != nil {
		return nil, err
	}
	return r.agg.DueByDate(ctx, now)
}

// DueCards retrieves the cards available for study now, up to limit (0 for all).
func (s *Store) DueCards(ctx context.Context, limit int) ([]domain.Card, error) {
	r, err := s.repos()
	if err != nil {
		return nil, err
	}
	return r.agg.DueCards(ctx, s.now(), limit)
}

// NewCards retrieves the available new cards, up to limit (0 for all).
func (s *Store) NewCards(ctx context.Context, limit int) ([]domain.Card, error) {
	r, err := s.repos()
	if err != nil {
		return nil, err
	}
	return r.agg.NewCards(ctx, s.now(), limit)
}

// Counts returns the number of available new, learning and review cards.
func (s *Store) Counts(ctx context.Context) (DueCounts, error) {
	r, err := s.repos()
	if err != nil {
		return DueCounts{}, err
	}
	return r.agg.Counts(ctx, s.now())
}
