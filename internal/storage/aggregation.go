package storage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/conorfennell/knolvault/internal/dayboundary"
	"github.com/conorfennell/knolvault/internal/domain"
)

// AggregationEngine answers read-only queries across all cards.
type AggregationEngine struct {
	eng  *Engine
	calc dayboundary.Calculator
}

func newAggregationEngine(eng *Engine, calc dayboundary.Calculator) *AggregationEngine {
	return &AggregationEngine{eng: eng, calc: calc}
}

// MaturityBreakdown counts live cards by stage. Suspended cards are counted
// only as suspended.
func (a *AggregationEngine) MaturityBreakdown(ctx context.Context) (domain.Maturity, error) {
	var row struct {
		New       int `db:"new"`
		Learning  int `db:"learning"`
		Young     int `db:"young"`
		Mature    int `db:"mature"`
		Suspended int `db:"suspended"`
	}
	query := fmt.Sprintf(`
SELECT
    COALESCE(SUM(CASE WHEN suspended = 0 AND state = %[1]d THEN 1 ELSE 0 END), 0) AS new,
    COALESCE(SUM(CASE WHEN suspended = 0 AND state IN (%[2]d, %[3]d) THEN 1 ELSE 0 END), 0) AS learning,
    COALESCE(SUM(CASE WHEN suspended = 0 AND state = %[4]d AND scheduled_days < %[5]d THEN 1 ELSE 0 END), 0) AS young,
    COALESCE(SUM(CASE WHEN suspended = 0 AND state = %[4]d AND scheduled_days >= %[5]d THEN 1 ELSE 0 END), 0) AS mature,
    COALESCE(SUM(CASE WHEN suspended = 1 THEN 1 ELSE 0 END), 0) AS suspended
FROM cards WHERE %[6]s`,
		domain.New, domain.Learning, domain.Relearning, domain.Review, domain.MatureInterval, live(""))
	if err := sqlx.GetContext(ctx, a.eng.db, &row, query); err != nil {
		return domain.Maturity{}, fmt.Errorf("failed to compute maturity breakdown: %w", err)
	}
	return domain.Maturity{
		New:       row.New,
		Learning:  row.Learning,
		Young:     row.Young,
		Mature:    row.Mature,
		Suspended: row.Suspended,
	}, nil
}

// effectiveDue is when c next becomes reviewable: its due instant, pushed
// back to the end of a burial that outlasts it.
func effectiveDue(c domain.Card, now time.Time) time.Time {
	if c.IsBuried(now) && c.BuriedUntil.After(c.Due) {
		return *c.BuriedUntil
	}
	return c.Due
}

func (a *AggregationEngine) scheduled(ctx context.Context, where string, args ...any) ([]domain.Card, error) {
	cond := live("") + " AND suspended = 0 AND state != ?"
	if where != "" {
		cond += " AND " + where
	}
	rows, err := selectCardRows(ctx, a.eng.db, cond+" ORDER BY due, id", append([]any{int(domain.New)}, args...)...)
	if err != nil {
		return nil, err
	}
	return toCards(rows)
}

// DueDates returns the effective due instants of every unsuspended card past
// the New state, ascending.
func (a *AggregationEngine) DueDates(ctx context.Context, now time.Time) ([]time.Time, error) {
	cards, err := a.scheduled(ctx, "")
	if err != nil {
		return nil, err
	}
	dues := make([]time.Time, 0, len(cards))
	for _, c := range cards {
		dues = append(dues, effectiveDue(c, now))
	}
	sort.Slice(dues, func(i, j int) bool { return dues[i].Before(dues[j]) })
	return dues, nil
}

// DueByDate counts effective due instants per day key. Overdue cards keep the
// key of the day they fell due.
func (a *AggregationEngine) DueByDate(ctx context.Context, now time.Time) (map[string]int, error) {
	dues, err := a.DueDates(ctx, now)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int)
	for _, d := range dues {
		out[a.calc.DateKey(d)]++
	}
	return out, nil
}

// DueCards returns the cards due in the current logical day, earliest first.
// A limit of zero or less returns all of them.
func (a *AggregationEngine) DueCards(ctx context.Context, now time.Time, limit int) ([]domain.Card, error) {
	tomorrow := a.calc.TomorrowBoundary(now)
	cards, err := a.scheduled(ctx, "due < ?", toMillis(tomorrow))
	if err != nil {
		return nil, err
	}
	var out []domain.Card
	for _, c := range cards {
		if !a.calc.IsDueToday(c, now) || !a.calc.IsSchedulable(c, now) {
			continue
		}
		out = append(out, c)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// NewCards returns schedulable new cards, oldest first.
func (a *AggregationEngine) NewCards(ctx context.Context, now time.Time, limit int) ([]domain.Card, error) {
	rows, err := selectCardRows(ctx, a.eng.db, live("")+" AND suspended = 0 AND state = ? ORDER BY created_at, id", int(domain.New))
	if err != nil {
		return nil, err
	}
	cards, err := toCards(rows)
	if err != nil {
		return nil, err
	}
	var out []domain.Card
	for _, c := range cards {
		if !a.calc.IsSchedulable(c, now) {
			continue
		}
		out = append(out, c)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// DueCounts is the size of today's queues.
type DueCounts struct {
	New      int
	Learning int
	Review   int
}

// Counts sizes today's queues. Learning covers Learning and Relearning.
func (a *AggregationEngine) Counts(ctx context.Context, now time.Time) (DueCounts, error) {
	var counts DueCounts
	newCards, err := a.NewCards(ctx, now, 0)
	if err != nil {
		return counts, err
	}
	counts.New = len(newCards)

	due, err := a.DueCards(ctx, now, 0)
	if err != nil {
		return counts, err
	}
	for _, c := range due {
		if c.State == domain.Review {
			counts.Review++
		} else {
			counts.Learning++
		}
	}
	return counts, nil
}
