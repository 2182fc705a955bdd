// Package stats derives user-facing summaries from the card store: maturity,
// due forecasts, review history, streaks and range totals. It never writes.
package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/conorfennell/knolvault/internal/dayboundary"
	"github.com/conorfennell/knolvault/internal/domain"
)

// Source is the read side of the store that statistics are computed from.
// storage.Store implements it.
type Source interface {
	MaturityBreakdown(ctx context.Context) (domain.Maturity, error)
	DueDates(ctx context.Context, now time.Time) ([]time.Time, error)
	DailyStatsRange(ctx context.Context, from, to string) ([]domain.DailyStats, error)
	StudyDays(ctx context.Context) ([]string, error)
}

// Range selects the window of a forecast or summary.
type Range string

const (
	Backlog Range = "backlog" // overdue only
	Month   Range = "1m"
	Quarter Range = "3m"
	Year    Range = "1y"
	All     Range = "all"
)

// ParseRange validates a range name.
func ParseRange(s string) (Range, error) {
	switch r := Range(s); r {
	case Backlog, Month, Quarter, Year, All:
		return r, nil
	}
	return "", fmt.Errorf("unknown range %q, expected one of backlog, 1m, 3m, 1y, all", s)
}

// Days is the window length in days; zero for Backlog and All.
func (r Range) Days() int {
	switch r {
	case Month:
		return 30
	case Quarter:
		return 90
	case Year:
		return 365
	}
	return 0
}

// Calculator computes statistics over a Source.
type Calculator struct {
	src  Source
	days dayboundary.Calculator
}

// New returns a Calculator reading from src and counting days with days.
func New(src Source, days dayboundary.Calculator) *Calculator {
	return &Calculator{src: src, days: days}
}

// Maturity returns the card breakdown by stage.
func (c *Calculator) Maturity(ctx context.Context) (domain.Maturity, error) {
	return c.src.MaturityBreakdown(ctx)
}

// DueBucket is the number of cards falling due on one day.
type DueBucket struct {
	Date       string
	Offset     int // days from today, negative when overdue
	Count      int
	Cumulative int
}

// Forecast is a due histogram with a running sum.
type Forecast struct {
	Range   Range
	Buckets []DueBucket
	Total   int
}

// FutureDue builds the due histogram for r. Backlog lists overdue days only.
// Forward windows start today with overdue cards folded into today, and list
// every day of the window; All extends to the last day anything is due.
func (c *Calculator) FutureDue(ctx context.Context, r Range, now time.Time) (Forecast, error) {
	dues, err := c.src.DueDates(ctx, now)
	if err != nil {
		return Forecast{}, err
	}
	today := c.days.DateKey(now)

	counts := make(map[int]int)
	maxOffset := 0
	for _, d := range dues {
		off, ok := dayboundary.DaysBetween(today, c.days.DateKey(d))
		if !ok {
			continue
		}
		if r == Backlog {
			if off < 0 {
				counts[off]++
			}
			continue
		}
		if off < 0 {
			off = 0
		}
		counts[off]++
		if off > maxOffset {
			maxOffset = off
		}
	}

	var from, to int
	switch r {
	case Backlog:
		for off := range counts {
			if off < from {
				from = off
			}
		}
		to = -1
	case All:
		if len(counts) == 0 {
			return Forecast{Range: r}, nil
		}
		to = maxOffset
	default:
		to = r.Days() - 1
	}

	f := Forecast{Range: r}
	for off := from; off <= to; off++ {
		f.Total += counts[off]
		f.Buckets = append(f.Buckets, DueBucket{
			Date:       dayboundary.AddDays(today, off),
			Offset:     off,
			Count:      counts[off],
			Cumulative: f.Total,
		})
	}
	return f, nil
}

// ReviewHistory returns one entry per day from from to to inclusive; days
// without reviews are zero-valued.
func (c *Calculator) ReviewHistory(ctx context.Context, from, to string) ([]domain.DailyStats, error) {
	n, ok := dayboundary.DaysBetween(from, to)
	if !ok {
		return nil, fmt.Errorf("invalid day range %q to %q", from, to)
	}
	if n < 0 {
		return nil, nil
	}
	recorded, err := c.src.DailyStatsRange(ctx, from, to)
	if err != nil {
		return nil, err
	}
	byDate := make(map[string]domain.DailyStats, len(recorded))
	for _, d := range recorded {
		byDate[d.Date] = d
	}

	out := make([]domain.DailyStats, 0, n+1)
	for i := 0; i <= n; i++ {
		key := dayboundary.AddDays(from, i)
		day, ok := byDate[key]
		if !ok {
			day = domain.DailyStats{Date: key}
		}
		out = append(out, day)
	}
	return out, nil
}

// Streaks computes the current and longest study streaks at now.
func (c *Calculator) Streaks(ctx context.Context, now time.Time) (Streaks, error) {
	days, err := c.src.StudyDays(ctx)
	if err != nil {
		return Streaks{}, err
	}
	return Streaks{
		Current: CurrentStreak(days, c.days.DateKey(now)),
		Longest: LongestStreak(days),
	}, nil
}

// Today returns today's counters, zero-valued when nothing was reviewed.
func (c *Calculator) Today(ctx context.Context, now time.Time) (domain.DailyStats, error) {
	today := c.days.DateKey(now)
	days, err := c.src.DailyStatsRange(ctx, today, today)
	if err != nil {
		return domain.DailyStats{}, err
	}
	if len(days) == 0 {
		return domain.DailyStats{Date: today}, nil
	}
	return days[0], nil
}

// Summary totals the reviews of a window ending today.
type Summary struct {
	Range     Range
	From, To  string // From is empty for unbounded windows
	Reviews   int
	Again     int
	Hard      int
	Good      int
	Easy      int
	NewCards  int
	TimeSpent time.Duration
	StudyDays int
	// Accuracy is the share of reviews not rated Again, in [0, 1].
	Accuracy float64
	// PerStudyDay is the average number of reviews on days with reviews.
	PerStudyDay float64
}

// RangeSummary totals the trailing window r. Backlog and All cover the whole
// history.
func (c *Calculator) RangeSummary(ctx context.Context, r Range, now time.Time) (Summary, error) {
	today := c.days.DateKey(now)
	s := Summary{Range: r, To: today}
	if n := r.Days(); n > 0 {
		s.From = dayboundary.AddDays(today, -(n - 1))
	}

	days, err := c.src.DailyStatsRange(ctx, s.From, today)
	if err != nil {
		return Summary{}, err
	}
	var ms int64
	for _, d := range days {
		s.Reviews += d.Reviews
		s.Again += d.Again
		s.Hard += d.Hard
		s.Good += d.Good
		s.Easy += d.Easy
		s.NewCards += d.NewCards
		ms += d.TimeSpentMs
		if d.Reviews > 0 {
			s.StudyDays++
		}
	}
	s.TimeSpent = time.Duration(ms) * time.Millisecond
	if s.Reviews > 0 {
		s.Accuracy = float64(s.Reviews-s.Again) / float64(s.Reviews)
	}
	if s.StudyDays > 0 {
		s.PerStudyDay = float64(s.Reviews) / float64(s.StudyDays)
	}
	return s, nil
}
