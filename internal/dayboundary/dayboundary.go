// Package dayboundary converts wall-clock instants into logical review days.
//
// A logical day starts at DayStartHour local time, not at midnight, so a review
// at 02:00 still belongs to the previous day. Every function takes now
// explicitly; nothing in here samples the clock.
package dayboundary

import (
	"time"

	"github.com/conorfennell/knolvault/internal/domain"
)

// DefaultDayStartHour is used when no valid hour is configured.
const DefaultDayStartHour = 4

// KeyLayout is the format of day keys.
const KeyLayout = "2006-01-02"

// Calculator computes day boundaries for a configured start hour.
type Calculator struct {
	DayStartHour int
}

// New returns a Calculator. Hours outside 0..23 fall back to DefaultDayStartHour.
func New(dayStartHour int) Calculator {
	return Calculator{DayStartHour: dayStartHour}
}

func (c Calculator) hour() int {
	if c.DayStartHour < 0 || c.DayStartHour > 23 {
		return DefaultDayStartHour
	}
	return c.DayStartHour
}

// TodayBoundary returns the start of the logical day containing now,
// in now's location.
func (c Calculator) TodayBoundary(now time.Time) time.Time {
	h := c.hour()
	y, m, d := now.Date()
	if now.Hour() < h {
		y, m, d = now.AddDate(0, 0, -1).Date()
	}
	return time.Date(y, m, d, h, 0, 0, 0, now.Location())
}

// TomorrowBoundary returns the start of the logical day after now's.
func (c Calculator) TomorrowBoundary(now time.Time) time.Time {
	t := c.TodayBoundary(now)
	y, m, d := t.Date()
	return time.Date(y, m, d+1, c.hour(), 0, 0, 0, now.Location())
}

// IsDueToday reports whether card must be reviewed today.
// Learning and relearning cards are due at their exact instant; review cards
// are due anywhere inside today's bucket. New cards are never due.
func (c Calculator) IsDueToday(card domain.Card, now time.Time) bool {
	switch card.State {
	case domain.Learning, domain.Relearning:
		return !card.Due.After(now)
	case domain.Review:
		return card.Due.Before(c.TomorrowBoundary(now))
	}
	return false
}

// IsAvailable reports whether card can be shown in a review session now.
func (c Calculator) IsAvailable(card domain.Card, now time.Time) bool {
	return card.State == domain.New || c.IsDueToday(card, now)
}

// IsSchedulable reports whether card takes part in due computation at all.
func (c Calculator) IsSchedulable(card domain.Card, now time.Time) bool {
	return !card.Suspended && !card.IsBuried(now)
}

// DateKey returns the YYYY-MM-DD key of now's logical day, using local
// calendar components of now's location.
func (c Calculator) DateKey(now time.Time) string {
	return c.TodayBoundary(now).Format(KeyLayout)
}

// ParseKey parses a day key. The result is midnight UTC of that date and is
// only meaningful for calendar arithmetic.
func ParseKey(key string) (time.Time, bool) {
	t, err := time.Parse(KeyLayout, key)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// AddDays shifts key by n calendar days. Invalid keys are returned unchanged.
func AddDays(key string, n int) string {
	t, ok := ParseKey(key)
	if !ok {
		return key
	}
	return t.AddDate(0, 0, n).Format(KeyLayout)
}

// DaysBetween returns b - a in calendar days.
func DaysBetween(a, b string) (int, bool) {
	ta, ok := ParseKey(a)
	if !ok {
		return 0, false
	}
	tb, ok := ParseKey(b)
	if !ok {
		return 0, false
	}
	return int(tb.Sub(ta).Hours() / 24), true
}
