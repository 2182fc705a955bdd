package stats

import (
	"sort"

	"github.com/conorfennell/knolvault/internal/dayboundary"
)

// Streaks are counted in logical days.
type Streaks struct {
	Current int
	Longest int
}

func uniqueSorted(days []string) []string {
	seen := make(map[string]struct{}, len(days))
	out := make([]string, 0, len(days))
	for _, d := range days {
		if _, ok := dayboundary.ParseKey(d); !ok {
			continue
		}
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// CurrentStreak counts the consecutive study days ending today, or ending
// yesterday when nothing has been reviewed yet today. days are day keys with
// at least one review, in any order. Days after today are ignored.
func CurrentStreak(days []string, today string) int {
	sorted := uniqueSorted(days)
	for len(sorted) > 0 && sorted[len(sorted)-1] > today {
		sorted = sorted[:len(sorted)-1]
	}
	if len(sorted) == 0 {
		return 0
	}
	latest := sorted[len(sorted)-1]
	gap, ok := dayboundary.DaysBetween(latest, today)
	if !ok || gap < 0 || gap > 1 {
		return 0
	}

	streak := 1
	for i := len(sorted) - 1; i > 0; i-- {
		d, _ := dayboundary.DaysBetween(sorted[i-1], sorted[i])
		if d != 1 {
			break
		}
		streak++
	}
	return streak
}

// LongestStreak returns the longest run of consecutive study days.
func LongestStreak(days []string) int {
	sorted := uniqueSorted(days)
	if len(sorted) == 0 {
		return 0
	}
	longest, run := 1, 1
	for i := 1; i < len(sorted); i++ {
		if d, _ := dayboundary.DaysBetween(sorted[i-1], sorted[i]); d == 1 {
			run++
		} else {
			run = 1
		}
		if run > longest {
			longest = run
		}
	}
	return longest
}
