package fsrs

import (
	"math"
	"time"

	"github.com/conorfennell/knolvault/internal/domain"
)

// RelearnDelay is how soon a forgotten card comes back.
const RelearnDelay = 10 * time.Minute

// InitialDifficulty is assigned to cards reviewed for the first time.
const InitialDifficulty = 5.0

// Params holds the parameters for the FSRS algorithm.
// These are placeholder values and should be optimized later.
type Params struct {
	A                float64 // scales the overall memory increase
	B                float64 // difficulty exponent
	C                float64 // stability exponent
	D                float64 // retention effect scaler
	DesiredRetention float64 // desired retention rate (e.g., 0.9 for 90%)
}

// DefaultParams provides a set of sensible default parameters to start with.
func DefaultParams() *Params {
	return &Params{
		A:                0.2,
		B:                0.5,
		C:                0.1,
		D:                4.0,
		DesiredRetention: 0.9,
	}
}

// Next calculates the scheduling state of card after a review rated rating at now.
func (p *Params) Next(card domain.Card, rating domain.Rating, now time.Time) domain.ScheduleUpdate {
	difficulty := card.Difficulty
	if card.State == domain.New || difficulty <= 0 {
		difficulty = InitialDifficulty
	}
	update := domain.ScheduleUpdate{
		Reps:       card.Reps + 1,
		Lapses:     card.Lapses,
		LastReview: now,
	}

	if rating == domain.Again {
		// If the user forgot, reset stability. Difficulty might increase.
		// This is a simplified handling. A full FSRS model has a more nuanced approach.
		update.Stability = 1
		update.Difficulty = math.Min(10, difficulty+0.5)
		update.State = domain.Learning
		if card.State == domain.Review || card.State == domain.Relearning {
			update.State = domain.Relearning
		}
		if card.State == domain.Review {
			update.Lapses++
		}
		update.Due = now.Add(RelearnDelay)
		return update
	}

	// For successful reviews (Hard, Good, Easy)
	update.Stability = p.calculateNewStability(card.Stability, difficulty)
	// 'Hard' nudges difficulty up, 'Easy' nudges it down.
	switch rating {
	case domain.Hard:
		difficulty = math.Min(10, difficulty+0.1)
	case domain.Easy:
		difficulty = math.Max(1, difficulty-0.1)
	}
	update.Difficulty = difficulty
	update.State = domain.Review
	update.ScheduledDays = IntervalDays(update.Stability)
	update.Due = NextDueDate(update.Stability, now)
	return update
}

// calculateNewStability applies the core FSRS formula for a successful review.
func (p *Params) calculateNewStability(stability, difficulty float64) float64 {
	// Formula: S' = S * (1 + a * D^(-b) * S^c * (e^(d * (1-R)) - 1))
	if stability < 1 {
		stability = 1 // Ensure stability is at least 1 to avoid issues with pow
	}
	if difficulty < 1 {
		difficulty = 1 // Ensure difficulty is at least 1
	}

	factor := p.A * math.Pow(difficulty, -p.B) * math.Pow(stability, p.C)
	exponent := p.D * (1 - p.DesiredRetention)
	multiplier := math.Exp(exponent) - 1

	return stability * (1 + factor*multiplier)
}

// IntervalDays is the whole number of days a stability schedules, at least one.
func IntervalDays(stability float64) int {
	days := int(math.Round(stability))
	if days < 1 {
		days = 1
	}
	return days
}

// NextDueDate calculates the next review date based on the new stability.
// Days are added on the calendar, so the time of day survives DST changes.
func NextDueDate(newStability float64, now time.Time) time.Time {
	return now.AddDate(0, 0, IntervalDays(newStability))
}
