// Package policy holds the two pluggable decision policies the dispatcher
// consults. Both are pure (state, input) → (new state, output) functions
// with no I/O, so they are independently testable and swappable.
package policy

import (
	"math"
	"time"
)

// MinEaseFactor is the SM-2 floor: below this, items resurface too often to
// be useful.
const MinEaseFactor = 1.3

// ReviewState is the spaced-repetition state carried on a learning item.
type ReviewState struct {
	EaseFactor   float64
	IntervalDays int
	Repetitions  int
}

// ReviewOutcome is what the scheduler decided for the item.
type ReviewOutcome struct {
	IntervalDays int
	NextDue      time.Time
	Lapsed       bool // quality < 3 reset the repetition streak
}

// Review applies the SM-2 interval update for a quality score in [0,5].
// Quality below 3 resets the streak and the interval to 1 day; otherwise the
// interval grows 1 → 6 → round(interval × ease). The ease factor is adjusted
// every review and floored at MinEaseFactor.
func Review(state ReviewState, quality int, now time.Time) (ReviewState, ReviewOutcome) {
	if quality < 0 {
		quality = 0
	}
	if quality > 5 {
		quality = 5
	}

	next := state
	if next.EaseFactor < MinEaseFactor {
		next.EaseFactor = MinEaseFactor
	}

	q := float64(quality)
	next.EaseFactor += 0.1 - (5-q)*(0.08+(5-q)*0.02)
	if next.EaseFactor < MinEaseFactor {
		next.EaseFactor = MinEaseFactor
	}

	outcome := ReviewOutcome{}
	if quality < 3 {
		next.Repetitions = 0
		next.IntervalDays = 1
		outcome.Lapsed = true
	} else {
		next.Repetitions++
		switch next.Repetitions {
		case 1:
			next.IntervalDays = 1
		case 2:
			next.IntervalDays = 6
		default:
			next.IntervalDays = int(math.Round(float64(state.IntervalDays) * next.EaseFactor))
			if next.IntervalDays <= state.IntervalDays {
				next.IntervalDays = state.IntervalDays + 1
			}
		}
	}

	outcome.IntervalDays = next.IntervalDays
	outcome.NextDue = now.AddDate(0, 0, next.IntervalDays)
	return next, outcome
}
