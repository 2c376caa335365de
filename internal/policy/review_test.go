package policy

import (
	"testing"
	"time"
)

// TestReviewIntervalGrowth verifies a successful review on a mature item
// strictly increases the interval.
func TestReviewIntervalGrowth(t *testing.T) {
	now := time.Now()
	state := ReviewState{EaseFactor: 2.5, IntervalDays: 6, Repetitions: 2}

	next, outcome := Review(state, 5, now)

	if outcome.IntervalDays <= 6 {
		t.Errorf("Expected interval to grow past 6 days, got %d", outcome.IntervalDays)
	}
	if outcome.Lapsed {
		t.Error("Quality 5 should not lapse the item")
	}
	if next.Repetitions != 3 {
		t.Errorf("Expected repetitions 3, got %d", next.Repetitions)
	}
	if next.EaseFactor < state.EaseFactor {
		t.Errorf("Quality 5 should not lower the ease factor (%.2f → %.2f)", state.EaseFactor, next.EaseFactor)
	}
	wantDue := now.AddDate(0, 0, outcome.IntervalDays)
	if !outcome.NextDue.Equal(wantDue) {
		t.Errorf("Expected next due %v, got %v", wantDue, outcome.NextDue)
	}
}

// TestReviewLapseResets verifies quality 0 resets the interval to 1 day
// regardless of prior interval.
func TestReviewLapseResets(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name  string
		state ReviewState
	}{
		{name: "Fresh item", state: ReviewState{EaseFactor: 2.5, IntervalDays: 1, Repetitions: 1}},
		{name: "Mature item", state: ReviewState{EaseFactor: 2.5, IntervalDays: 180, Repetitions: 9}},
		{name: "Floored ease", state: ReviewState{EaseFactor: 1.3, IntervalDays: 40, Repetitions: 5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, outcome := Review(tt.state, 0, now)

			if outcome.IntervalDays != 1 {
				t.Errorf("Expected interval reset to 1, got %d", outcome.IntervalDays)
			}
			if !outcome.Lapsed {
				t.Error("Quality 0 should lapse the item")
			}
			if next.Repetitions != 0 {
				t.Errorf("Expected repetitions reset to 0, got %d", next.Repetitions)
			}
		})
	}
}

// TestReviewEaseFactorFloor ensures the ease factor never drops below 1.3.
func TestReviewEaseFactorFloor(t *testing.T) {
	now := time.Now()
	state := ReviewState{EaseFactor: 1.3, IntervalDays: 6, Repetitions: 2}

	for i := 0; i < 10; i++ {
		state, _ = Review(state, 0, now)
		if state.EaseFactor < MinEaseFactor {
			t.Fatalf("Ease factor fell below floor after %d lapses: %.3f", i+1, state.EaseFactor)
		}
	}
}

// TestReviewSchedule walks the canonical 1 → 6 → round(6 × ease) progression.
func TestReviewSchedule(t *testing.T) {
	now := time.Now()
	state := ReviewState{EaseFactor: 2.5}

	intervals := []int{}
	for i := 0; i < 4; i++ {
		var outcome ReviewOutcome
		state, outcome = Review(state, 4, now)
		intervals = append(intervals, outcome.IntervalDays)
	}

	if intervals[0] != 1 {
		t.Errorf("First interval should be 1 day, got %d", intervals[0])
	}
	if intervals[1] != 6 {
		t.Errorf("Second interval should be 6 days, got %d", intervals[1])
	}
	for i := 2; i < len(intervals); i++ {
		if intervals[i] <= intervals[i-1] {
			t.Errorf("Interval %d should exceed interval %d (%v)", i, i-1, intervals)
		}
	}
	t.Logf("Schedule: %v (final ease %.2f)", intervals, state.EaseFactor)
}

// TestReviewQualityClamped verifies out-of-range quality is clamped, not rejected.
func TestReviewQualityClamped(t *testing.T) {
	now := time.Now()
	state := ReviewState{EaseFactor: 2.5, IntervalDays: 6, Repetitions: 2}

	_, high := Review(state, 9, now)
	_, five := Review(state, 5, now)
	if high.IntervalDays != five.IntervalDays {
		t.Errorf("Quality above 5 should behave like 5: got %d vs %d", high.IntervalDays, five.IntervalDays)
	}

	_, low := Review(state, -2, now)
	if low.IntervalDays != 1 || !low.Lapsed {
		t.Errorf("Quality below 0 should behave like 0, got interval %d lapsed=%v", low.IntervalDays, low.Lapsed)
	}
}
