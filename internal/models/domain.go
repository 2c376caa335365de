package models

import "time"

// Operating modes: a named tone/priority-tools configuration. The bundle
// carries the active mode so prompting stays mode-specific without embedding
// tone logic in the assembler.
const (
	ModeDefault  = "default"
	ModeFocus    = "focus"
	ModeRecovery = "recovery"
)

// ProfileSnapshot is the read model of a user's profile the assembler embeds
// into the bundle. Attributes are coach dimensions scored 0..100.
type ProfileSnapshot struct {
	UserID      string         `json:"user_id"`
	Name        string         `json:"name"`
	FocusArea   string         `json:"focus_area"`
	WakeTime    string         `json:"wake_time"`  // HH:MM
	SleepTime   string         `json:"sleep_time"` // HH:MM
	EnergyPeak  string         `json:"energy_peak"`
	MainGoal    string         `json:"main_goal"`
	CheckinTime string         `json:"checkin_time"` // HH:MM
	Mode        string         `json:"mode"`
	Attributes  map[string]int `json:"attributes"`
	EnergyLevel int            `json:"energy_level"` // latest check-in value, 0..100
	UpdatedAt   time.Time      `json:"updated_at"`
}

// ProfileFieldKeys lists the editable fields shown in the profile review
// menu, in menu order (digits 1..6).
var ProfileFieldKeys = []string{
	"name", "focus_area", "wake_time", "sleep_time", "energy_peak", "main_goal",
}

// TaskItem is a pending or completed task.
type TaskItem struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	Title       string     `json:"title"`
	DueAt       *time.Time `json:"due_at,omitempty"`
	Source      string     `json:"source"` // "chat", "inbox"
	Done        bool       `json:"done"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// CalendarEvent is a cached upcoming calendar entry.
type CalendarEvent struct {
	ID       string    `json:"id"`
	UserID   string    `json:"user_id"`
	Title    string    `json:"title"`
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`
}

// FinanceEntry is one logged expense or income line.
type FinanceEntry struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Amount    float64   `json:"amount"` // negative = expense
	Category  string    `json:"category"`
	Note      string    `json:"note"`
	CreatedAt time.Time `json:"created_at"`
}

// FinanceDigest summarizes recent finance activity for the bundle.
type FinanceDigest struct {
	PeriodDays int                `json:"period_days"`
	TotalSpent float64            `json:"total_spent"`
	ByCategory map[string]float64 `json:"by_category"`
	EntryCount int                `json:"entry_count"`
}

// ReviewItem is a spaced-repetition learning item scheduled by the review policy.
type ReviewItem struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Topic        string    `json:"topic"`
	EaseFactor   float64   `json:"ease_factor"`
	IntervalDays int       `json:"interval_days"`
	Repetitions  int       `json:"repetitions"`
	DueAt        time.Time `json:"due_at"`
	CreatedAt    time.Time `json:"created_at"`
}
