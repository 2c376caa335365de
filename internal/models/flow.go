package models

import "time"

// FlowKind identifies which scripted multi-turn interaction is pending.
type FlowKind string

const (
	FlowNone          FlowKind = "none"
	FlowOnboarding    FlowKind = "onboarding"
	FlowCheckinEnergy FlowKind = "checkin_energy"
	FlowProfileReview FlowKind = "profile_review"
)

// Profile review sub-states
const (
	ReviewStepMenu      = 0
	ReviewStepFieldEdit = 1
)

// OnboardingSteps is the number of questions in the onboarding quiz.
const OnboardingSteps = 7

// FlowField is one captured answer. Order matters: the onboarding completion
// event carries fields in the order they were asked.
type FlowField struct {
	Key   string `json:"key"`
	Value string `json:"value"`
	Raw   bool   `json:"raw,omitempty"` // stored unvalidated after repeated parse failures
}

// PendingFlow is the per-user singleton flow state. Kind FlowNone means
// free-text classification governs routing. Owned by UserIdentity directly,
// so it survives session idle-timeout boundaries.
type PendingFlow struct {
	UserID     string      `json:"user_id"`
	Kind       FlowKind    `json:"kind"`
	StepIndex  int         `json:"step_index"`
	Collected  []FlowField `json:"collected"`
	RetryCount int         `json:"retry_count"`          // re-prompts on the current step
	EditField  string      `json:"edit_field,omitempty"` // profile_review: field chosen from the menu
	ExpiresAt  time.Time   `json:"expires_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// Expired reports whether the flow's deadline has elapsed.
func (f *PendingFlow) Expired(now time.Time) bool {
	return f != nil && f.Kind != FlowNone && now.After(f.ExpiresAt)
}

// Field returns the collected value for key, if present.
func (f *PendingFlow) Field(key string) (string, bool) {
	for _, field := range f.Collected {
		if field.Key == key {
			return field.Value, true
		}
	}
	return "", false
}

// SetField appends or replaces a collected field, preserving order.
func (f *PendingFlow) SetField(key, value string, raw bool) {
	for i, field := range f.Collected {
		if field.Key == key {
			f.Collected[i].Value = value
			f.Collected[i].Raw = raw
			return
		}
	}
	f.Collected = append(f.Collected, FlowField{Key: key, Value: value, Raw: raw})
}
