package services

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"aria/internal/models"
)

func newTestRouter() *FlowRouter {
	return NewFlowRouter(15 * time.Minute)
}

func noneFlowFor(userID string) *models.PendingFlow {
	return &models.PendingFlow{UserID: userID, Kind: models.FlowNone}
}

func TestOnboardingFullRun(t *testing.T) {
	r := newTestRouter()
	now := time.Now().UTC()

	// First contact with no profile starts the quiz.
	res := r.Route(now, noneFlowFor("u1"), "hello", false)
	if res.NextFlow == nil || res.NextFlow.Kind != models.FlowOnboarding {
		t.Fatalf("expected onboarding to start, got %+v", res.NextFlow)
	}
	if !res.BypassModel {
		t.Error("onboarding must not hit the model")
	}

	answers := []string{"Dana", "discipline", "07:30", "23:00", "morning", "ship my side project", "09:00"}
	flow := res.NextFlow
	for i, answer := range answers {
		res = r.Route(now, flow, answer, false)
		if res.NextFlow == nil {
			t.Fatalf("step %d: expected next flow", i)
		}
		flow = res.NextFlow
	}

	if flow.Kind != models.FlowNone {
		t.Fatalf("expected flow to terminate at none, got %s", flow.Kind)
	}
	if len(res.Events) != 1 || res.Events[0].Name != EventCompleteOnboarding {
		t.Fatalf("expected completion event, got %+v", res.Events)
	}
	if got := len(res.Events[0].Fields); got != models.OnboardingSteps {
		t.Fatalf("expected %d collected fields, got %d", models.OnboardingSteps, got)
	}
	for i, key := range []string{"name", "focus_area", "wake_time", "sleep_time", "energy_peak", "main_goal", "checkin_time"} {
		if res.Events[0].Fields[i].Key != key {
			t.Errorf("field %d = %q, want %q", i, res.Events[0].Fields[i].Key, key)
		}
	}
	if !strings.Contains(res.Reply, "Dana") {
		t.Errorf("completion reply should greet by name, got %q", res.Reply)
	}
}

func TestOnboardingRetriesThenRawFallback(t *testing.T) {
	r := newTestRouter()
	now := time.Now().UTC()

	flow := &models.PendingFlow{
		UserID:    "u1",
		Kind:      models.FlowOnboarding,
		StepIndex: 2, // wake_time, wants HH:MM
		ExpiresAt: now.Add(10 * time.Minute),
	}

	// Two failures re-prompt without advancing.
	for i := 0; i < 2; i++ {
		res := r.Route(now, flow, "whenever I wake up", false)
		if res.NextFlow.StepIndex != 2 {
			t.Fatalf("attempt %d: step advanced on invalid input", i)
		}
		flow = res.NextFlow
	}
	if flow.RetryCount != 2 {
		t.Fatalf("retry count = %d, want 2", flow.RetryCount)
	}

	// Third failure stores the raw answer and moves on.
	res := r.Route(now, flow, "whenever I wake up", false)
	if res.NextFlow.StepIndex != 3 {
		t.Fatalf("expected advance after raw fallback, step = %d", res.NextFlow.StepIndex)
	}
	value, ok := res.NextFlow.Field("wake_time")
	if !ok || value != "whenever I wake up" {
		t.Fatalf("expected raw value stored, got %q ok=%v", value, ok)
	}
	for _, f := range res.NextFlow.Collected {
		if f.Key == "wake_time" && !f.Raw {
			t.Error("raw fallback answer must be flagged raw")
		}
	}
	if res.NextFlow.RetryCount != 0 {
		t.Errorf("retry count should reset on advance, got %d", res.NextFlow.RetryCount)
	}
}

func TestCheckinValidation(t *testing.T) {
	r := newTestRouter()
	now := time.Now().UTC()

	start := r.Route(now, noneFlowFor("u1"), "/checkin", true)
	if start.NextFlow.Kind != models.FlowCheckinEnergy {
		t.Fatalf("expected checkin flow, got %s", start.NextFlow.Kind)
	}

	tests := []struct {
		input     string
		wantEvent bool
	}{
		{"150", false},
		{"-5", false},
		{"tired", false},
		{"0", true},
		{"100", true},
		{"65", true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			flow := &models.PendingFlow{
				UserID:    "u1",
				Kind:      models.FlowCheckinEnergy,
				ExpiresAt: now.Add(10 * time.Minute),
			}
			res := r.Route(now, flow, tt.input, true)
			gotEvent := len(res.Events) == 1 && res.Events[0].Name == EventRecordCheckin
			if gotEvent != tt.wantEvent {
				t.Fatalf("input %q: event=%v, want %v", tt.input, gotEvent, tt.wantEvent)
			}
			if tt.wantEvent {
				if res.NextFlow.Kind != models.FlowNone {
					t.Errorf("valid value must close the flow, got %s", res.NextFlow.Kind)
				}
				if res.Events[0].Params["value"] != strings.TrimSpace(tt.input) {
					t.Errorf("value = %q, want %q", res.Events[0].Params["value"], tt.input)
				}
			} else if res.NextFlow.Kind != models.FlowCheckinEnergy {
				t.Errorf("invalid value must keep the flow open, got %s", res.NextFlow.Kind)
			}
		})
	}
}

func TestCheckinCommandWithArgument(t *testing.T) {
	r := newTestRouter()
	now := time.Now().UTC()

	// An in-range argument records in the same turn.
	res := r.Route(now, noneFlowFor("u1"), "/checkin 85", true)
	if len(res.Events) != 1 || res.Events[0].Name != EventRecordCheckin {
		t.Fatalf("expected immediate record, got %+v", res.Events)
	}
	if res.Events[0].Params["value"] != "85" {
		t.Errorf("value = %q, want 85", res.Events[0].Params["value"])
	}
	if res.NextFlow == nil || res.NextFlow.Kind != models.FlowNone {
		t.Errorf("direct record must not open a flow, got %+v", res.NextFlow)
	}

	// Out-of-range or junk arguments fall back to asking.
	for _, arg := range []string{"150", "-5", "tired"} {
		res := r.Route(now, noneFlowFor("u1"), "/checkin "+arg, true)
		if len(res.Events) != 0 {
			t.Errorf("arg %q: must not record, got %+v", arg, res.Events)
		}
		if res.NextFlow == nil || res.NextFlow.Kind != models.FlowCheckinEnergy {
			t.Errorf("arg %q: expected checkin prompt flow, got %+v", arg, res.NextFlow)
		}
	}
}

func TestProfileReviewMenu(t *testing.T) {
	r := newTestRouter()
	now := time.Now().UTC()

	res := r.Route(now, noneFlowFor("u1"), "/profile", true)
	if res.NextFlow.Kind != models.FlowProfileReview || res.NextFlow.StepIndex != models.ReviewStepMenu {
		t.Fatalf("expected review menu, got %+v", res.NextFlow)
	}

	// Digit selects a field.
	res = r.Route(now, res.NextFlow, "2", true)
	if res.NextFlow.StepIndex != models.ReviewStepFieldEdit || res.NextFlow.EditField != "focus_area" {
		t.Fatalf("expected focus_area edit, got step=%d field=%q", res.NextFlow.StepIndex, res.NextFlow.EditField)
	}

	// New value commits and ends the flow.
	res = r.Route(now, res.NextFlow, "body", true)
	if len(res.Events) != 1 || res.Events[0].Name != EventUpdateProfileField {
		t.Fatalf("expected field update event, got %+v", res.Events)
	}
	if res.Events[0].Params["field"] != "focus_area" || res.Events[0].Params["value"] != "body" {
		t.Errorf("event params = %v", res.Events[0].Params)
	}
	if res.NextFlow.Kind != models.FlowNone {
		t.Fatalf("committed edit must end the flow, got %s step=%d", res.NextFlow.Kind, res.NextFlow.StepIndex)
	}

	// Out-of-range digit re-prompts at the menu.
	res = r.Route(now, noneFlowFor("u1"), "/profile", true)
	res = r.Route(now, res.NextFlow, "9", true)
	if len(res.Events) != 0 || res.NextFlow.Kind != models.FlowProfileReview {
		t.Fatalf("expected re-prompt, got events=%v flow=%s", res.Events, res.NextFlow.Kind)
	}

	// Zero closes.
	res = r.Route(now, res.NextFlow, "0", true)
	if res.NextFlow.Kind != models.FlowNone {
		t.Fatalf("expected menu close, got %s", res.NextFlow.Kind)
	}
}

func TestProfileEditReleasesNextMessage(t *testing.T) {
	r := newTestRouter()
	now := time.Now().UTC()

	res := r.Route(now, noneFlowFor("u1"), "/profile", true)
	res = r.Route(now, res.NextFlow, "2", true)
	res = r.Route(now, res.NextFlow, "body", true)
	if res.NextFlow.Kind != models.FlowNone {
		t.Fatalf("expected flow closed after commit, got %s", res.NextFlow.Kind)
	}

	// The next free-text message must route to classification, not the menu.
	next := r.Route(now, res.NextFlow, "remind me to call the client", true)
	if next.BypassModel {
		t.Fatalf("message after a committed edit must reach classification, got %+v", next)
	}
	if next.Reply != "" || len(next.Events) != 0 {
		t.Errorf("expected pass-through, got reply=%q events=%v", next.Reply, next.Events)
	}
}

func TestProfileEditPreservesCase(t *testing.T) {
	r := newTestRouter()
	now := time.Now().UTC()

	res := r.Route(now, noneFlowFor("u1"), "/profile", true)
	res = r.Route(now, res.NextFlow, "1", true)
	if res.NextFlow.EditField != "name" {
		t.Fatalf("expected name edit, got %q", res.NextFlow.EditField)
	}

	res = r.Route(now, res.NextFlow, "Dana McKinnon", true)
	if len(res.Events) != 1 || res.Events[0].Name != EventUpdateProfileField {
		t.Fatalf("expected field update event, got %+v", res.Events)
	}
	if got := res.Events[0].Params["value"]; got != "Dana McKinnon" {
		t.Errorf("committed value = %q, want original casing preserved", got)
	}

	// Menu selection still tolerates cased cancel words.
	res = r.Route(now, noneFlowFor("u1"), "/profile", true)
	res = r.Route(now, res.NextFlow, "Cancel", true)
	if res.NextFlow.Kind != models.FlowNone {
		t.Errorf("expected cased cancel to close the menu, got %s", res.NextFlow.Kind)
	}
}

func TestCancelCommand(t *testing.T) {
	r := newTestRouter()
	now := time.Now().UTC()

	flow := &models.PendingFlow{
		UserID:    "u1",
		Kind:      models.FlowOnboarding,
		StepIndex: 3,
		ExpiresAt: now.Add(10 * time.Minute),
	}
	res := r.Route(now, flow, "/cancel", false)
	if res.NextFlow == nil || res.NextFlow.Kind != models.FlowNone {
		t.Fatalf("expected cancel to clear the flow, got %+v", res.NextFlow)
	}
}

func TestExpiredFlowResets(t *testing.T) {
	r := newTestRouter()
	now := time.Now().UTC()

	flow := &models.PendingFlow{
		UserID:    "u1",
		Kind:      models.FlowCheckinEnergy,
		ExpiresAt: now.Add(-time.Minute),
	}
	res := r.Route(now, flow, "80", true)
	if len(res.Events) != 0 {
		t.Fatalf("expired flow must not record, got %+v", res.Events)
	}
	if res.NextFlow == nil || res.NextFlow.Kind != models.FlowNone {
		t.Fatalf("expected reset to none, got %+v", res.NextFlow)
	}
	if !strings.Contains(res.Reply, "timed out") {
		t.Errorf("expected expiry notice, got %q", res.Reply)
	}
}

func TestModeCommand(t *testing.T) {
	r := newTestRouter()
	now := time.Now().UTC()

	for _, mode := range []string{"default", "focus", "recovery"} {
		res := r.Route(now, noneFlowFor("u1"), fmt.Sprintf("/mode %s", mode), true)
		if len(res.Events) != 1 || res.Events[0].Name != EventSetMode || res.Events[0].Params["mode"] != mode {
			t.Errorf("mode %s: events = %+v", mode, res.Events)
		}
	}

	res := r.Route(now, noneFlowFor("u1"), "/mode turbo", true)
	if len(res.Events) != 0 {
		t.Errorf("unknown mode must not emit an event, got %+v", res.Events)
	}
}
