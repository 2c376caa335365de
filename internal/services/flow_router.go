package services

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"aria/internal/models"
)

// Flow events emitted toward the dispatcher when a flow step commits state.
const (
	EventCompleteOnboarding = "complete_onboarding"
	EventRecordCheckin      = "record_checkin"
	EventUpdateProfileField = "update_profile_field"
	EventSetMode            = "set_mode"
)

const flowMaxRetries = 3

// FlowEvent is a state-committing outcome of a routed step.
type FlowEvent struct {
	Name   string
	Fields []models.FlowField
	Params map[string]string
}

// RouteResult is the router's decision for one inbound message.
type RouteResult struct {
	// Reply is the scripted response, set when the flow answers directly.
	Reply string
	// Controls are quick-reply options attached to the reply.
	Controls []string
	// Intent routes to the dispatcher when the message resolves to a tool
	// without needing the model.
	Intent string
	// Params carry intent arguments extracted by the router.
	Params map[string]string
	// NextFlow is the flow state to persist; nil means leave unchanged.
	NextFlow *models.PendingFlow
	// Events are state commits the dispatcher must apply.
	Events []FlowEvent
	// BypassModel is true when the turn completes without a model call.
	BypassModel bool
}

// onboardingStep is one scripted question.
type onboardingStep struct {
	key      string
	prompt   string
	validate func(string) (string, bool)
	hint     string
}

var onboardingScript = []onboardingStep{
	{
		key:      "name",
		prompt:   "Hi! I'm Aria, your personal coach. What should I call you?",
		validate: validateNonEmpty,
		hint:     "Just tell me your name.",
	},
	{
		key:      "focus_area",
		prompt:   "Nice to meet you! Which area do you most want to work on: mind, body, energy, social, finance, or discipline?",
		validate: validateFocusArea,
		hint:     "Pick one of: mind, body, energy, social, finance, discipline.",
	},
	{
		key:      "wake_time",
		prompt:   "What time do you usually wake up? (HH:MM)",
		validate: validateClock,
		hint:     "Use 24h format like 07:30.",
	},
	{
		key:      "sleep_time",
		prompt:   "And what time do you usually go to sleep? (HH:MM)",
		validate: validateClock,
		hint:     "Use 24h format like 23:00.",
	},
	{
		key:      "energy_peak",
		prompt:   "When is your energy at its peak: morning, afternoon, or evening?",
		validate: validateEnergyPeak,
		hint:     "Pick one of: morning, afternoon, evening.",
	},
	{
		key:      "main_goal",
		prompt:   "What's the one goal you most want my help with?",
		validate: validateNonEmpty,
		hint:     "A short sentence is perfect.",
	},
	{
		key:      "checkin_time",
		prompt:   "Last one: what time should I ask for your daily energy check-in? (HH:MM)",
		validate: validateClock,
		hint:     "Use 24h format like 09:00.",
	},
}

// FlowRouter routes inbound messages through the per-user flow state machine.
// It is pure decision logic: no I/O, no clocks beyond the now it is handed.
type FlowRouter struct {
	flowTTL time.Duration
}

// NewFlowRouter creates the router.
func NewFlowRouter(flowTTL time.Duration) *FlowRouter {
	return &FlowRouter{flowTTL: flowTTL}
}

// Route decides what to do with text given the user's current flow state.
// hasProfile tells the router whether onboarding already completed.
func (r *FlowRouter) Route(now time.Time, flow *models.PendingFlow, text string, hasProfile bool) *RouteResult {
	text = strings.TrimSpace(text)

	if flow.Expired(now) {
		res := r.routeIdle(now, flow.UserID, hasProfile)
		res.Reply = "That conversation timed out, so I've reset it. " + res.Reply
		if res.NextFlow == nil {
			res.NextFlow = r.noneFlow(flow.UserID)
		}
		res.BypassModel = true
		return res
	}

	if cmd, arg, ok := parseCommand(text); ok {
		return r.routeCommand(now, flow, cmd, arg, hasProfile)
	}

	switch flow.Kind {
	case models.FlowOnboarding:
		return r.routeOnboarding(now, flow, text)
	case models.FlowCheckinEnergy:
		return r.routeCheckin(flow, text)
	case models.FlowProfileReview:
		return r.routeProfileReview(now, flow, text)
	default:
		return r.routeIdle(now, flow.UserID, hasProfile)
	}
}

// routeIdle handles messages with no pending flow. First contact starts
// onboarding; otherwise the message falls through to classification.
func (r *FlowRouter) routeIdle(now time.Time, userID string, hasProfile bool) *RouteResult {
	if !hasProfile {
		return r.startOnboarding(now, userID)
	}
	return &RouteResult{}
}

func (r *FlowRouter) routeCommand(now time.Time, flow *models.PendingFlow, cmd, arg string, hasProfile bool) *RouteResult {
	switch cmd {
	case "start":
		if hasProfile {
			return &RouteResult{
				Reply:       "Welcome back! Tell me what's on your plate, or use /checkin, /review, or /mode.",
				NextFlow:    r.noneFlow(flow.UserID),
				BypassModel: true,
			}
		}
		return r.startOnboarding(now, flow.UserID)
	case "checkin":
		// An in-range argument records immediately; otherwise ask.
		if value, err := strconv.Atoi(arg); err == nil && value >= 0 && value <= 100 {
			return r.checkinResult(flow.UserID, value)
		}
		next := &models.PendingFlow{
			UserID:    flow.UserID,
			Kind:      models.FlowCheckinEnergy,
			ExpiresAt: now.Add(r.flowTTL),
		}
		return &RouteResult{
			Reply:       "How's your energy right now, 0 to 100?",
			NextFlow:    next,
			BypassModel: true,
		}
	case "review":
		if arg == "" {
			return &RouteResult{
				Intent:      "list_reviews",
				Params:      map[string]string{},
				NextFlow:    r.noneFlow(flow.UserID),
				BypassModel: true,
			}
		}
		return &RouteResult{
			Intent:      "review_item",
			Params:      map[string]string{"topic": arg},
			NextFlow:    r.noneFlow(flow.UserID),
			BypassModel: true,
		}
	case "profile":
		return r.startProfileReview(now, flow.UserID)
	case "cancel":
		if flow.Kind == models.FlowNone {
			return &RouteResult{
				Reply:       "Nothing to cancel. What can I do for you?",
				BypassModel: true,
			}
		}
		return &RouteResult{
			Reply:       "Okay, cancelled. What can I do for you?",
			NextFlow:    r.noneFlow(flow.UserID),
			BypassModel: true,
		}
	case "mode":
		arg = strings.ToLower(strings.TrimSpace(arg))
		switch arg {
		case models.ModeDefault, models.ModeFocus, models.ModeRecovery:
			return &RouteResult{
				Reply:       fmt.Sprintf("Switched to %s mode.", arg),
				Events:      []FlowEvent{{Name: EventSetMode, Params: map[string]string{"mode": arg}}},
				BypassModel: true,
			}
		default:
			return &RouteResult{
				Reply:       "Which mode? Options: default, focus, recovery. Example: /mode focus",
				BypassModel: true,
			}
		}
	case "help":
		return &RouteResult{
			Reply: "Here's what I can do:\n" +
				"/checkin - log your energy level\n" +
				"/review - see what's due for review\n" +
				"/profile - review and edit your profile\n" +
				"/mode - switch between default, focus, and recovery\n" +
				"/cancel - abandon the current conversation\n\n" +
				"Or just tell me things: \"remind me to call the client tomorrow\", \"spent 20 on lunch\", \"remember that I prefer mornings\".",
			BypassModel: true,
		}
	default:
		return &RouteResult{
			Reply:       fmt.Sprintf("I don't know the command /%s. Try /help.", cmd),
			BypassModel: true,
		}
	}
}

func (r *FlowRouter) startOnboarding(now time.Time, userID string) *RouteResult {
	next := &models.PendingFlow{
		UserID:    userID,
		Kind:      models.FlowOnboarding,
		StepIndex: 0,
		ExpiresAt: now.Add(r.flowTTL),
	}
	return &RouteResult{
		Reply:       onboardingScript[0].prompt,
		NextFlow:    next,
		BypassModel: true,
	}
}

func (r *FlowRouter) routeOnboarding(now time.Time, flow *models.PendingFlow, text string) *RouteResult {
	step := onboardingScript[flow.StepIndex]
	value, ok := step.validate(text)

	if !ok {
		flow.RetryCount++
		if flow.RetryCount < flowMaxRetries {
			flow.ExpiresAt = now.Add(r.flowTTL)
			return &RouteResult{
				Reply:       "Hmm, I didn't catch that. " + step.hint,
				NextFlow:    flow,
				BypassModel: true,
			}
		}
		// Repeated parse failures: keep the raw answer and move on rather
		// than trapping the user in a loop.
		value = strings.TrimSpace(text)
		flow.SetField(step.key, value, true)
	} else {
		flow.SetField(step.key, value, false)
	}

	flow.StepIndex++
	flow.RetryCount = 0
	flow.ExpiresAt = now.Add(r.flowTTL)

	if flow.StepIndex < models.OnboardingSteps {
		return &RouteResult{
			Reply:       onboardingScript[flow.StepIndex].prompt,
			NextFlow:    flow,
			BypassModel: true,
		}
	}

	name, _ := flow.Field("name")
	return &RouteResult{
		Reply: fmt.Sprintf("That's everything, %s! Your profile is set up. "+
			"Tell me what's on your mind, or try /checkin to log your energy.", name),
		NextFlow:    r.noneFlow(flow.UserID),
		Events:      []FlowEvent{{Name: EventCompleteOnboarding, Fields: flow.Collected}},
		BypassModel: true,
	}
}

func (r *FlowRouter) routeCheckin(flow *models.PendingFlow, text string) *RouteResult {
	value, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil || value < 0 || value > 100 {
		return &RouteResult{
			Reply:       "I need a number between 0 and 100. How's your energy?",
			NextFlow:    flow,
			BypassModel: true,
		}
	}

	return r.checkinResult(flow.UserID, value)
}

func (r *FlowRouter) checkinResult(userID string, value int) *RouteResult {
	reply := fmt.Sprintf("Logged: energy %d/100.", value)
	switch {
	case value < 30:
		reply += " That's low. Consider /mode recovery and something gentle today."
	case value > 75:
		reply += " Great! Good day to push on your main goal."
	}
	return &RouteResult{
		Reply:       reply,
		NextFlow:    r.noneFlow(userID),
		Events:      []FlowEvent{{Name: EventRecordCheckin, Params: map[string]string{"value": strconv.Itoa(value)}}},
		BypassModel: true,
	}
}

func (r *FlowRouter) startProfileReview(now time.Time, userID string) *RouteResult {
	next := &models.PendingFlow{
		UserID:    userID,
		Kind:      models.FlowProfileReview,
		StepIndex: models.ReviewStepMenu,
		ExpiresAt: now.Add(r.flowTTL),
	}
	return &RouteResult{
		Reply:       profileMenuText(),
		Controls:    []string{"1", "2", "3", "4", "5", "6", "0"},
		NextFlow:    next,
		BypassModel: true,
	}
}

func (r *FlowRouter) routeProfileReview(now time.Time, flow *models.PendingFlow, text string) *RouteResult {
	// Lowercase only for comparisons; committed values keep the user's casing.
	text = strings.TrimSpace(text)
	lower := strings.ToLower(text)

	if flow.StepIndex == models.ReviewStepMenu {
		if lower == "0" || lower == "cancel" {
			return &RouteResult{
				Reply:       "Profile review closed.",
				NextFlow:    r.noneFlow(flow.UserID),
				BypassModel: true,
			}
		}
		choice, err := strconv.Atoi(text)
		if err != nil || choice < 1 || choice > len(models.ProfileFieldKeys) {
			return &RouteResult{
				Reply:       "Pick a number 1-6, or 0 to close.\n\n" + profileMenuText(),
				Controls:    []string{"1", "2", "3", "4", "5", "6", "0"},
				NextFlow:    flow,
				BypassModel: true,
			}
		}
		flow.StepIndex = models.ReviewStepFieldEdit
		flow.EditField = models.ProfileFieldKeys[choice-1]
		flow.ExpiresAt = now.Add(r.flowTTL)
		return &RouteResult{
			Reply:       fmt.Sprintf("New value for %s?", fieldLabel(flow.EditField)),
			NextFlow:    flow,
			BypassModel: true,
		}
	}

	// Field edit step.
	value, ok := validateProfileField(flow.EditField, text)
	if !ok {
		return &RouteResult{
			Reply:       fmt.Sprintf("That doesn't look right for %s. Try again, or send 0 to go back.", fieldLabel(flow.EditField)),
			NextFlow:    flow,
			BypassModel: true,
		}
	}
	if text == "0" {
		flow.StepIndex = models.ReviewStepMenu
		flow.EditField = ""
		return &RouteResult{
			Reply:       profileMenuText(),
			Controls:    []string{"1", "2", "3", "4", "5", "6", "0"},
			NextFlow:    flow,
			BypassModel: true,
		}
	}

	// A committed edit ends the flow; the next message goes to classification.
	field := flow.EditField
	return &RouteResult{
		Reply:       fmt.Sprintf("Updated %s. Anything else on your mind? Send /profile to edit more.", fieldLabel(field)),
		NextFlow:    r.noneFlow(flow.UserID),
		Events:      []FlowEvent{{Name: EventUpdateProfileField, Params: map[string]string{"field": field, "value": value}}},
		BypassModel: true,
	}
}

func (r *FlowRouter) noneFlow(userID string) *models.PendingFlow {
	return &models.PendingFlow{UserID: userID, Kind: models.FlowNone}
}

// --- Helpers ---

func parseCommand(text string) (cmd, arg string, ok bool) {
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	parts := strings.SplitN(strings.TrimPrefix(text, "/"), " ", 2)
	cmd = strings.ToLower(strings.TrimSpace(parts[0]))
	if cmd == "" {
		return "", "", false
	}
	if len(parts) > 1 {
		arg = strings.TrimSpace(parts[1])
	}
	return cmd, arg, true
}

func profileMenuText() string {
	var sb strings.Builder
	sb.WriteString("Your profile:\n")
	for i, key := range models.ProfileFieldKeys {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, fieldLabel(key))
	}
	sb.WriteString("0. Close\n\nSend a number to edit a field.")
	return sb.String()
}

func fieldLabel(key string) string {
	return strings.ReplaceAll(key, "_", " ")
}

func validateNonEmpty(text string) (string, bool) {
	text = strings.TrimSpace(text)
	return text, text != ""
}

func validateFocusArea(text string) (string, bool) {
	text = strings.ToLower(strings.TrimSpace(text))
	switch text {
	case "mind", "body", "energy", "social", "finance", "discipline":
		return text, true
	}
	return "", false
}

func validateEnergyPeak(text string) (string, bool) {
	text = strings.ToLower(strings.TrimSpace(text))
	switch text {
	case "morning", "afternoon", "evening":
		return text, true
	}
	return "", false
}

func validateClock(text string) (string, bool) {
	text = strings.TrimSpace(text)
	parsed, err := time.Parse("15:04", text)
	if err != nil {
		// Accept single-digit hours like 7:30.
		parsed, err = time.Parse("3:04", text)
		if err != nil {
			return "", false
		}
	}
	return parsed.Format("15:04"), true
}

func validateProfileField(key, text string) (string, bool) {
	switch key {
	case "wake_time", "sleep_time":
		if text == "0" {
			return text, true
		}
		return validateClock(text)
	case "focus_area":
		if text == "0" {
			return text, true
		}
		return validateFocusArea(text)
	case "energy_peak":
		if text == "0" {
			return text, true
		}
		return validateEnergyPeak(text)
	default:
		return validateNonEmpty(text)
	}
}
