package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"aria/internal/llm"
	"aria/internal/models"
	"aria/internal/policy"
	"aria/internal/resilience"
)

// TurnRef identifies the turn a dispatch belongs to, for auditing.
type TurnRef struct {
	UserID        string
	SessionID     string
	CorrelationID string
	// Retries is how many extra model attempts the turn needed before the
	// intent resolved; it lands on the invocation audit row.
	Retries int
}

// DispatchResult is the outcome of executing one intent.
type DispatchResult struct {
	Success     bool
	Summary     string
	SideEffects []string
}

type toolFunc func(ctx context.Context, turn TurnRef, params map[string]string) (*DispatchResult, error)

// Dispatcher executes resolved intents against the domain stores. Unknown
// intents never fail the turn: they park the message in the inbox.
type Dispatcher struct {
	tasks       *TaskStore
	profiles    *ProfileStore
	calendar    *CalendarStore
	finance     *FinanceStore
	reviews     *ReviewStore
	memories    *MemoryStore
	invocations *InvocationStore
	builder     *ContextBuilder

	table map[string]toolFunc
}

// NewDispatcher creates the dispatcher and registers the tool table.
func NewDispatcher(tasks *TaskStore, profiles *ProfileStore, calendar *CalendarStore,
	finance *FinanceStore, reviews *ReviewStore, memories *MemoryStore,
	invocations *InvocationStore, builder *ContextBuilder) *Dispatcher {
	d := &Dispatcher{
		tasks:       tasks,
		profiles:    profiles,
		calendar:    calendar,
		finance:     finance,
		reviews:     reviews,
		memories:    memories,
		invocations: invocations,
		builder:     builder,
	}
	d.table = map[string]toolFunc{
		llm.IntentCreateTask:        d.createTask,
		llm.IntentCompleteTask:      d.completeTask,
		llm.IntentListTasks:         d.listTasks,
		llm.IntentLogExpense:        d.logExpense,
		llm.IntentScheduleEvent:     d.scheduleEvent,
		llm.IntentSaveMemory:        d.saveMemory,
		llm.IntentRecallMemory:      d.recallMemory,
		llm.IntentGetRecommendation: d.getRecommendation,
		llm.IntentReviewItem:        d.reviewItem,
		"list_reviews":              d.listReviews,
	}
	return d
}

// Dispatch executes intent with params and records the invocation. Unknown
// intents fall back to inbox capture so the request is never lost.
func (d *Dispatcher) Dispatch(ctx context.Context, turn TurnRef, intent string, params map[string]string) *DispatchResult {
	start := time.Now()
	tool, ok := d.table[intent]
	if !ok {
		tool = d.inboxCapture
	}

	result, err := tool(ctx, turn, params)
	latency := time.Since(start)

	if m := GetMetrics(); m != nil {
		m.DispatchLatency.WithLabelValues(intent).Observe(latency.Seconds())
		if err != nil {
			m.DispatchErrors.WithLabelValues(intent).Inc()
		}
	}

	if err != nil {
		log.Printf("🚫 [DISPATCH] %s failed for user %s: %v", intent, turn.UserID, err)
		result = &DispatchResult{Success: false, Summary: friendlyError(err)}
	}

	d.record(ctx, turn, intent, params, result, latency, err)
	return result
}

// ApplyEvents commits router flow events. These are state writes the flow
// already promised the user, so failures surface as degraded summaries.
func (d *Dispatcher) ApplyEvents(ctx context.Context, turn TurnRef, events []FlowEvent) []string {
	var failures []string
	for _, event := range events {
		var err error
		switch event.Name {
		case EventCompleteOnboarding:
			_, err = d.profiles.ApplyOnboarding(ctx, turn.UserID, event.Fields)
			if err == nil {
				for _, f := range event.Fields {
					if f.Key == "main_goal" && f.Value != "" {
						_, memErr := d.memories.Create(ctx, turn.UserID, models.MemoryCategoryGoal, f.Value, 8)
						if memErr != nil {
							log.Printf("⚠️  [DISPATCH] Failed to store onboarding goal: %v", memErr)
						}
					}
				}
			}
		case EventRecordCheckin:
			value, _ := strconv.Atoi(event.Params["value"])
			err = d.profiles.RecordEnergy(ctx, turn.UserID, value)
		case EventUpdateProfileField:
			err = d.profiles.UpdateField(ctx, turn.UserID, event.Params["field"], event.Params["value"])
		case EventSetMode:
			err = d.profiles.SetMode(ctx, turn.UserID, event.Params["mode"])
		default:
			log.Printf("⚠️  [DISPATCH] Unknown flow event %q", event.Name)
			continue
		}
		if err != nil {
			log.Printf("🚫 [DISPATCH] Flow event %s failed for user %s: %v", event.Name, turn.UserID, err)
			failures = append(failures, event.Name)
			continue
		}
		d.builder.InvalidateProfile(turn.UserID)
	}
	return failures
}

// --- Tools ---

func (d *Dispatcher) createTask(ctx context.Context, turn TurnRef, params map[string]string) (*DispatchResult, error) {
	dueAt := parseDueHint(params["due"], time.Now())
	task, err := d.tasks.Create(ctx, turn.UserID, params["title"], dueAt, "chat",
		idempotencyKey(turn, llm.IntentCreateTask))
	if err != nil {
		return nil, err
	}
	summary := fmt.Sprintf("Got it, I'll remind you: %s", task.Title)
	if task.DueAt != nil {
		summary += fmt.Sprintf(" (due %s)", task.DueAt.Format("Monday Jan 2"))
	}
	return &DispatchResult{
		Success:     true,
		Summary:     summary,
		SideEffects: []string{"task:" + task.ID},
	}, nil
}

func (d *Dispatcher) completeTask(ctx context.Context, turn TurnRef, params map[string]string) (*DispatchResult, error) {
	task, err := d.tasks.Complete(ctx, turn.UserID, params["title"])
	if err != nil {
		return nil, err
	}
	return &DispatchResult{
		Success:     true,
		Summary:     fmt.Sprintf("Nice, marked done: %s", task.Title),
		SideEffects: []string{"task_done:" + task.ID},
	}, nil
}

func (d *Dispatcher) listTasks(ctx context.Context, turn TurnRef, _ map[string]string) (*DispatchResult, error) {
	tasks, err := d.tasks.ListPending(ctx, turn.UserID, 5)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return &DispatchResult{Success: true, Summary: "Your plate is clear. Nothing pending."}, nil
	}
	var sb strings.Builder
	sb.WriteString("Here's what's pending:\n")
	for _, t := range tasks {
		if t.DueAt != nil {
			fmt.Fprintf(&sb, "- %s (due %s)\n", t.Title, t.DueAt.Format("Mon Jan 2"))
		} else {
			fmt.Fprintf(&sb, "- %s\n", t.Title)
		}
	}
	return &DispatchResult{Success: true, Summary: strings.TrimRight(sb.String(), "\n")}, nil
}

func (d *Dispatcher) logExpense(ctx context.Context, turn TurnRef, params map[string]string) (*DispatchResult, error) {
	amount, err := strconv.ParseFloat(params["amount"], 64)
	if err != nil {
		return nil, &resilience.ValidationError{Field: "amount", Reason: "not a number"}
	}
	entry, err := d.finance.LogExpense(ctx, turn.UserID, amount, params["category"], params["note"],
		idempotencyKey(turn, llm.IntentLogExpense))
	if err != nil {
		return nil, err
	}
	return &DispatchResult{
		Success:     true,
		Summary:     fmt.Sprintf("Logged %.2f under %s.", -entry.Amount, entry.Category),
		SideEffects: []string{"expense:" + entry.ID},
	}, nil
}

func (d *Dispatcher) scheduleEvent(ctx context.Context, turn TurnRef, params map[string]string) (*DispatchResult, error) {
	startsAt, err := parseEventTime(params["start"])
	if err != nil {
		return nil, &resilience.ValidationError{Field: "start", Reason: "could not parse a date/time"}
	}
	var endsAt time.Time
	if params["end"] != "" {
		endsAt, _ = parseEventTime(params["end"])
	}
	event, err := d.calendar.Schedule(ctx, turn.UserID, params["title"], startsAt, endsAt)
	if err != nil {
		return nil, err
	}
	return &DispatchResult{
		Success:     true,
		Summary:     fmt.Sprintf("On the calendar: %s at %s.", event.Title, event.StartsAt.Format("Mon Jan 2 15:04")),
		SideEffects: []string{"event:" + event.ID},
	}, nil
}

func (d *Dispatcher) saveMemory(ctx context.Context, turn TurnRef, params map[string]string) (*DispatchResult, error) {
	importance := 5
	if v, err := strconv.Atoi(params["importance"]); err == nil {
		importance = v
	}
	memory, err := d.memories.Create(ctx, turn.UserID, params["category"], params["content"], importance)
	if err != nil {
		return nil, err
	}
	return &DispatchResult{
		Success:     true,
		Summary:     "Noted, I'll remember that.",
		SideEffects: []string{"memory:" + memory.ID},
	}, nil
}

func (d *Dispatcher) recallMemory(ctx context.Context, turn TurnRef, params map[string]string) (*DispatchResult, error) {
	memories, err := d.memories.Search(ctx, turn.UserID, params["query"], 5)
	if err != nil {
		return nil, err
	}
	if len(memories) == 0 {
		return &DispatchResult{Success: true, Summary: "I don't have anything saved about that yet."}, nil
	}
	var sb strings.Builder
	sb.WriteString("Here's what I know:\n")
	for _, m := range memories {
		fmt.Fprintf(&sb, "- %s\n", m.Content)
	}
	return &DispatchResult{Success: true, Summary: strings.TrimRight(sb.String(), "\n")}, nil
}

func (d *Dispatcher) getRecommendation(ctx context.Context, turn TurnRef, _ map[string]string) (*DispatchResult, error) {
	profile, err := d.profiles.Get(ctx, turn.UserID)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return &DispatchResult{Success: true, Summary: "Let's set up your profile first. Send /start."}, nil
	}

	state := policy.RecommendState{
		Attributes:  profile.Attributes,
		FocusAreas:  []string{profile.FocusArea},
		EnergyLevel: profile.EnergyLevel,
	}
	_, rec := policy.Recommend(state, policy.RecommendInput{TimeOfDay: timeOfDay(time.Now())})

	return &DispatchResult{
		Success: true,
		Summary: fmt.Sprintf("Try this: %s. Why: %s.", rec.Action, rec.Reason),
	}, nil
}

func (d *Dispatcher) reviewItem(ctx context.Context, turn TurnRef, params map[string]string) (*DispatchResult, error) {
	if params["topic"] == "" {
		return d.listReviews(ctx, turn, params)
	}
	quality := 3
	if v, err := strconv.Atoi(params["quality"]); err == nil {
		quality = v
	}
	item, outcome, err := d.reviews.Grade(ctx, turn.UserID, params["topic"], quality)
	if err != nil {
		return nil, err
	}
	summary := fmt.Sprintf("Logged your review of %q.", item.Topic)
	if outcome.Lapsed {
		summary += " That one didn't stick, so we'll see it again tomorrow."
	} else {
		summary += fmt.Sprintf(" Next review in %d day(s), on %s.",
			outcome.IntervalDays, outcome.NextDue.Format("Mon Jan 2"))
	}
	return &DispatchResult{
		Success:     true,
		Summary:     summary,
		SideEffects: []string{"review:" + item.ID},
	}, nil
}

func (d *Dispatcher) listReviews(ctx context.Context, turn TurnRef, _ map[string]string) (*DispatchResult, error) {
	items, err := d.reviews.Due(ctx, turn.UserID, 5)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return &DispatchResult{Success: true, Summary: "Nothing due for review. You're on top of it."}, nil
	}
	var sb strings.Builder
	sb.WriteString("Due for review:\n")
	for _, item := range items {
		fmt.Fprintf(&sb, "- %s\n", item.Topic)
	}
	sb.WriteString("\nSend /review <topic> with how it went (0-5) when you're done.")
	return &DispatchResult{Success: true, Summary: sb.String()}, nil
}

// inboxCapture parks a request the dispatcher cannot route as an inbox task.
func (d *Dispatcher) inboxCapture(ctx context.Context, turn TurnRef, params map[string]string) (*DispatchResult, error) {
	title := params["title"]
	if title == "" {
		title = params["content"]
	}
	if title == "" {
		title = params["raw"]
	}
	if strings.TrimSpace(title) == "" {
		return &DispatchResult{Success: true, Summary: "I wasn't sure what to do with that. Could you rephrase?"}, nil
	}
	task, err := d.tasks.Create(ctx, turn.UserID, title, nil, "inbox", idempotencyKey(turn, "inbox"))
	if err != nil {
		return nil, err
	}
	return &DispatchResult{
		Success:     true,
		Summary:     "I wasn't sure how to act on that, so I've parked it in your inbox.",
		SideEffects: []string{"inbox:" + task.ID},
	}, nil
}

// --- Helpers ---

func (d *Dispatcher) record(ctx context.Context, turn TurnRef, intent string, params map[string]string,
	result *DispatchResult, latency time.Duration, dispatchErr error) {
	var input strings.Builder
	for k, v := range params {
		fmt.Fprintf(&input, "%s=%s ", k, v)
	}
	outcome := result.Summary
	if dispatchErr != nil {
		outcome = dispatchErr.Error()
	}
	inv := &models.ToolInvocation{
		SessionID:     turn.SessionID,
		Tool:          intent,
		Input:         strings.TrimSpace(input.String()),
		Result:        outcome,
		Success:       result.Success,
		LatencyMs:     latency.Milliseconds(),
		RetryCount:    turn.Retries,
		CorrelationID: turn.CorrelationID,
	}
	if err := d.invocations.Record(ctx, inv); err != nil {
		log.Printf("⚠️  [DISPATCH] Failed to record invocation: %v", err)
	}
}

func idempotencyKey(turn TurnRef, intent string) string {
	if turn.CorrelationID == "" {
		return ""
	}
	return turn.CorrelationID + ":" + intent
}

func friendlyError(err error) string {
	var verr *resilience.ValidationError
	if errors.As(err, &verr) {
		return fmt.Sprintf("I couldn't do that: %s %s. Want to try again?", verr.Field, verr.Reason)
	}
	if resilience.IsTransient(err) {
		return "Something hiccuped on my side. Try that once more?"
	}
	return "I couldn't finish that one. You can retry, or /cancel."
}

func parseDueHint(hint string, now time.Time) *time.Time {
	hint = strings.ToLower(strings.TrimSpace(hint))
	if hint == "" {
		return nil
	}
	endOfDay := func(t time.Time) time.Time {
		return time.Date(t.Year(), t.Month(), t.Day(), 18, 0, 0, 0, t.Location())
	}
	switch hint {
	case "today":
		due := endOfDay(now)
		return &due
	case "tonight":
		due := time.Date(now.Year(), now.Month(), now.Day(), 21, 0, 0, 0, now.Location())
		return &due
	case "tomorrow":
		due := endOfDay(now.AddDate(0, 0, 1))
		return &due
	}
	if parsed, err := time.ParseInLocation("2006-01-02", hint, now.Location()); err == nil {
		due := endOfDay(parsed)
		return &due
	}
	return nil
}

func parseEventTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range []string{"2006-01-02 15:04", "2006-01-02T15:04", "2006-01-02"} {
		if parsed, err := time.ParseInLocation(layout, value, time.Local); err == nil {
			return parsed, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", value)
}

func timeOfDay(now time.Time) string {
	switch hour := now.Hour(); {
	case hour < 12:
		return "morning"
	case hour < 18:
		return "afternoon"
	default:
		return "evening"
	}
}
