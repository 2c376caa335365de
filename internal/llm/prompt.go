package llm

import (
	"fmt"
	"strings"
)

// Intents the dispatcher knows how to execute. Kept here so the prompt and
// the keyword fallback agree on the vocabulary.
const (
	IntentCreateTask        = "create_task"
	IntentCompleteTask      = "complete_task"
	IntentListTasks         = "list_tasks"
	IntentLogExpense        = "log_expense"
	IntentScheduleEvent     = "schedule_event"
	IntentSaveMemory        = "save_memory"
	IntentRecallMemory      = "recall_memory"
	IntentGetRecommendation = "get_recommendation"
	IntentReviewItem        = "review_item"
	IntentChat              = "chat"
)

var modeTones = map[string]string{
	"default":  "Warm, practical and brief.",
	"focus":    "Minimal and direct. No small talk; protect the user's attention.",
	"recovery": "Gentle and unhurried. Encourage rest over productivity.",
}

// BuildSystemPrompt returns the turn's system instructions for the active
// operating mode. The model must answer with ONLY a JSON envelope so intent
// and entities come back machine-readable.
func BuildSystemPrompt(mode string) string {
	tone, ok := modeTones[mode]
	if !ok {
		tone = modeTones["default"]
	}

	var sb strings.Builder
	sb.WriteString("You are Aria, a personal coach the user talks to over chat. ")
	sb.WriteString("Read the user context below, decide the single best action for this message, and reply.\n\n")
	sb.WriteString("Tone: ")
	sb.WriteString(tone)
	sb.WriteString("\n\nClassify the message into one of these intents:\n")
	sb.WriteString(fmt.Sprintf(`
%s: the user wants something tracked or to be reminded. Entities: "title", optional "due" ("today", "tomorrow", "tonight" or YYYY-MM-DD).
%s: the user finished something. Entities: "title".
%s: the user asks what is on their plate.
%s: the user spent or received money. Entities: "amount", "category", optional "note".
%s: the user wants something on the calendar. Entities: "title", "start" (YYYY-MM-DD HH:MM), optional "end".
%s: the user states a durable fact, preference or goal worth remembering. Entities: "content", "category" (preference|fact|pattern|relationship|goal|context|feedback).
%s: the user asks what you know about them or a topic. Entities: "query".
%s: the user asks what to do next or wants a suggestion.
%s: the user reports a review of a learning topic. Entities: "topic", "quality" (0-5).
%s: anything conversational with no domain action.
`,
		IntentCreateTask, IntentCompleteTask, IntentListTasks, IntentLogExpense,
		IntentScheduleEvent, IntentSaveMemory, IntentRecallMemory,
		IntentGetRecommendation, IntentReviewItem, IntentChat))
	sb.WriteString(`
Respond with ONLY a JSON object, no markdown, no explanation:
{"reply": "<what you say to the user>", "intent": "<intent>", "entities": {...}, "salience": <0..1 how memory-worthy this message is>, "memory": "<one-line durable fact if salience is high, else empty>"}
`)
	return sb.String()
}
