package llm

import (
	"regexp"
	"strings"
)

// KeywordClassifier is the degraded-mode intent classifier. When the model is
// unreachable or returns garbage, routing falls back to keyword matching so
// the turn still resolves to an action.
type KeywordClassifier struct{}

// NewKeywordClassifier returns the fallback classifier.
func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{}
}

var amountPattern = regexp.MustCompile(`(\d+(?:[.,]\d{1,2})?)`)

// keyword → intent, checked in order; first hit wins.
var keywordRules = []struct {
	intent   string
	keywords []string
}{
	{IntentCreateTask, []string{"remind me", "add a task", "add task", "todo", "to-do", "don't let me forget", "need to "}},
	{IntentCompleteTask, []string{"i finished", "i completed", "mark done", "i did the", "done with"}},
	{IntentListTasks, []string{"my tasks", "what's on my plate", "whats on my plate", "list tasks", "what do i have to do"}},
	{IntentLogExpense, []string{"i spent", "i paid", "bought ", "expense"}},
	{IntentScheduleEvent, []string{"schedule", "put on my calendar", "book a", "meeting with"}},
	{IntentSaveMemory, []string{"remember that", "remember this", "don't forget that", "note that"}},
	{IntentRecallMemory, []string{"what do you know", "what did i tell you", "do you remember"}},
	{IntentGetRecommendation, []string{"what should i do", "any suggestions", "recommend", "what's next", "whats next"}},
	{IntentReviewItem, []string{"reviewed", "quiz me", "i rate", "review score"}},
}

// Classify maps free text to an intent with best-effort entities. Unmatched
// text classifies as chat; the dispatcher's own fallback handles the rest.
func (c *KeywordClassifier) Classify(text string) *Classification {
	lower := strings.ToLower(strings.TrimSpace(text))

	for _, rule := range keywordRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return &Classification{
					Intent:   rule.intent,
					Entities: extractEntities(rule.intent, text, lower, kw),
				}
			}
		}
	}

	return &Classification{Intent: IntentChat}
}

func extractEntities(intent, original, lower, matched string) map[string]string {
	entities := map[string]string{}

	switch intent {
	case IntentCreateTask:
		title := original
		if idx := strings.Index(lower, "remind me to "); idx >= 0 {
			title = original[idx+len("remind me to "):]
		} else if idx := strings.Index(lower, matched); idx >= 0 {
			title = strings.TrimSpace(original[idx+len(matched):])
		}
		title, due := splitDueHint(title)
		if title != "" {
			entities["title"] = title
		}
		if due != "" {
			entities["due"] = due
		}

	case IntentCompleteTask:
		entities["title"] = strings.TrimSpace(original)

	case IntentLogExpense:
		if m := amountPattern.FindString(lower); m != "" {
			entities["amount"] = strings.ReplaceAll(m, ",", ".")
		}
		entities["note"] = strings.TrimSpace(original)

	case IntentSaveMemory:
		content := original
		for _, marker := range []string{"remember that ", "remember this: ", "note that ", "don't forget that "} {
			if idx := strings.Index(lower, marker); idx >= 0 {
				content = original[idx+len(marker):]
				break
			}
		}
		entities["content"] = strings.TrimSpace(content)

	case IntentRecallMemory:
		entities["query"] = strings.TrimSpace(original)

	case IntentReviewItem:
		if m := amountPattern.FindString(lower); m != "" {
			entities["quality"] = m
		}
	}

	return entities
}

// splitDueHint pulls a trailing natural-language due hint off a task title.
func splitDueHint(title string) (string, string) {
	trimmed := strings.TrimSpace(title)
	lower := strings.ToLower(trimmed)

	for _, hint := range []string{"tomorrow", "tonight", "today"} {
		if strings.HasSuffix(lower, " "+hint) {
			return strings.TrimSpace(trimmed[:len(trimmed)-len(hint)]), hint
		}
		if lower == hint {
			return "", hint
		}
	}
	return trimmed, ""
}
