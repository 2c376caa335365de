package policy

import "strings"

// RecommendState is the caller-held state the selector reads and advances.
// Suggested counts let the selector rotate suggestions for an attribute
// instead of repeating the same action every time.
type RecommendState struct {
	Attributes     map[string]int // attribute name → level 0..100
	FocusAreas     []string
	EnergyLevel    int            // latest check-in, 0..100
	SuggestedCount map[string]int // attribute → times recommended
}

// RecommendInput is the per-call context for the selector.
type RecommendInput struct {
	TimeOfDay string // "morning", "afternoon", "evening"
}

// Recommendation is the selected next action.
type Recommendation struct {
	Attribute string
	Action    string
	Reason    string
}

// actionTable maps an attribute to a rotation of concrete suggestions.
var actionTable = map[string][]string{
	"mind":       {"Read for 25 focused minutes", "Do one deep-work block on your hardest problem", "Write a one-page reflection on today"},
	"body":       {"Take a 20-minute walk", "Do a short strength session", "Stretch for 10 minutes before bed"},
	"energy":     {"Drink a glass of water and step outside", "Take a 15-minute screen break", "Go to bed 30 minutes earlier tonight"},
	"social":     {"Message a friend you haven't talked to this week", "Schedule one catch-up call", "Write a short thank-you note"},
	"finance":    {"Log today's expenses", "Review this week's spending by category", "Move a small amount into savings"},
	"discipline": {"Pick your top task and do the first 5 minutes", "Clear your inbox items", "Plan tomorrow's top three tasks"},
}

// focusBoost lowers an attribute's effective level when it is a focus area,
// so focus areas win ties against equally weak attributes.
const focusBoost = 15

// Recommend maps current attribute levels and focus areas to a suggested next
// action. Low energy overrides everything: recovery comes before improvement.
func Recommend(state RecommendState, input RecommendInput) (RecommendState, Recommendation) {
	next := state
	if next.SuggestedCount == nil {
		next.SuggestedCount = make(map[string]int)
	} else {
		copied := make(map[string]int, len(state.SuggestedCount))
		for k, v := range state.SuggestedCount {
			copied[k] = v
		}
		next.SuggestedCount = copied
	}

	if state.EnergyLevel > 0 && state.EnergyLevel < 30 {
		rec := Recommendation{
			Attribute: "energy",
			Action:    recoveryAction(input.TimeOfDay),
			Reason:    "your energy is low, recover before pushing",
		}
		next.SuggestedCount["energy"]++
		return next, rec
	}

	target := weakestAttribute(state)
	if target == "" {
		target = "discipline"
	}

	actions := actionTable[target]
	if len(actions) == 0 {
		actions = actionTable["discipline"]
	}
	action := actions[next.SuggestedCount[target]%len(actions)]
	next.SuggestedCount[target]++

	reason := "it's your weakest area right now"
	if isFocusArea(state.FocusAreas, target) {
		reason = "it's one of your focus areas"
	}

	return next, Recommendation{Attribute: target, Action: action, Reason: reason}
}

func recoveryAction(timeOfDay string) string {
	switch timeOfDay {
	case "evening":
		return "Wind down early: no screens for the last 30 minutes before bed"
	case "afternoon":
		return "Take a real break: 15 minutes away from your desk"
	default:
		return "Start slow: water, daylight, and a short walk before anything demanding"
	}
}

func weakestAttribute(state RecommendState) string {
	best := ""
	bestLevel := 0
	for name, level := range state.Attributes {
		effective := level
		if isFocusArea(state.FocusAreas, name) {
			effective -= focusBoost
		}
		if best == "" || effective < bestLevel {
			best = name
			bestLevel = effective
		}
	}
	return best
}

func isFocusArea(areas []string, name string) bool {
	for _, a := range areas {
		if strings.EqualFold(a, name) {
			return true
		}
	}
	return false
}
