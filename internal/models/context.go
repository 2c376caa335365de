package models

import "strings"

// BundleSection is one rendered block of the context snapshot. Sections are
// added whole and dropped whole; content is never truncated mid-section.
type BundleSection struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// ContextBundle is the ephemeral, size-bounded snapshot of user state passed
// to the generative model for one turn. Sections appear in fixed priority
// order; anything past the budget was dropped whole by the assembler.
type ContextBundle struct {
	UserID   string          `json:"user_id"`
	Mode     string          `json:"mode"` // active operating mode
	Sections []BundleSection `json:"sections"`
	Dropped  []string        `json:"dropped,omitempty"` // section names omitted (budget or source failure)
}

// Serialize renders the bundle as the prompt block sent to the model.
func (b *ContextBundle) Serialize() string {
	var sb strings.Builder
	for _, s := range b.Sections {
		sb.WriteString("## ")
		sb.WriteString(s.Name)
		sb.WriteString("\n\n")
		sb.WriteString(s.Content)
		if !strings.HasSuffix(s.Content, "\n") {
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// Size returns the serialized size in bytes, the value the budget caps.
func (b *ContextBundle) Size() int {
	return len(b.Serialize())
}

// Has reports whether a section with the given name survived assembly.
func (b *ContextBundle) Has(name string) bool {
	for _, s := range b.Sections {
		if s.Name == name {
			return true
		}
	}
	return false
}
