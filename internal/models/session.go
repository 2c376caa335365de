package models

import "time"

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// ConversationSession groups messages between idle gaps.
// Invariant: at most one active session per user. A session opens on the
// first message after the idle timeout and closes on idle or explicit end.
type ConversationSession struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	Active       bool       `json:"active"`
	MessageCount int        `json:"message_count"`
	LastActivity time.Time  `json:"last_activity"`
}

// ConversationMessage is one turn's user or assistant message. Append-only.
type ConversationMessage struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	Role        string    `json:"role"`
	Content     string    `json:"content"`
	Intent      string    `json:"intent,omitempty"`       // derived intent, user messages only
	Entities    string    `json:"entities,omitempty"`     // derived entities, JSON
	SideEffects string    `json:"side_effects,omitempty"` // references to rows the turn wrote, JSON
	CreatedAt   time.Time `json:"created_at"`
}
