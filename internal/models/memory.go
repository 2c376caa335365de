package models

import (
	"math"
	"time"
)

// Memory categories
const (
	MemoryCategoryPreference   = "preference"
	MemoryCategoryFact         = "fact"
	MemoryCategoryPattern      = "pattern"
	MemoryCategoryRelationship = "relationship"
	MemoryCategoryGoal         = "goal"
	MemoryCategoryContext      = "context"
	MemoryCategoryFeedback     = "feedback"
)

// MemoryArchiveThreshold is the rank score below which the decay job archives
// a memory. Archival is reversible; rows are deleted only on explicit user request.
const MemoryArchiveThreshold = 0.15

// MemoryRecord is one durable fact surfaced by a turn. Importance decays over
// time; ranking combines importance with an exponential recency decay.
type MemoryRecord struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	Category       string     `json:"category"`
	Content        string     `json:"content"`
	Importance     int        `json:"importance"`   // 1..10
	DecayFactor    float64    `json:"decay_factor"` // per-day multiplier, (0,1]
	AccessCount    int64      `json:"access_count"`
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`
	Archived       bool       `json:"archived"`
	CreatedAt      time.Time  `json:"created_at"`
}

// RankScore computes importance × decay_factor^(days_since_access).
// Falls back to CreatedAt when the memory was never accessed.
func (m *MemoryRecord) RankScore(now time.Time) float64 {
	reference := m.CreatedAt
	if m.LastAccessedAt != nil {
		reference = *m.LastAccessedAt
	}

	days := now.Sub(reference).Hours() / 24.0
	if days < 0 {
		days = 0
	}

	return float64(m.Importance) * math.Pow(m.DecayFactor, days)
}
