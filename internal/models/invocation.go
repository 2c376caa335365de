package models

import "time"

// ToolInvocation is one row of the append-only dispatch audit trail.
type ToolInvocation struct {
	ID            string    `json:"id"`
	SessionID     string    `json:"session_id"`
	Tool          string    `json:"tool"`
	Input         string    `json:"input"`  // JSON
	Result        string    `json:"result"` // user-facing summary or error text
	Success       bool      `json:"success"`
	LatencyMs     int64     `json:"latency_ms"`
	RetryCount    int       `json:"retry_count"`
	CorrelationID string    `json:"correlation_id"`
	CreatedAt     time.Time `json:"created_at"`
}
