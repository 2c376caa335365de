package services

import (
	"context"
	"fmt"
	"time"

	"aria/internal/database"
	"aria/internal/models"

	"github.com/google/uuid"
)

// InvocationStore appends tool invocation audit rows. Append-only.
type InvocationStore struct {
	db *database.DB
}

// NewInvocationStore creates the invocation store.
func NewInvocationStore(db *database.DB) *InvocationStore {
	return &InvocationStore{db: db}
}

// Record writes one invocation row.
func (s *InvocationStore) Record(ctx context.Context, inv *models.ToolInvocation) error {
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tool_invocations (id, session_id, tool, input, result, success, latency_ms, retry_count, correlation_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.ID, inv.SessionID, inv.Tool, inv.Input, inv.Result, inv.Success,
		inv.LatencyMs, inv.RetryCount, inv.CorrelationID, inv.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record invocation: %w", err)
	}
	return nil
}
