package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"aria/internal/database"
	"aria/internal/models"

	"github.com/google/uuid"
)

// StateStore owns per-user conversational state: identity, the single active
// session, and the PendingFlow singleton. It is also the per-user
// serialization point: all turn processing for a user runs under that user's
// lock, so concurrent deliveries are handled strictly in arrival order.
type StateStore struct {
	db          *database.DB
	idleTimeout time.Duration

	locks sync.Map // map[string]*sync.Mutex
}

// NewStateStore creates the state store.
func NewStateStore(db *database.DB, idleTimeout time.Duration) *StateStore {
	return &StateStore{db: db, idleTimeout: idleTimeout}
}

// WithUserLock runs fn while holding the user's lock. Different users proceed
// fully in parallel; the same user's turns serialize in arrival order.
func (s *StateStore) WithUserLock(userID string, fn func() error) error {
	mu := s.userLock(userID)
	mu.Lock()
	defer mu.Unlock()
	return fn()
}

func (s *StateStore) userLock(userID string) *sync.Mutex {
	if v, ok := s.locks.Load(userID); ok {
		return v.(*sync.Mutex)
	}
	actual, _ := s.locks.LoadOrStore(userID, &sync.Mutex{})
	return actual.(*sync.Mutex)
}

// --- Users ---

// GetOrCreateUser resolves a channel id to a stable user identity, creating
// it on first contact.
func (s *StateStore) GetOrCreateUser(ctx context.Context, channelID string) (*models.UserIdentity, error) {
	var user models.UserIdentity
	err := s.db.QueryRowContext(ctx,
		`SELECT id, channel_id, created_at FROM users WHERE channel_id = ?`, channelID).
		Scan(&user.ID, &user.ChannelID, &user.CreatedAt)
	if err == nil {
		return &user, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	user = models.UserIdentity{
		ID:        uuid.NewString(),
		ChannelID: channelID,
		CreatedAt: time.Now().UTC(),
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO users (id, channel_id, created_at) VALUES (?, ?, ?)`,
		user.ID, user.ChannelID, user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	log.Printf("👤 [STATE] New user %s (channel %s)", user.ID, channelID)
	return &user, nil
}

// --- Sessions ---

// GetOrCreateSession returns the user's active session, closing a stale one
// and opening a fresh one when the idle timeout has elapsed.
func (s *StateStore) GetOrCreateSession(ctx context.Context, userID string) (*models.ConversationSession, error) {
	session, err := s.activeSession(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if session != nil {
		if now.Sub(session.LastActivity) < s.idleTimeout {
			return session, nil
		}
		if err := s.closeSession(ctx, session.ID, session.LastActivity); err != nil {
			return nil, err
		}
	}

	session = &models.ConversationSession{
		ID:           uuid.NewString(),
		UserID:       userID,
		StartedAt:    now,
		Active:       true,
		LastActivity: now,
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, started_at, active, message_count, last_activity)
		 VALUES (?, ?, ?, 1, 0, ?)`,
		session.ID, session.UserID, session.StartedAt, session.LastActivity)
	if err != nil {
		return nil, fmt.Errorf("failed to open session: %w", err)
	}
	return session, nil
}

func (s *StateStore) activeSession(ctx context.Context, userID string) (*models.ConversationSession, error) {
	var session models.ConversationSession
	var endedAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, started_at, ended_at, active, message_count, last_activity
		 FROM sessions WHERE user_id = ? AND active = 1`, userID).
		Scan(&session.ID, &session.UserID, &session.StartedAt, &endedAt,
			&session.Active, &session.MessageCount, &session.LastActivity)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load active session: %w", err)
	}
	if endedAt.Valid {
		session.EndedAt = &endedAt.Time
	}
	return &session, nil
}

func (s *StateStore) closeSession(ctx context.Context, sessionID string, endedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET active = 0, ended_at = ? WHERE id = ?`, endedAt, sessionID)
	if err != nil {
		return fmt.Errorf("failed to close session: %w", err)
	}
	return nil
}

// TouchSession bumps activity and the message counter after a turn.
func (s *StateStore) TouchSession(ctx context.Context, sessionID string, newMessages int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET last_activity = ?, message_count = message_count + ? WHERE id = ?`,
		time.Now().UTC(), newMessages, sessionID)
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return nil
}

// CloseIdleSessions ends sessions whose last activity is older than the idle
// timeout. Called by the scheduler.
func (s *StateStore) CloseIdleSessions(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-s.idleTimeout)
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET active = 0, ended_at = last_activity
		 WHERE active = 1 AND last_activity < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to close idle sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// RecentMessages returns the user's last n messages, oldest first.
func (s *StateStore) RecentMessages(ctx context.Context, userID string, n int) ([]models.ConversationMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT m.id, m.session_id, m.role, m.content, m.intent, m.entities, m.side_effects, m.created_at
		 FROM messages m JOIN sessions se ON se.id = m.session_id
		 WHERE se.user_id = ?
		 ORDER BY m.created_at DESC LIMIT ?`, userID, n)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent messages: %w", err)
	}
	defer rows.Close()

	var messages []models.ConversationMessage
	for rows.Next() {
		var m models.ConversationMessage
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.Intent,
			&m.Entities, &m.SideEffects, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, m)
	}

	// Reverse to chronological order.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, rows.Err()
}

// AppendMessage writes one message row. Append-only.
func (s *StateStore) AppendMessage(ctx context.Context, m *models.ConversationMessage) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, session_id, role, content, intent, entities, side_effects, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.SessionID, m.Role, m.Content, m.Intent, m.Entities, m.SideEffects, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

// --- Pending flows ---

// GetPendingFlow loads the user's flow state; a missing row means FlowNone.
func (s *StateStore) GetPendingFlow(ctx context.Context, userID string) (*models.PendingFlow, error) {
	var flow models.PendingFlow
	var collected string
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, kind, step_index, collected, retry_count, edit_field, expires_at, updated_at
		 FROM pending_flows WHERE user_id = ?`, userID).
		Scan(&flow.UserID, &flow.Kind, &flow.StepIndex, &collected,
			&flow.RetryCount, &flow.EditField, &flow.ExpiresAt, &flow.UpdatedAt)
	if err == sql.ErrNoRows {
		return &models.PendingFlow{UserID: userID, Kind: models.FlowNone}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load pending flow: %w", err)
	}
	if err := json.Unmarshal([]byte(collected), &flow.Collected); err != nil {
		return nil, fmt.Errorf("failed to decode collected fields: %w", err)
	}
	return &flow, nil
}

// SavePendingFlow upserts the flow singleton. The per-user lock makes the
// read-modify-write linearizable; if a concurrent writer is observed anyway,
// the newer write wins and an audit entry records the conflict.
func (s *StateStore) SavePendingFlow(ctx context.Context, flow *models.PendingFlow) error {
	collected, err := json.Marshal(flow.Collected)
	if err != nil {
		return fmt.Errorf("failed to encode collected fields: %w", err)
	}
	if flow.Collected == nil {
		collected = []byte("[]")
	}

	expected := flow.UpdatedAt
	flow.UpdatedAt = time.Now().UTC()

	if !expected.IsZero() {
		res, err := s.db.ExecContext(ctx,
			`UPDATE pending_flows
			 SET kind = ?, step_index = ?, collected = ?, retry_count = ?, edit_field = ?, expires_at = ?, updated_at = ?
			 WHERE user_id = ? AND updated_at = ?`,
			flow.Kind, flow.StepIndex, string(collected), flow.RetryCount, flow.EditField,
			flow.ExpiresAt, flow.UpdatedAt, flow.UserID, expected)
		if err != nil {
			return fmt.Errorf("failed to update pending flow: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			return nil
		}
		// Row changed underneath us. Should be unreachable under the user
		// lock; resolve last-writer-wins with an audit trail.
		s.auditConflict(ctx, flow.UserID, fmt.Sprintf("pending flow overwritten; expected version %s", expected))
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO pending_flows (user_id, kind, step_index, collected, retry_count, edit_field, expires_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
			kind = excluded.kind, step_index = excluded.step_index, collected = excluded.collected,
			retry_count = excluded.retry_count, edit_field = excluded.edit_field,
			expires_at = excluded.expires_at, updated_at = excluded.updated_at`,
		flow.UserID, flow.Kind, flow.StepIndex, string(collected), flow.RetryCount,
		flow.EditField, flow.ExpiresAt, flow.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save pending flow: %w", err)
	}
	return nil
}

// ClearPendingFlow resets the user to FlowNone.
func (s *StateStore) ClearPendingFlow(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM pending_flows WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("failed to clear pending flow: %w", err)
	}
	return nil
}

// ExpiredFlows returns users whose flow deadline has elapsed, for the sweep job.
func (s *StateStore) ExpiredFlows(ctx context.Context) ([]models.PendingFlow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, kind, step_index, expires_at FROM pending_flows WHERE expires_at < ?`,
		time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query expired flows: %w", err)
	}
	defer rows.Close()

	var flows []models.PendingFlow
	for rows.Next() {
		var f models.PendingFlow
		if err := rows.Scan(&f.UserID, &f.Kind, &f.StepIndex, &f.ExpiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan expired flow: %w", err)
		}
		flows = append(flows, f)
	}
	return flows, rows.Err()
}

func (s *StateStore) auditConflict(ctx context.Context, userID, detail string) {
	log.Printf("⚠️  [STATE] Flow conflict for user %s: %s", userID, detail)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO flow_audit (user_id, detail, created_at) VALUES (?, ?, ?)`,
		userID, detail, time.Now().UTC())
	if err != nil {
		log.Printf("⚠️  [STATE] Failed to record conflict audit: %v", err)
	}
}

// ChannelForUser resolves the outbound channel id for a user (sweep notices).
func (s *StateStore) ChannelForUser(ctx context.Context, userID string) (string, error) {
	var channelID string
	err := s.db.QueryRowContext(ctx, `SELECT channel_id FROM users WHERE id = ?`, userID).Scan(&channelID)
	if err != nil {
		return "", fmt.Errorf("failed to resolve channel for user: %w", err)
	}
	return channelID, nil
}
