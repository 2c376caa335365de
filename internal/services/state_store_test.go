package services

import (
	"context"
	"testing"
	"time"

	"aria/internal/database"
	"aria/internal/models"
)

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.New(":memory:")
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Initialize(); err != nil {
		t.Fatalf("initialize schema: %v", err)
	}
	return db
}

func TestGetOrCreateUserIsStable(t *testing.T) {
	db := newTestDB(t)
	s := NewStateStore(db, 30*time.Minute)
	ctx := context.Background()

	first, err := s.GetOrCreateUser(ctx, "chat-42")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := s.GetOrCreateUser(ctx, "chat-42")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("same channel must map to one user, got %s and %s", first.ID, second.ID)
	}

	other, err := s.GetOrCreateUser(ctx, "chat-43")
	if err != nil {
		t.Fatalf("create other: %v", err)
	}
	if other.ID == first.ID {
		t.Error("different channels must map to different users")
	}
}

func TestSessionReuseAndSingleActive(t *testing.T) {
	db := newTestDB(t)
	s := NewStateStore(db, 30*time.Minute)
	ctx := context.Background()

	user, _ := s.GetOrCreateUser(ctx, "chat-42")

	first, err := s.GetOrCreateSession(ctx, user.ID)
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	second, err := s.GetOrCreateSession(ctx, user.ID)
	if err != nil {
		t.Fatalf("reuse session: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("active session should be reused, got %s and %s", first.ID, second.ID)
	}

	var active int
	if err := db.QueryRow(`SELECT COUNT(*) FROM sessions WHERE user_id = ? AND active = 1`, user.ID).Scan(&active); err != nil {
		t.Fatalf("count: %v", err)
	}
	if active != 1 {
		t.Errorf("expected exactly one active session, got %d", active)
	}
}

func TestSessionRollsOverAfterIdleTimeout(t *testing.T) {
	db := newTestDB(t)
	s := NewStateStore(db, 50*time.Millisecond)
	ctx := context.Background()

	user, _ := s.GetOrCreateUser(ctx, "chat-42")
	first, _ := s.GetOrCreateSession(ctx, user.ID)

	time.Sleep(80 * time.Millisecond)

	second, err := s.GetOrCreateSession(ctx, user.ID)
	if err != nil {
		t.Fatalf("roll over session: %v", err)
	}
	if first.ID == second.ID {
		t.Error("expected a fresh session after the idle timeout")
	}

	var active int
	db.QueryRow(`SELECT COUNT(*) FROM sessions WHERE user_id = ? AND active = 1`, user.ID).Scan(&active)
	if active != 1 {
		t.Errorf("old session must close on rollover, %d active", active)
	}
}

func TestPendingFlowSingleton(t *testing.T) {
	db := newTestDB(t)
	s := NewStateStore(db, 30*time.Minute)
	ctx := context.Background()

	user, _ := s.GetOrCreateUser(ctx, "chat-42")

	// Missing row reads as none.
	flow, err := s.GetPendingFlow(ctx, user.ID)
	if err != nil {
		t.Fatalf("get empty: %v", err)
	}
	if flow.Kind != models.FlowNone {
		t.Fatalf("expected none, got %s", flow.Kind)
	}

	flow.Kind = models.FlowOnboarding
	flow.StepIndex = 2
	flow.SetField("name", "Dana", false)
	flow.ExpiresAt = time.Now().UTC().Add(15 * time.Minute)
	if err := s.SavePendingFlow(ctx, flow); err != nil {
		t.Fatalf("save: %v", err)
	}

	// Save again: still one row.
	flow.StepIndex = 3
	if err := s.SavePendingFlow(ctx, flow); err != nil {
		t.Fatalf("second save: %v", err)
	}
	var count int
	db.QueryRow(`SELECT COUNT(*) FROM pending_flows WHERE user_id = ?`, user.ID).Scan(&count)
	if count != 1 {
		t.Fatalf("pending flow must be a singleton, got %d rows", count)
	}

	loaded, err := s.GetPendingFlow(ctx, user.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if loaded.StepIndex != 3 || loaded.Kind != models.FlowOnboarding {
		t.Errorf("loaded = %+v", loaded)
	}
	if value, ok := loaded.Field("name"); !ok || value != "Dana" {
		t.Errorf("collected field lost across save, got %q ok=%v", value, ok)
	}

	if err := s.ClearPendingFlow(ctx, user.ID); err != nil {
		t.Fatalf("clear: %v", err)
	}
	cleared, _ := s.GetPendingFlow(ctx, user.ID)
	if cleared.Kind != models.FlowNone {
		t.Errorf("expected none after clear, got %s", cleared.Kind)
	}
}

func TestRecentMessagesChronological(t *testing.T) {
	db := newTestDB(t)
	s := NewStateStore(db, 30*time.Minute)
	ctx := context.Background()

	user, _ := s.GetOrCreateUser(ctx, "chat-42")
	session, _ := s.GetOrCreateSession(ctx, user.ID)

	base := time.Now().UTC()
	for i, content := range []string{"first", "second", "third"} {
		err := s.AppendMessage(ctx, &models.ConversationMessage{
			SessionID: session.ID,
			Role:      models.RoleUser,
			Content:   content,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("append %q: %v", content, err)
		}
	}

	messages, err := s.RecentMessages(ctx, user.ID, 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}
	if messages[0].Content != "second" || messages[1].Content != "third" {
		t.Errorf("expected newest two in chronological order, got %q then %q",
			messages[0].Content, messages[1].Content)
	}
}

func TestExpiredFlowsSweep(t *testing.T) {
	db := newTestDB(t)
	s := NewStateStore(db, 30*time.Minute)
	ctx := context.Background()

	expired, _ := s.GetOrCreateUser(ctx, "chat-1")
	live, _ := s.GetOrCreateUser(ctx, "chat-2")

	s.SavePendingFlow(ctx, &models.PendingFlow{
		UserID: expired.ID, Kind: models.FlowOnboarding,
		ExpiresAt: time.Now().UTC().Add(-time.Minute),
	})
	s.SavePendingFlow(ctx, &models.PendingFlow{
		UserID: live.ID, Kind: models.FlowCheckinEnergy,
		ExpiresAt: time.Now().UTC().Add(10 * time.Minute),
	})

	flows, err := s.ExpiredFlows(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(flows) != 1 || flows[0].UserID != expired.ID {
		t.Fatalf("expected only the expired flow, got %+v", flows)
	}
}
