package services

import (
	"context"
	"testing"
	"time"

	"aria/internal/models"
)

func TestWriterPersistsTurnAndExplicitMemory(t *testing.T) {
	db := newTestDB(t)
	state := NewStateStore(db, 30*time.Minute)
	memories := NewMemoryStore(db)
	ctx := context.Background()

	user, _ := state.GetOrCreateUser(ctx, "chat-1")
	session, _ := state.GetOrCreateSession(ctx, user.ID)

	w := NewMemoryWriter(state, memories, 0.7)
	w.Start()

	w.Enqueue(TurnRecord{
		UserID:    user.ID,
		SessionID: session.ID,
		UserMessage: models.ConversationMessage{
			SessionID: session.ID, Role: models.RoleUser,
			Content: "remember that I prefer morning workouts",
		},
		ReplyMessage: models.ConversationMessage{
			SessionID: session.ID, Role: models.RoleAssistant,
			Content: "Noted, I'll remember that.",
		},
	})
	w.Stop()

	messages, err := state.RecentMessages(ctx, user.ID, 10)
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages appended, got %d", len(messages))
	}

	saved, err := memories.TopRanked(ctx, user.ID, 5)
	if err != nil {
		t.Fatalf("memories: %v", err)
	}
	if len(saved) != 1 || saved[0].Content != "I prefer morning workouts" {
		t.Fatalf("expected explicit memory extracted, got %+v", saved)
	}

	reloaded, _ := state.GetOrCreateSession(ctx, user.ID)
	if reloaded.MessageCount != 2 {
		t.Errorf("message counter = %d, want 2", reloaded.MessageCount)
	}
}

func TestWriterSalienceThreshold(t *testing.T) {
	db := newTestDB(t)
	state := NewStateStore(db, 30*time.Minute)
	memories := NewMemoryStore(db)
	ctx := context.Background()

	user, _ := state.GetOrCreateUser(ctx, "chat-1")
	session, _ := state.GetOrCreateSession(ctx, user.ID)

	w := NewMemoryWriter(state, memories, 0.7)
	w.Start()

	base := models.ConversationMessage{SessionID: session.ID, Role: models.RoleUser, Content: "just chatting"}
	reply := models.ConversationMessage{SessionID: session.ID, Role: models.RoleAssistant, Content: "sure"}

	// Below the threshold: no memory.
	w.Enqueue(TurnRecord{
		UserID: user.ID, SessionID: session.ID,
		UserMessage: base, ReplyMessage: reply,
		Salience: 0.4, MemoryContent: "likes small talk",
	})
	// Above the threshold: memory with the model's category.
	w.Enqueue(TurnRecord{
		UserID: user.ID, SessionID: session.ID,
		UserMessage: base, ReplyMessage: reply,
		Salience: 0.9, MemoryContent: "training for a marathon", MemoryCategory: models.MemoryCategoryGoal,
	})
	w.Stop()

	saved, _ := memories.TopRanked(ctx, user.ID, 5)
	if len(saved) != 1 {
		t.Fatalf("expected exactly one salient memory, got %d", len(saved))
	}
	if saved[0].Content != "training for a marathon" || saved[0].Category != models.MemoryCategoryGoal {
		t.Errorf("memory = %+v", saved[0])
	}
}
