package services

import (
	"context"
	"testing"
	"time"

	"aria/internal/models"
)

func TestMemoryRankingPrefersImportantAndRecent(t *testing.T) {
	db := newTestDB(t)
	s := NewMemoryStore(db)
	state := NewStateStore(db, 30*time.Minute)
	ctx := context.Background()

	user, _ := state.GetOrCreateUser(ctx, "chat-42")

	low, err := s.Create(ctx, user.ID, models.MemoryCategoryFact, "low importance fact", 2)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	high, err := s.Create(ctx, user.ID, models.MemoryCategoryPreference, "high importance preference", 9)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Age the low one far past its decay half-life.
	old := time.Now().UTC().AddDate(0, 0, -60)
	if _, err := db.Exec(`UPDATE memories SET created_at = ? WHERE id = ?`, old, low.ID); err != nil {
		t.Fatalf("age memory: %v", err)
	}

	top, err := s.TopRanked(ctx, user.ID, 5)
	if err != nil {
		t.Fatalf("rank: %v", err)
	}
	if len(top) != 2 {
		t.Fatalf("expected 2 memories, got %d", len(top))
	}
	if top[0].ID != high.ID {
		t.Errorf("expected the important recent memory first, got %q", top[0].Content)
	}
}

func TestMemoryByCategoryFeedsBundleSections(t *testing.T) {
	db := newTestDB(t)
	s := NewMemoryStore(db)
	state := NewStateStore(db, 30*time.Minute)
	ctx := context.Background()

	user, _ := state.GetOrCreateUser(ctx, "chat-42")
	s.Create(ctx, user.ID, models.MemoryCategoryGoal, "run a 10k", 8)
	s.Create(ctx, user.ID, models.MemoryCategoryPattern, "energy dips after lunch", 6)
	s.Create(ctx, user.ID, models.MemoryCategoryFact, "allergic to peanuts", 7)

	goals, err := s.ByCategory(ctx, user.ID, models.MemoryCategoryGoal, 5)
	if err != nil {
		t.Fatalf("by category: %v", err)
	}
	if len(goals) != 1 || goals[0].Content != "run a 10k" {
		t.Errorf("goals = %+v", goals)
	}
}

func TestDecayPassArchivesButNeverDeletes(t *testing.T) {
	db := newTestDB(t)
	s := NewMemoryStore(db)
	state := NewStateStore(db, 30*time.Minute)
	ctx := context.Background()

	user, _ := state.GetOrCreateUser(ctx, "chat-42")
	stale, _ := s.Create(ctx, user.ID, models.MemoryCategoryContext, "one-off context", 1)
	fresh, _ := s.Create(ctx, user.ID, models.MemoryCategoryPreference, "prefers tea", 9)

	// importance 1 × 0.95^90 ≈ 0.01, far below the archive threshold.
	old := time.Now().UTC().AddDate(0, 0, -90)
	db.Exec(`UPDATE memories SET created_at = ? WHERE id = ?`, old, stale.ID)

	archived, err := s.DecayPass(ctx)
	if err != nil {
		t.Fatalf("decay: %v", err)
	}
	if archived != 1 {
		t.Fatalf("expected 1 archived, got %d", archived)
	}

	top, _ := s.TopRanked(ctx, user.ID, 5)
	if len(top) != 1 || top[0].ID != fresh.ID {
		t.Errorf("archived memory must leave ranking, top = %+v", top)
	}

	// The row itself survives; only explicit requests delete.
	var total int
	db.QueryRow(`SELECT COUNT(*) FROM memories WHERE user_id = ?`, user.ID).Scan(&total)
	if total != 2 {
		t.Errorf("decay must not delete rows, got %d", total)
	}
}

func TestDeleteRequiresExplicitHint(t *testing.T) {
	db := newTestDB(t)
	s := NewMemoryStore(db)
	state := NewStateStore(db, 30*time.Minute)
	ctx := context.Background()

	user, _ := state.GetOrCreateUser(ctx, "chat-42")
	s.Create(ctx, user.ID, models.MemoryCategoryFact, "allergic to peanuts", 7)

	if _, err := s.Delete(ctx, user.ID, ""); err == nil {
		t.Error("empty hint must not wipe memories")
	}

	n, err := s.Delete(ctx, user.ID, "peanuts")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 deleted, got %d", n)
	}
}

func TestRankScoreFormula(t *testing.T) {
	now := time.Now().UTC()
	m := &models.MemoryRecord{Importance: 8, DecayFactor: 0.95, CreatedAt: now.AddDate(0, 0, -10)}

	got := m.RankScore(now)
	want := 8.0 * 0.5987 // 0.95^10
	if diff := got - want; diff > 0.01 || diff < -0.01 {
		t.Errorf("RankScore = %.4f, want ≈ %.4f", got, want)
	}

	// Access renews the reference point.
	accessed := now.Add(-time.Hour)
	m.LastAccessedAt = &accessed
	if got := m.RankScore(now); got < 7.9 {
		t.Errorf("recently accessed memory should score near full importance, got %.4f", got)
	}
}
