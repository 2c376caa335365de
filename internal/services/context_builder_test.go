package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"aria/internal/models"
)

type fakeProfiles struct {
	profile *models.ProfileSnapshot
	delay   time.Duration
	calls   int
}

func (f *fakeProfiles) Get(ctx context.Context, userID string) (*models.ProfileSnapshot, error) {
	f.calls++
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.profile, nil
}

type fakeTasks struct {
	tasks []models.TaskItem
	delay time.Duration
}

func (f *fakeTasks) ListPending(ctx context.Context, userID string, limit int) ([]models.TaskItem, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.tasks, nil
}

type fakeMessages struct{ messages []models.ConversationMessage }

func (f *fakeMessages) RecentMessages(ctx context.Context, userID string, n int) ([]models.ConversationMessage, error) {
	return f.messages, nil
}

type fakeMemories struct {
	top      []models.MemoryRecord
	patterns []models.MemoryRecord
	goals    []models.MemoryRecord
	touched  []string
}

func (f *fakeMemories) TopRanked(ctx context.Context, userID string, limit int) ([]models.MemoryRecord, error) {
	return f.top, nil
}

func (f *fakeMemories) ByCategory(ctx context.Context, userID, category string, limit int) ([]models.MemoryRecord, error) {
	if category == models.MemoryCategoryPattern {
		return f.patterns, nil
	}
	return f.goals, nil
}

func (f *fakeMemories) Touch(ctx context.Context, ids []string) error {
	f.touched = append(f.touched, ids...)
	return nil
}

type fakeEvents struct{ events []models.CalendarEvent }

func (f *fakeEvents) Upcoming(ctx context.Context, userID string, window time.Duration, limit int) ([]models.CalendarEvent, error) {
	return f.events, nil
}

type fakeFinance struct{ digest *models.FinanceDigest }

func (f *fakeFinance) Digest(ctx context.Context, userID string, periodDays int) (*models.FinanceDigest, error) {
	return f.digest, nil
}

func fullSources() (*fakeProfiles, *fakeTasks, *fakeMessages, *fakeMemories, *fakeEvents, *fakeFinance) {
	profiles := &fakeProfiles{profile: &models.ProfileSnapshot{
		UserID: "u1", Name: "Dana", FocusArea: "discipline", MainGoal: "ship the project",
		WakeTime: "07:30", SleepTime: "23:00", EnergyPeak: "morning",
		Mode: models.ModeFocus, EnergyLevel: 70,
	}}
	tasks := &fakeTasks{tasks: []models.TaskItem{
		{Title: "call the client"}, {Title: "send the invoice"},
	}}
	messages := &fakeMessages{messages: []models.ConversationMessage{
		{Role: models.RoleUser, Content: "good morning"},
		{Role: models.RoleAssistant, Content: "morning! ready to plan the day?"},
	}}
	memories := &fakeMemories{
		top:      []models.MemoryRecord{{ID: "m1", Category: "preference", Content: "prefers morning workouts"}},
		patterns: []models.MemoryRecord{{ID: "m2", Category: "pattern", Content: "energy dips after lunch"}},
		goals:    []models.MemoryRecord{{ID: "m3", Category: "goal", Content: "run a 10k this fall"}},
	}
	events := &fakeEvents{events: []models.CalendarEvent{
		{Title: "dentist", StartsAt: time.Now().Add(3 * time.Hour)},
	}}
	finance := &fakeFinance{digest: &models.FinanceDigest{
		PeriodDays: 30, TotalSpent: 240.50, EntryCount: 12,
		ByCategory: map[string]float64{"food": 180.50, "transport": 60},
	}}
	return profiles, tasks, messages, memories, events, finance
}

func TestBuildAssemblesAllSections(t *testing.T) {
	profiles, tasks, messages, memories, events, finance := fullSources()
	b := NewContextBuilder(profiles, tasks, messages, memories, events, finance,
		200*time.Millisecond, 12000)

	bundle, err := b.Build(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	for _, name := range sectionPriority {
		if !bundle.Has(name) {
			t.Errorf("expected section %q in bundle", name)
		}
	}
	if bundle.Mode != models.ModeFocus {
		t.Errorf("mode = %q, want %q", bundle.Mode, models.ModeFocus)
	}
	if len(bundle.Dropped) != 0 {
		t.Errorf("nothing should drop at a 12k budget, dropped %v", bundle.Dropped)
	}
	if len(memories.touched) == 0 {
		t.Error("surfaced memories should have access stats bumped")
	}
}

func TestBuildEnforcesBudgetWithWholeSectionDrops(t *testing.T) {
	profiles, tasks, messages, memories, events, finance := fullSources()
	b := NewContextBuilder(profiles, tasks, messages, memories, events, finance,
		200*time.Millisecond, 400)

	bundle, err := b.Build(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if got := bundle.Size(); got > 400 {
		t.Errorf("serialized size %d exceeds budget", got)
	}
	if len(bundle.Dropped) == 0 {
		t.Error("expected drops under a tight budget")
	}
	// Profile is highest priority and must survive.
	if !bundle.Has(SectionProfile) {
		t.Error("profile section must survive the budget squeeze")
	}
	// Dropped sections must not appear in the serialized bundle.
	serialized := bundle.Serialize()
	for _, name := range bundle.Dropped {
		if strings.Contains(serialized, "## "+name) {
			t.Errorf("dropped section %q leaked into serialization", name)
		}
	}
	t.Logf("kept %d sections, dropped %v, size %d", len(bundle.Sections), bundle.Dropped, bundle.Size())
}

func TestBuildOmitsSlowSource(t *testing.T) {
	profiles, tasks, messages, memories, events, finance := fullSources()
	tasks.delay = 500 * time.Millisecond
	b := NewContextBuilder(profiles, tasks, messages, memories, events, finance,
		50*time.Millisecond, 12000)

	start := time.Now()
	bundle, err := b.Build(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 400*time.Millisecond {
		t.Errorf("slow source must not stall the build, took %s", elapsed)
	}
	if bundle.Has(SectionTasks) {
		t.Error("timed-out source must cost its section")
	}
	if !bundle.Has(SectionProfile) {
		t.Error("other sections must survive one slow source")
	}
}

func TestBuildCachesProfile(t *testing.T) {
	profiles, tasks, messages, memories, events, finance := fullSources()
	b := NewContextBuilder(profiles, tasks, messages, memories, events, finance,
		200*time.Millisecond, 12000)
	ctx := context.Background()

	b.Build(ctx, "u1")
	b.Build(ctx, "u1")
	if profiles.calls != 1 {
		t.Errorf("expected one profile read with cache warm, got %d", profiles.calls)
	}

	b.InvalidateProfile("u1")
	b.Build(ctx, "u1")
	if profiles.calls != 2 {
		t.Errorf("expected re-read after invalidation, got %d", profiles.calls)
	}
}

func TestRenderFinanceIsDeterministic(t *testing.T) {
	digest := &models.FinanceDigest{
		PeriodDays: 7,
		TotalSpent: 96.25,
		EntryCount: 4,
		ByCategory: map[string]float64{
			"transport": 12.00,
			"food":      54.25,
			"books":     30.00,
		},
	}

	first := renderFinance(digest)
	for i := 0; i < 20; i++ {
		if got := renderFinance(digest); got != first {
			t.Fatalf("rendering varied across calls:\n%s\nvs\n%s", first, got)
		}
	}

	lines := strings.Split(first, "\n")
	if len(lines) != 4 {
		t.Fatalf("expected header plus three categories, got %q", first)
	}
	for i, want := range []string{"books", "food", "transport"} {
		if !strings.Contains(lines[i+1], want) {
			t.Errorf("line %d = %q, want category %q", i+1, lines[i+1], want)
		}
	}
}
