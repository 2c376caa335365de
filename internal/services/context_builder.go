package services

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"aria/internal/models"

	gocache "github.com/patrickmn/go-cache"
)

// Section names in priority order. When the budget runs out, lower-priority
// sections drop whole; a bundle never carries a truncated section.
const (
	SectionProfile  = "Profile"
	SectionTasks    = "Tasks"
	SectionMessages = "Recent Conversation"
	SectionMemories = "Memories"
	SectionPatterns = "Patterns"
	SectionEvents   = "Upcoming Events"
	SectionGoals    = "Goals"
	SectionFinance  = "Finance"
)

var sectionPriority = []string{
	SectionProfile, SectionTasks, SectionMessages, SectionMemories,
	SectionPatterns, SectionEvents, SectionGoals, SectionFinance,
}

// Source interfaces keep the assembler testable without a database.

type profileSource interface {
	Get(ctx context.Context, userID string) (*models.ProfileSnapshot, error)
}

type taskSource interface {
	ListPending(ctx context.Context, userID string, limit int) ([]models.TaskItem, error)
}

type messageSource interface {
	RecentMessages(ctx context.Context, userID string, n int) ([]models.ConversationMessage, error)
}

type memorySource interface {
	TopRanked(ctx context.Context, userID string, limit int) ([]models.MemoryRecord, error)
	ByCategory(ctx context.Context, userID, category string, limit int) ([]models.MemoryRecord, error)
	Touch(ctx context.Context, ids []string) error
}

type eventSource interface {
	Upcoming(ctx context.Context, userID string, window time.Duration, limit int) ([]models.CalendarEvent, error)
}

type financeSource interface {
	Digest(ctx context.Context, userID string, periodDays int) (*models.FinanceDigest, error)
}

// ContextBuilder assembles the bounded context bundle for a turn. Each source
// gets an independent timeout; a slow or failing source costs its section,
// never the turn.
type ContextBuilder struct {
	profiles      profileSource
	tasks         taskSource
	messages      messageSource
	memories      memorySource
	events        eventSource
	finance       financeSource
	sourceTimeout time.Duration
	budgetBytes   int

	profileCache *gocache.Cache
}

// NewContextBuilder creates the assembler.
func NewContextBuilder(profiles profileSource, tasks taskSource, messages messageSource,
	memories memorySource, events eventSource, finance financeSource,
	sourceTimeout time.Duration, budgetBytes int) *ContextBuilder {
	return &ContextBuilder{
		profiles:      profiles,
		tasks:         tasks,
		messages:      messages,
		memories:      memories,
		events:        events,
		finance:       finance,
		sourceTimeout: sourceTimeout,
		budgetBytes:   budgetBytes,
		profileCache:  gocache.New(time.Minute, 5*time.Minute),
	}
}

// InvalidateProfile drops the cached snapshot after a profile write.
func (b *ContextBuilder) InvalidateProfile(userID string) {
	b.profileCache.Delete(userID)
}

// Build assembles the bundle. All sources run concurrently; sections join in
// priority order until the byte budget is exhausted.
func (b *ContextBuilder) Build(ctx context.Context, userID string) (*models.ContextBundle, error) {
	type result struct {
		name    string
		content string
		err     error
	}

	profile := b.cachedProfile(ctx, userID)

	fetchers := map[string]func(context.Context) (string, error){
		SectionProfile: func(ctx context.Context) (string, error) {
			return renderProfile(profile), nil
		},
		SectionTasks: func(ctx context.Context) (string, error) {
			tasks, err := b.tasks.ListPending(ctx, userID, 5)
			return renderTasks(tasks), err
		},
		SectionMessages: func(ctx context.Context) (string, error) {
			messages, err := b.messages.RecentMessages(ctx, userID, 5)
			return renderMessages(messages), err
		},
		SectionMemories: func(ctx context.Context) (string, error) {
			memories, err := b.memories.TopRanked(ctx, userID, 5)
			if err == nil && len(memories) > 0 {
				ids := make([]string, len(memories))
				for i, m := range memories {
					ids[i] = m.ID
				}
				if touchErr := b.memories.Touch(ctx, ids); touchErr != nil {
					log.Printf("⚠️  [CONTEXT] Failed to touch memories: %v", touchErr)
				}
			}
			return renderMemories(memories), err
		},
		SectionPatterns: func(ctx context.Context) (string, error) {
			patterns, err := b.memories.ByCategory(ctx, userID, models.MemoryCategoryPattern, 3)
			return renderMemories(patterns), err
		},
		SectionEvents: func(ctx context.Context) (string, error) {
			events, err := b.events.Upcoming(ctx, userID, 48*time.Hour, 5)
			return renderEvents(events), err
		},
		SectionGoals: func(ctx context.Context) (string, error) {
			goals, err := b.memories.ByCategory(ctx, userID, models.MemoryCategoryGoal, 3)
			return renderMemories(goals), err
		},
		SectionFinance: func(ctx context.Context) (string, error) {
			digest, err := b.finance.Digest(ctx, userID, 30)
			return renderFinance(digest), err
		},
	}

	results := make(chan result, len(fetchers))
	for name, fetch := range fetchers {
		go func(name string, fetch func(context.Context) (string, error)) {
			srcCtx, cancel := context.WithTimeout(ctx, b.sourceTimeout)
			defer cancel()

			done := make(chan result, 1)
			go func() {
				content, err := fetch(srcCtx)
				done <- result{name: name, content: content, err: err}
			}()

			select {
			case r := <-done:
				results <- r
			case <-srcCtx.Done():
				results <- result{name: name, err: srcCtx.Err()}
			}
		}(name, fetch)
	}

	sections := map[string]string{}
	for range fetchers {
		r := <-results
		if r.err != nil {
			log.Printf("⚠️  [CONTEXT] Source %s unavailable: %v", r.name, r.err)
			continue
		}
		if strings.TrimSpace(r.content) != "" {
			sections[r.name] = r.content
		}
	}

	mode := models.ModeDefault
	if profile != nil && profile.Mode != "" {
		mode = profile.Mode
	}

	bundle := &models.ContextBundle{UserID: userID, Mode: mode}
	used := 0
	for _, name := range sectionPriority {
		content, ok := sections[name]
		if !ok {
			continue
		}
		cost := len("## ") + len(name) + len("\n\n") + len(content) + len("\n\n")
		if used+cost > b.budgetBytes {
			bundle.Dropped = append(bundle.Dropped, name)
			continue
		}
		bundle.Sections = append(bundle.Sections, models.BundleSection{Name: name, Content: content})
		used += cost
	}

	if len(bundle.Dropped) > 0 {
		log.Printf("🔍 [CONTEXT] User %s bundle dropped sections: %v", userID, bundle.Dropped)
	}
	return bundle, nil
}

func (b *ContextBuilder) cachedProfile(ctx context.Context, userID string) *models.ProfileSnapshot {
	if cached, ok := b.profileCache.Get(userID); ok {
		return cached.(*models.ProfileSnapshot)
	}
	srcCtx, cancel := context.WithTimeout(ctx, b.sourceTimeout)
	defer cancel()
	profile, err := b.profiles.Get(srcCtx, userID)
	if err != nil {
		log.Printf("⚠️  [CONTEXT] Profile unavailable: %v", err)
		return nil
	}
	if profile != nil {
		b.profileCache.Set(userID, profile, gocache.DefaultExpiration)
	}
	return profile
}

// --- Section rendering ---

func renderProfile(p *models.ProfileSnapshot) string {
	if p == nil {
		return ""
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Name: %s\nFocus area: %s\nMain goal: %s\n", p.Name, p.FocusArea, p.MainGoal)
	fmt.Fprintf(&sb, "Day: wakes %s, sleeps %s, energy peak %s\n", p.WakeTime, p.SleepTime, p.EnergyPeak)
	fmt.Fprintf(&sb, "Mode: %s, energy level %d/100", p.Mode, p.EnergyLevel)
	return sb.String()
}

func renderTasks(tasks []models.TaskItem) string {
	if len(tasks) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, t := range tasks {
		if t.DueAt != nil {
			fmt.Fprintf(&sb, "- %s (due %s)\n", t.Title, t.DueAt.Format("Mon Jan 2 15:04"))
		} else {
			fmt.Fprintf(&sb, "- %s\n", t.Title)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func renderMessages(messages []models.ConversationMessage) string {
	if len(messages) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&sb, "%s: %s\n", m.Role, m.Content)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func renderMemories(memories []models.MemoryRecord) string {
	if len(memories) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, m := range memories {
		fmt.Fprintf(&sb, "- [%s] %s\n", m.Category, m.Content)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func renderEvents(events []models.CalendarEvent) string {
	if len(events) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, e := range events {
		fmt.Fprintf(&sb, "- %s at %s\n", e.Title, e.StartsAt.Format("Mon Jan 2 15:04"))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func renderFinance(digest *models.FinanceDigest) string {
	if digest == nil || digest.EntryCount == 0 {
		return ""
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Spent %.2f over last %d days (%d entries)\n", digest.TotalSpent, digest.PeriodDays, digest.EntryCount)
	categories := make([]string, 0, len(digest.ByCategory))
	for category := range digest.ByCategory {
		categories = append(categories, category)
	}
	sort.Strings(categories)
	for _, category := range categories {
		fmt.Fprintf(&sb, "- %s: %.2f\n", category, digest.ByCategory[category])
	}
	return strings.TrimRight(sb.String(), "\n")
}
