package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"aria/internal/database"
	"aria/internal/models"
	"aria/internal/resilience"

	"github.com/google/uuid"
)

const defaultDecayFactor = 0.95

// MemoryStore persists long-term memories. Ranking happens in Go so the score
// formula lives in one place (models.MemoryRecord.RankScore).
type MemoryStore struct {
	db *database.DB
}

// NewMemoryStore creates the memory store.
func NewMemoryStore(db *database.DB) *MemoryStore {
	return &MemoryStore{db: db}
}

// Create inserts a memory. Importance clamps to 1..10; unknown categories
// fall back to "fact".
func (s *MemoryStore) Create(ctx context.Context, userID, category, content string, importance int) (*models.MemoryRecord, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, &resilience.ValidationError{Field: "content", Reason: "must not be empty"}
	}
	if importance < 1 {
		importance = 1
	}
	if importance > 10 {
		importance = 10
	}
	switch category {
	case models.MemoryCategoryPreference, models.MemoryCategoryFact,
		models.MemoryCategoryPattern, models.MemoryCategoryRelationship,
		models.MemoryCategoryGoal, models.MemoryCategoryContext,
		models.MemoryCategoryFeedback:
	default:
		category = models.MemoryCategoryFact
	}

	memory := &models.MemoryRecord{
		ID:          uuid.NewString(),
		UserID:      userID,
		Category:    category,
		Content:     content,
		Importance:  importance,
		DecayFactor: defaultDecayFactor,
		CreatedAt:   time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memories (id, user_id, category, content, importance, decay_factor, access_count, archived, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, 0, 0, ?)`,
		memory.ID, memory.UserID, memory.Category, memory.Content,
		memory.Importance, memory.DecayFactor, memory.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create memory: %w", err)
	}
	return memory, nil
}

// TopRanked returns the user's best-scoring active memories.
func (s *MemoryStore) TopRanked(ctx context.Context, userID string, limit int) ([]models.MemoryRecord, error) {
	memories, err := s.active(ctx, userID, "")
	if err != nil {
		return nil, err
	}
	return rankAndTrim(memories, limit), nil
}

// ByCategory returns the best-scoring active memories of one category.
func (s *MemoryStore) ByCategory(ctx context.Context, userID, category string, limit int) ([]models.MemoryRecord, error) {
	memories, err := s.active(ctx, userID, category)
	if err != nil {
		return nil, err
	}
	return rankAndTrim(memories, limit), nil
}

// Search returns active memories whose content matches the query substring,
// best score first.
func (s *MemoryStore) Search(ctx context.Context, userID, query string, limit int) ([]models.MemoryRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, category, content, importance, decay_factor, access_count, last_accessed_at, archived, created_at
		 FROM memories WHERE user_id = ? AND archived = 0 AND lower(content) LIKE ?`,
		userID, "%"+strings.ToLower(strings.TrimSpace(query))+"%")
	if err != nil {
		return nil, fmt.Errorf("failed to search memories: %w", err)
	}
	memories, err := scanMemories(rows)
	if err != nil {
		return nil, err
	}
	return rankAndTrim(memories, limit), nil
}

// Touch bumps access stats for memories surfaced to the model.
func (s *MemoryStore) Touch(ctx context.Context, ids []string) error {
	now := time.Now().UTC()
	for _, id := range ids {
		_, err := s.db.ExecContext(ctx,
			`UPDATE memories SET access_count = access_count + 1, last_accessed_at = ? WHERE id = ?`,
			now, id)
		if err != nil {
			return fmt.Errorf("failed to touch memory: %w", err)
		}
	}
	return nil
}

// Delete removes memories matching the hint. Deletion happens only on an
// explicit user request; decay never deletes.
func (s *MemoryStore) Delete(ctx context.Context, userID, contentHint string) (int, error) {
	contentHint = strings.TrimSpace(contentHint)
	if contentHint == "" {
		return 0, &resilience.ValidationError{Field: "memory", Reason: "nothing to forget"}
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM memories WHERE user_id = ? AND lower(content) LIKE ?`,
		userID, "%"+strings.ToLower(contentHint)+"%")
	if err != nil {
		return 0, fmt.Errorf("failed to delete memories: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// DecayPass archives memories whose rank score fell below the threshold.
// Called by the scheduler.
func (s *MemoryStore) DecayPass(ctx context.Context) (int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, category, content, importance, decay_factor, access_count, last_accessed_at, archived, created_at
		 FROM memories WHERE archived = 0`)
	if err != nil {
		return 0, fmt.Errorf("failed to scan memories for decay: %w", err)
	}
	memories, err := scanMemories(rows)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	archived := 0
	for _, m := range memories {
		if m.RankScore(now) >= models.MemoryArchiveThreshold {
			continue
		}
		if _, err := s.db.ExecContext(ctx,
			`UPDATE memories SET archived = 1 WHERE id = ?`, m.ID); err != nil {
			return archived, fmt.Errorf("failed to archive memory: %w", err)
		}
		archived++
	}
	if archived > 0 {
		log.Printf("📦 [MEMORY] Archived %d decayed memories", archived)
	}
	return archived, nil
}

func (s *MemoryStore) active(ctx context.Context, userID, category string) ([]models.MemoryRecord, error) {
	query := `SELECT id, user_id, category, content, importance, decay_factor, access_count, last_accessed_at, archived, created_at
		 FROM memories WHERE user_id = ? AND archived = 0`
	args := []interface{}{userID}
	if category != "" {
		query += ` AND category = ?`
		args = append(args, category)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load memories: %w", err)
	}
	return scanMemories(rows)
}

func scanMemories(rows *sql.Rows) ([]models.MemoryRecord, error) {
	defer rows.Close()
	var memories []models.MemoryRecord
	for rows.Next() {
		var m models.MemoryRecord
		var lastAccessed sql.NullTime
		if err := rows.Scan(&m.ID, &m.UserID, &m.Category, &m.Content, &m.Importance,
			&m.DecayFactor, &m.AccessCount, &lastAccessed, &m.Archived, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan memory: %w", err)
		}
		if lastAccessed.Valid {
			m.LastAccessedAt = &lastAccessed.Time
		}
		memories = append(memories, m)
	}
	return memories, rows.Err()
}

func rankAndTrim(memories []models.MemoryRecord, limit int) []models.MemoryRecord {
	if limit <= 0 {
		limit = 5
	}
	now := time.Now().UTC()
	sort.SliceStable(memories, func(i, j int) bool {
		return memories[i].RankScore(now) > memories[j].RankScore(now)
	})
	if len(memories) > limit {
		memories = memories[:limit]
	}
	return memories
}
