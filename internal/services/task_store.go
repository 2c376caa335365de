package services

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"aria/internal/database"
	"aria/internal/models"
	"aria/internal/resilience"

	"github.com/google/uuid"
)

// TaskStore persists tasks and the inbox (unroutable requests parked as tasks).
type TaskStore struct {
	db *database.DB
}

// NewTaskStore creates the task store.
func NewTaskStore(db *database.DB) *TaskStore {
	return &TaskStore{db: db}
}

// Create inserts a task. A non-empty idempotencyKey makes retried dispatches
// collapse onto the first insert instead of duplicating the task.
func (s *TaskStore) Create(ctx context.Context, userID, title string, dueAt *time.Time, source, idempotencyKey string) (*models.TaskItem, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, &resilience.ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if source == "" {
		source = "chat"
	}

	task := &models.TaskItem{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		DueAt:     dueAt,
		Source:    source,
		CreatedAt: time.Now().UTC(),
	}

	var key interface{}
	if idempotencyKey != "" {
		key = idempotencyKey
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, user_id, title, due_at, source, done, completed_at, idempotency_key, created_at)
		 VALUES (?, ?, ?, ?, ?, 0, NULL, ?, ?)`,
		task.ID, task.UserID, task.Title, task.DueAt, task.Source, key, task.CreatedAt)
	if err != nil {
		if idempotencyKey != "" && isUniqueViolation(err) {
			return s.byIdempotencyKey(ctx, idempotencyKey)
		}
		return nil, fmt.Errorf("failed to create task: %w", err)
	}
	return task, nil
}

func (s *TaskStore) byIdempotencyKey(ctx context.Context, key string) (*models.TaskItem, error) {
	var task models.TaskItem
	var dueAt, completedAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, due_at, source, done, completed_at, created_at
		 FROM tasks WHERE idempotency_key = ?`, key).
		Scan(&task.ID, &task.UserID, &task.Title, &dueAt, &task.Source,
			&task.Done, &completedAt, &task.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to load task by idempotency key: %w", err)
	}
	if dueAt.Valid {
		task.DueAt = &dueAt.Time
	}
	if completedAt.Valid {
		task.CompletedAt = &completedAt.Time
	}
	return &task, nil
}

// Complete marks the user's best-matching pending task done. The match is a
// case-insensitive substring on the title; ambiguity resolves to the oldest.
func (s *TaskStore) Complete(ctx context.Context, userID, titleHint string) (*models.TaskItem, error) {
	titleHint = strings.TrimSpace(titleHint)
	var task models.TaskItem
	var dueAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, due_at, source, created_at FROM tasks
		 WHERE user_id = ? AND done = 0 AND lower(title) LIKE ?
		 ORDER BY created_at ASC LIMIT 1`,
		userID, "%"+strings.ToLower(titleHint)+"%").
		Scan(&task.ID, &task.UserID, &task.Title, &dueAt, &task.Source, &task.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, &resilience.ValidationError{Field: "task", Reason: "no matching pending task"}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to match task: %w", err)
	}
	if dueAt.Valid {
		task.DueAt = &dueAt.Time
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`UPDATE tasks SET done = 1, completed_at = ? WHERE id = ?`, now, task.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to complete task: %w", err)
	}
	task.Done = true
	task.CompletedAt = &now
	return &task, nil
}

// ListPending returns up to limit pending tasks, due-soonest first, undated last.
func (s *TaskStore) ListPending(ctx context.Context, userID string, limit int) ([]models.TaskItem, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, title, due_at, source, created_at FROM tasks
		 WHERE user_id = ? AND done = 0
		 ORDER BY due_at IS NULL, due_at ASC, created_at ASC LIMIT ?`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.TaskItem
	for rows.Next() {
		var t models.TaskItem
		var dueAt sql.NullTime
		if err := rows.Scan(&t.ID, &t.UserID, &t.Title, &dueAt, &t.Source, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		if dueAt.Valid {
			t.DueAt = &dueAt.Time
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unique")
}
