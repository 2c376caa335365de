package services

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"aria/internal/database"
	"aria/internal/models"
	"aria/internal/policy"
	"aria/internal/resilience"

	"github.com/google/uuid"
)

// ReviewStore persists spaced-repetition items and applies the review policy.
type ReviewStore struct {
	db *database.DB
}

// NewReviewStore creates the review store.
func NewReviewStore(db *database.DB) *ReviewStore {
	return &ReviewStore{db: db}
}

// Grade applies a recall quality score to the user's item matching topic,
// creating the item on first review. Returns the item with its new schedule.
func (s *ReviewStore) Grade(ctx context.Context, userID, topic string, quality int) (*models.ReviewItem, *policy.ReviewOutcome, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, nil, &resilience.ValidationError{Field: "topic", Reason: "must not be empty"}
	}

	item, err := s.byTopic(ctx, userID, topic)
	if err != nil {
		return nil, nil, err
	}
	now := time.Now().UTC()
	if item == nil {
		item = &models.ReviewItem{
			ID:         uuid.NewString(),
			UserID:     userID,
			Topic:      topic,
			EaseFactor: 2.5,
			DueAt:      now,
			CreatedAt:  now,
		}
	}

	state := policy.ReviewState{
		EaseFactor:   item.EaseFactor,
		IntervalDays: item.IntervalDays,
		Repetitions:  item.Repetitions,
	}
	next, outcome := policy.Review(state, quality, now)

	item.EaseFactor = next.EaseFactor
	item.IntervalDays = next.IntervalDays
	item.Repetitions = next.Repetitions
	item.DueAt = outcome.NextDue

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO review_items (id, user_id, topic, ease_factor, interval_days, repetitions, due_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			ease_factor = excluded.ease_factor, interval_days = excluded.interval_days,
			repetitions = excluded.repetitions, due_at = excluded.due_at`,
		item.ID, item.UserID, item.Topic, item.EaseFactor, item.IntervalDays,
		item.Repetitions, item.DueAt, item.CreatedAt)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to save review item: %w", err)
	}
	return item, &outcome, nil
}

// Due returns items due for review, most overdue first.
func (s *ReviewStore) Due(ctx context.Context, userID string, limit int) ([]models.ReviewItem, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, topic, ease_factor, interval_days, repetitions, due_at, created_at
		 FROM review_items WHERE user_id = ? AND due_at <= ?
		 ORDER BY due_at ASC LIMIT ?`,
		userID, time.Now().UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due reviews: %w", err)
	}
	defer rows.Close()

	var items []models.ReviewItem
	for rows.Next() {
		var item models.ReviewItem
		if err := rows.Scan(&item.ID, &item.UserID, &item.Topic, &item.EaseFactor,
			&item.IntervalDays, &item.Repetitions, &item.DueAt, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan review item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *ReviewStore) byTopic(ctx context.Context, userID, topic string) (*models.ReviewItem, error) {
	var item models.ReviewItem
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, topic, ease_factor, interval_days, repetitions, due_at, created_at
		 FROM review_items WHERE user_id = ? AND lower(topic) = ?`,
		userID, strings.ToLower(topic)).
		Scan(&item.ID, &item.UserID, &item.Topic, &item.EaseFactor,
			&item.IntervalDays, &item.Repetitions, &item.DueAt, &item.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load review item: %w", err)
	}
	return &item, nil
}
