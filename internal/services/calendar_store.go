package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"aria/internal/database"
	"aria/internal/models"
	"aria/internal/resilience"

	"github.com/google/uuid"
)

// CalendarStore keeps a local cache of upcoming events.
type CalendarStore struct {
	db *database.DB
}

// NewCalendarStore creates the calendar store.
func NewCalendarStore(db *database.DB) *CalendarStore {
	return &CalendarStore{db: db}
}

// Schedule inserts an event. Zero endsAt defaults to one hour after start.
func (s *CalendarStore) Schedule(ctx context.Context, userID, title string, startsAt, endsAt time.Time) (*models.CalendarEvent, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, &resilience.ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if startsAt.IsZero() {
		return nil, &resilience.ValidationError{Field: "starts_at", Reason: "must be set"}
	}
	if endsAt.IsZero() {
		endsAt = startsAt.Add(time.Hour)
	}
	if !endsAt.After(startsAt) {
		return nil, &resilience.ValidationError{Field: "ends_at", Reason: "must be after start"}
	}

	event := &models.CalendarEvent{
		ID:       uuid.NewString(),
		UserID:   userID,
		Title:    title,
		StartsAt: startsAt.UTC(),
		EndsAt:   endsAt.UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO calendar_events (id, user_id, title, starts_at, ends_at) VALUES (?, ?, ?, ?, ?)`,
		event.ID, event.UserID, event.Title, event.StartsAt, event.EndsAt)
	if err != nil {
		return nil, fmt.Errorf("failed to schedule event: %w", err)
	}
	return event, nil
}

// Upcoming returns events starting within the window, soonest first.
func (s *CalendarStore) Upcoming(ctx context.Context, userID string, window time.Duration, limit int) ([]models.CalendarEvent, error) {
	if limit <= 0 {
		limit = 5
	}
	now := time.Now().UTC()
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, title, starts_at, ends_at FROM calendar_events
		 WHERE user_id = ? AND starts_at >= ? AND starts_at < ?
		 ORDER BY starts_at ASC LIMIT ?`,
		userID, now, now.Add(window), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list upcoming events: %w", err)
	}
	defer rows.Close()

	var events []models.CalendarEvent
	for rows.Next() {
		var e models.CalendarEvent
		if err := rows.Scan(&e.ID, &e.UserID, &e.Title, &e.StartsAt, &e.EndsAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
