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

// FinanceStore logs expense lines and summarizes recent spending for the bundle.
type FinanceStore struct {
	db *database.DB
}

// NewFinanceStore creates the finance store.
func NewFinanceStore(db *database.DB) *FinanceStore {
	return &FinanceStore{db: db}
}

// LogExpense records a spend line. Amount is the positive spend value; it is
// stored negated. Retried dispatches with the same idempotency key collapse
// onto the first insert.
func (s *FinanceStore) LogExpense(ctx context.Context, userID string, amount float64, category, note, idempotencyKey string) (*models.FinanceEntry, error) {
	if amount <= 0 {
		return nil, &resilience.ValidationError{Field: "amount", Reason: "must be positive"}
	}
	category = strings.TrimSpace(strings.ToLower(category))
	if category == "" {
		category = "general"
	}

	entry := &models.FinanceEntry{
		ID:        uuid.NewString(),
		UserID:    userID,
		Amount:    -amount,
		Category:  category,
		Note:      strings.TrimSpace(note),
		CreatedAt: time.Now().UTC(),
	}

	var key interface{}
	if idempotencyKey != "" {
		key = idempotencyKey
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO finance_entries (id, user_id, amount, category, note, idempotency_key, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.UserID, entry.Amount, entry.Category, entry.Note, key, entry.CreatedAt)
	if err != nil {
		if idempotencyKey != "" && isUniqueViolation(err) {
			return s.byIdempotencyKey(ctx, idempotencyKey)
		}
		return nil, fmt.Errorf("failed to log expense: %w", err)
	}
	return entry, nil
}

func (s *FinanceStore) byIdempotencyKey(ctx context.Context, key string) (*models.FinanceEntry, error) {
	var entry models.FinanceEntry
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, amount, category, note, created_at
		 FROM finance_entries WHERE idempotency_key = ?`, key).
		Scan(&entry.ID, &entry.UserID, &entry.Amount, &entry.Category, &entry.Note, &entry.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to load entry by idempotency key: %w", err)
	}
	return &entry, nil
}

// Digest summarizes spending over the trailing period.
func (s *FinanceStore) Digest(ctx context.Context, userID string, periodDays int) (*models.FinanceDigest, error) {
	if periodDays <= 0 {
		periodDays = 30
	}
	since := time.Now().UTC().AddDate(0, 0, -periodDays)
	rows, err := s.db.QueryContext(ctx,
		`SELECT category, SUM(amount), COUNT(*) FROM finance_entries
		 WHERE user_id = ? AND created_at >= ? AND amount < 0
		 GROUP BY category`, userID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to build finance digest: %w", err)
	}
	defer rows.Close()

	digest := &models.FinanceDigest{PeriodDays: periodDays, ByCategory: map[string]float64{}}
	for rows.Next() {
		var category string
		var sum float64
		var count int
		if err := rows.Scan(&category, &sum, &count); err != nil {
			return nil, fmt.Errorf("failed to scan digest row: %w", err)
		}
		digest.ByCategory[category] = -sum
		digest.TotalSpent += -sum
		digest.EntryCount += count
	}
	return digest, rows.Err()
}
