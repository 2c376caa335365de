package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"aria/internal/database"
	"aria/internal/models"
	"aria/internal/resilience"
)

// ProfileStore persists per-user profile snapshots: onboarding answers,
// operating mode, coach attributes, and the latest energy check-in.
type ProfileStore struct {
	db *database.DB
}

// NewProfileStore creates the profile store.
func NewProfileStore(db *database.DB) *ProfileStore {
	return &ProfileStore{db: db}
}

// Get loads the profile; a missing row returns (nil, nil) meaning the user
// has not completed onboarding.
func (s *ProfileStore) Get(ctx context.Context, userID string) (*models.ProfileSnapshot, error) {
	var p models.ProfileSnapshot
	var attributes string
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, name, focus_area, wake_time, sleep_time, energy_peak, main_goal,
			checkin_time, mode, attributes, energy_level, updated_at
		 FROM profiles WHERE user_id = ?`, userID).
		Scan(&p.UserID, &p.Name, &p.FocusArea, &p.WakeTime, &p.SleepTime, &p.EnergyPeak,
			&p.MainGoal, &p.CheckinTime, &p.Mode, &attributes, &p.EnergyLevel, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}
	if err := json.Unmarshal([]byte(attributes), &p.Attributes); err != nil {
		return nil, fmt.Errorf("failed to decode profile attributes: %w", err)
	}
	return &p, nil
}

// ApplyOnboarding writes a completed onboarding answer set as the profile.
// New profiles start in default mode with neutral attribute scores.
func (s *ProfileStore) ApplyOnboarding(ctx context.Context, userID string, fields []models.FlowField) (*models.ProfileSnapshot, error) {
	p := &models.ProfileSnapshot{
		UserID: userID,
		Mode:   models.ModeDefault,
		Attributes: map[string]int{
			"mind": 50, "body": 50, "energy": 50,
			"social": 50, "finance": 50, "discipline": 50,
		},
		UpdatedAt: time.Now().UTC(),
	}
	for _, f := range fields {
		switch f.Key {
		case "name":
			p.Name = f.Value
		case "focus_area":
			p.FocusArea = f.Value
		case "wake_time":
			p.WakeTime = f.Value
		case "sleep_time":
			p.SleepTime = f.Value
		case "energy_peak":
			p.EnergyPeak = f.Value
		case "main_goal":
			p.MainGoal = f.Value
		case "checkin_time":
			p.CheckinTime = f.Value
		}
	}
	if err := s.upsert(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// UpdateField sets one editable profile field by key.
func (s *ProfileStore) UpdateField(ctx context.Context, userID, key, value string) error {
	column := ""
	for _, k := range models.ProfileFieldKeys {
		if k == key {
			column = k
			break
		}
	}
	if column == "" {
		return &resilience.ValidationError{Field: key, Reason: "not an editable profile field"}
	}

	// column comes from the fixed ProfileFieldKeys list, never user input.
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE profiles SET %s = ?, updated_at = ? WHERE user_id = ?`, column),
		value, time.Now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("failed to update profile field: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &resilience.ValidationError{Field: key, Reason: "no profile to update"}
	}
	return nil
}

// SetMode switches the operating mode.
func (s *ProfileStore) SetMode(ctx context.Context, userID, mode string) error {
	switch mode {
	case models.ModeDefault, models.ModeFocus, models.ModeRecovery:
	default:
		return &resilience.ValidationError{Field: "mode", Reason: "must be default, focus, or recovery"}
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE profiles SET mode = ?, updated_at = ? WHERE user_id = ?`,
		mode, time.Now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("failed to set mode: %w", err)
	}
	return nil
}

// RecordEnergy stores the latest check-in value and nudges the energy
// attribute toward it.
func (s *ProfileStore) RecordEnergy(ctx context.Context, userID string, level int) error {
	if level < 0 || level > 100 {
		return &resilience.ValidationError{Field: "energy", Reason: "must be between 0 and 100"}
	}
	p, err := s.Get(ctx, userID)
	if err != nil {
		return err
	}
	if p == nil {
		return &resilience.ValidationError{Field: "energy", Reason: "no profile to update"}
	}
	p.EnergyLevel = level
	if p.Attributes == nil {
		p.Attributes = map[string]int{}
	}
	// Exponential move toward the reported level keeps the score stable.
	p.Attributes["energy"] = (p.Attributes["energy"]*3 + level) / 4
	p.UpdatedAt = time.Now().UTC()
	return s.upsert(ctx, p)
}

func (s *ProfileStore) upsert(ctx context.Context, p *models.ProfileSnapshot) error {
	attributes, err := json.Marshal(p.Attributes)
	if err != nil {
		return fmt.Errorf("failed to encode attributes: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO profiles (user_id, name, focus_area, wake_time, sleep_time, energy_peak,
			main_goal, checkin_time, mode, attributes, energy_level, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
			name = excluded.name, focus_area = excluded.focus_area,
			wake_time = excluded.wake_time, sleep_time = excluded.sleep_time,
			energy_peak = excluded.energy_peak, main_goal = excluded.main_goal,
			checkin_time = excluded.checkin_time, mode = excluded.mode,
			attributes = excluded.attributes, energy_level = excluded.energy_level,
			updated_at = excluded.updated_at`,
		p.UserID, p.Name, p.FocusArea, p.WakeTime, p.SleepTime, p.EnergyPeak,
		p.MainGoal, p.CheckinTime, p.Mode, string(attributes), p.EnergyLevel, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	return nil
}
