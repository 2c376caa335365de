package models

import "time"

// UserIdentity links a stable internal id to an external channel id.
// Created on first contact; immutable afterwards.
type UserIdentity struct {
	ID        string    `json:"id"`
	ChannelID string    `json:"channel_id"` // transport-assigned chat id (Telegram chat)
	CreatedAt time.Time `json:"created_at"`
}
