package models

import "time"

// User holds the per-user interaction marker
type User struct {
	ID                string    `json:"id"`
	LastInteractionAt time.Time `json:"last_interaction_at"`
}

// TraumaInfo lists topics that must not be brought up with a user
type TraumaInfo struct {
	UserID      string    `json:"user_id"`
	Keywords    []string  `json:"keywords"`
	Description string    `json:"description"`
	UpdatedAt   time.Time `json:"updated_at"`
}
