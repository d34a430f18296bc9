package models

import "time"

// Role identifies who produced a conversation message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Message represents a single conversation turn. Timestamps carry millisecond precision.
type Message struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// PhotoSession anchors a conversation to the analysis of an uploaded image
type PhotoSession struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	ImageAnalysis string    `json:"image_analysis"`
	IsActive      bool      `json:"is_active"`
	StartTime     time.Time `json:"start_time"`
}

// EffectiveTopic tracks how often a keyword combination led to a positive turn
type EffectiveTopic struct {
	UserID        string     `json:"user_id"`
	Keywords      []string   `json:"keywords"`
	SuccessCount  int        `json:"success_count"`
	TotalCount    int        `json:"total_count"`
	SuccessRate   float64    `json:"success_rate"`
	LastSuccessAt *time.Time `json:"last_success_at,omitempty"`
}
