package models

import "time"

// TypingIndicator is the API view of ephemeral typing state. It is never
// persisted; the tracker owns liveness.
type TypingIndicator struct {
	ChatID        int       `json:"chat_id"`
	UserID        int       `json:"user_id"`
	IsActive      bool      `json:"is_active"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
}
