package models

import "time"

// Chat kinds.
const (
	ChatKindDirect = "direct"
	ChatKindGroup  = "group"
)

// Participant roles.
const (
	RoleMember = "member"
	RoleAdmin  = "admin"
)

// Chat is a conversation container, direct or group. LastMessageID is a
// weak reference: it is re-pointed when the referenced message is deleted
// for everyone.
type Chat struct {
	ID            int       `db:"id" json:"id"`
	Kind          string    `db:"kind" json:"kind"`
	LastMessageID *int      `db:"last_message_id" json:"last_message_id,omitempty"`
	Archived      bool      `db:"archived" json:"archived"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// ChatParticipant is a user's membership row in a chat, carrying the
// maintained unread counter.
type ChatParticipant struct {
	ChatID      int       `db:"chat_id" json:"chat_id"`
	UserID      int       `db:"user_id" json:"user_id"`
	Role        string    `db:"role" json:"role"`
	UnreadCount int       `db:"unread_count" json:"unread_count"`
	JoinedAt    time.Time `db:"joined_at" json:"joined_at"`
}

// ChatSummary is the API-facing view of a chat for one user.
type ChatSummary struct {
	ChatID        int       `db:"id" json:"chat_id"`
	Kind          string    `db:"kind" json:"kind"`
	LastMessageID *int      `db:"last_message_id" json:"last_message_id,omitempty"`
	Archived      bool      `db:"archived" json:"archived"`
	UnreadCount   int       `db:"unread_count" json:"unread_count"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}
