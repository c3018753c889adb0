package models

import "time"

// Message is one entry in a chat's append-only log. Rows are soft-deleted,
// never removed. ClientID is set only for messages ingested from an offline
// buffer and makes replays idempotent.
type Message struct {
	ID                 int        `db:"id" json:"id"`
	ChatID             int        `db:"chat_id" json:"chat_id"`
	SenderID           int        `db:"sender_id" json:"sender_id"`
	Content            string     `db:"content" json:"content"`
	ReplyToID          *int       `db:"reply_to_id" json:"reply_to_id,omitempty"`
	ClientID           *string    `db:"client_id" json:"client_id,omitempty"`
	IsDeleted          bool       `db:"is_deleted" json:"is_deleted"`
	DeletedForEveryone bool       `db:"deleted_for_everyone" json:"deleted_for_everyone"`
	IsEdited           bool       `db:"is_edited" json:"is_edited"`
	EditedAt           *time.Time `db:"edited_at" json:"edited_at,omitempty"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
}

// Reaction is one (message, user, emoji) toggle entry.
type Reaction struct {
	MessageID int       `db:"message_id" json:"message_id"`
	UserID    int       `db:"user_id" json:"user_id"`
	Emoji     string    `db:"emoji" json:"emoji"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// ChatEvent is fanned out to connected sessions and the event bus.
type ChatEvent struct {
	Type      string    `json:"type"`
	ChatID    int       `json:"chat_id,omitempty"`
	Message   *Message  `json:"message,omitempty"`
	MessageID int       `json:"message_id,omitempty"`
	Reaction  *Reaction `json:"reaction,omitempty"`
	Call      *Call     `json:"call,omitempty"`
	UserID    int       `json:"user_id,omitempty"`
}
