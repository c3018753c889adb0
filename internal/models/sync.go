package models

import "time"

// SyncDelta is everything a reconnecting client needs since its checkpoint.
// UnreadCounts is always the full current map, not a delta.
type SyncDelta struct {
	SyncedAt       time.Time         `json:"synced_at"`
	Chats          []ChatSummary     `json:"chats"`
	Messages       []Message         `json:"messages"`
	ReadReceipts   []ReadReceipt     `json:"read_receipts"`
	TypingSnapshot []TypingIndicator `json:"typing_snapshot"`
	UnreadCounts   map[int]int       `json:"unread_counts"`
}

// BufferedMessage is one message a client queued while offline. ClientID is
// client-generated and makes replays idempotent.
type BufferedMessage struct {
	ClientID  string `json:"client_id" binding:"required"`
	ChatID    int    `json:"chat_id" binding:"required"`
	Content   string `json:"content"`
	ReplyToID *int   `json:"reply_to_id,omitempty"`
}
