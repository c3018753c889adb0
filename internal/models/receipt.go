package models

import "time"

// ReadReceipt marks that a user has seen a message. One row per
// (message, user); ReadAt never moves backward.
type ReadReceipt struct {
	MessageID int       `db:"message_id" json:"message_id"`
	UserID    int       `db:"user_id" json:"user_id"`
	ReadAt    time.Time `db:"read_at" json:"read_at"`
}
