package repositories

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"messaging-service/internal/models"
)

// SyncRepository computes the per-user deltas a reconnecting client needs.
type SyncRepository interface {
	ChatsSince(ctx context.Context, userID int, since time.Time) ([]models.ChatSummary, error)
	MessagesSince(ctx context.Context, userID int, since time.Time) ([]models.Message, error)
	ReceiptsSince(ctx context.Context, userID int, since time.Time) ([]models.ReadReceipt, error)
	UnreadCounts(ctx context.Context, userID int) (map[int]int, error)
}

// SyncRepo is a sqlx implementation of SyncRepository.
type SyncRepo struct {
	db *sqlx.DB
}

// NewSyncRepo constructs a SyncRepo.
func NewSyncRepo(db *sqlx.DB) *SyncRepo {
	return &SyncRepo{db: db}
}

// ChatsSince returns the user's chats created after the checkpoint.
func (r *SyncRepo) ChatsSince(ctx context.Context, userID int, since time.Time) ([]models.ChatSummary, error) {
	var chats []models.ChatSummary
	err := r.db.SelectContext(ctx, &chats,
		`SELECT c.id, c.kind, c.last_message_id, c.archived, p.unread_count, c.created_at
        FROM chats c
        JOIN chat_participants p ON p.chat_id = c.id
        WHERE p.user_id=$1 AND c.created_at > $2
        ORDER BY c.created_at ASC`, userID, since)
	return chats, err
}

// MessagesSince returns messages in the user's chats created or edited
// after the checkpoint, filtered by the user's visibility.
func (r *SyncRepo) MessagesSince(ctx context.Context, userID int, since time.Time) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs,
		`SELECT m.id, m.chat_id, m.sender_id, m.content, m.reply_to_id, m.client_id,
            m.is_deleted, m.deleted_for_everyone, m.is_edited, m.edited_at, m.created_at
        FROM messages m
        JOIN chat_participants p ON p.chat_id = m.chat_id AND p.user_id=$1
        WHERE (m.created_at > $2 OR m.edited_at > $2)
        AND m.deleted_for_everyone = FALSE
        AND NOT EXISTS (SELECT 1 FROM message_hidden h WHERE h.message_id = m.id AND h.user_id=$1)
        ORDER BY m.created_at ASC, m.id ASC`, userID, since)
	return msgs, err
}

// ReceiptsSince returns receipts recorded after the checkpoint on messages
// in the user's chats.
func (r *SyncRepo) ReceiptsSince(ctx context.Context, userID int, since time.Time) ([]models.ReadReceipt, error) {
	var receipts []models.ReadReceipt
	err := r.db.SelectContext(ctx, &receipts,
		`SELECT rr.message_id, rr.user_id, rr.read_at
        FROM read_receipts rr
        JOIN messages m ON m.id = rr.message_id
        JOIN chat_participants p ON p.chat_id = m.chat_id AND p.user_id=$1
        WHERE rr.read_at > $2
        ORDER BY rr.read_at ASC`, userID, since)
	return receipts, err
}

// UnreadCounts returns the full current unread-count map for the user,
// never a delta.
func (r *SyncRepo) UnreadCounts(ctx context.Context, userID int) (map[int]int, error) {
	var rows []struct {
		ChatID      int `db:"chat_id"`
		UnreadCount int `db:"unread_count"`
	}
	if err := r.db.SelectContext(ctx, &rows,
		`SELECT chat_id, unread_count FROM chat_participants WHERE user_id=$1`, userID); err != nil {
		return nil, err
	}
	counts := make(map[int]int, len(rows))
	for _, row := range rows {
		counts[row.ChatID] = row.UnreadCount
	}
	return counts, nil
}
