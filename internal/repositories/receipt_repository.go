package repositories

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"messaging-service/internal/models"
)

// ReceiptRepository owns per-(message, user) read markers and the
// authoritative unread recomputation used for consistency repair.
type ReceiptRepository interface {
	UnreadCountFor(ctx context.Context, chatID int, userID int) (int, error)
	RepairUnread(ctx context.Context, chatID int, userID int) (int, error)
	ListForMessage(ctx context.Context, messageID int) ([]models.ReadReceipt, error)
}

// ReceiptRepo is a sqlx implementation of ReceiptRepository.
type ReceiptRepo struct {
	db *sqlx.DB
}

// NewReceiptRepo constructs a ReceiptRepo.
func NewReceiptRepo(db *sqlx.DB) *ReceiptRepo {
	return &ReceiptRepo{db: db}
}

// applyMarkRead finds or creates a receipt. An existing receipt only ever
// advances: read_at moves to max(existing, at). Returns true when the call
// created a new receipt, i.e. produced a decrement-worthy event.
func applyMarkRead(ctx context.Context, ext sqlx.ExtContext, messageID int, userID int, at time.Time) (bool, error) {
	res, err := ext.ExecContext(ctx,
		`INSERT INTO read_receipts (message_id, user_id, read_at) VALUES ($1, $2, $3)
        ON CONFLICT (message_id, user_id) DO NOTHING`, messageID, userID, at)
	if err != nil {
		return false, err
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if inserted > 0 {
		return true, nil
	}

	// Receipt already exists: advance read_at, never regress it.
	_, err = ext.ExecContext(ctx,
		`UPDATE read_receipts SET read_at = GREATEST(read_at, $3)
        WHERE message_id=$1 AND user_id=$2`, messageID, userID, at)
	return false, err
}

// UnreadCountFor recomputes the unread count from first principles: messages
// in the chat created after the user's latest receipt (or their join time if
// none), authored by someone else and not deleted for this user.
func (r *ReceiptRepo) UnreadCountFor(ctx context.Context, chatID int, userID int) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM messages m
        WHERE m.chat_id=$1
        AND m.sender_id <> $2
        AND m.deleted_for_everyone = FALSE
        AND NOT EXISTS (SELECT 1 FROM message_hidden h WHERE h.message_id = m.id AND h.user_id = $2)
        AND m.created_at > COALESCE(
            (SELECT MAX(r.read_at) FROM read_receipts r
             JOIN messages rm ON rm.id = r.message_id
             WHERE rm.chat_id=$1 AND r.user_id=$2),
            (SELECT p.joined_at FROM chat_participants p WHERE p.chat_id=$1 AND p.user_id=$2))`,
		chatID, userID)
	return count, err
}

// RepairUnread overwrites the maintained counter with the authoritative
// recomputation and returns the repaired value.
func (r *ReceiptRepo) RepairUnread(ctx context.Context, chatID int, userID int) (int, error) {
	count, err := r.UnreadCountFor(ctx, chatID, userID)
	if err != nil {
		return 0, err
	}
	_, err = r.db.ExecContext(ctx,
		`UPDATE chat_participants SET unread_count=$3 WHERE chat_id=$1 AND user_id=$2`,
		chatID, userID, count)
	return count, err
}

// ListForMessage returns every receipt recorded against a message.
func (r *ReceiptRepo) ListForMessage(ctx context.Context, messageID int) ([]models.ReadReceipt, error) {
	var receipts []models.ReadReceipt
	err := r.db.SelectContext(ctx, &receipts,
		`SELECT message_id, user_id, read_at FROM read_receipts
        WHERE message_id=$1 ORDER BY read_at ASC`, messageID)
	return receipts, err
}
