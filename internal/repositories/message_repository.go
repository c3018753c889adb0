package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"messaging-service/internal/apperr"
	"messaging-service/internal/models"
)

var (
	ErrMessageNotFound   = apperr.NotFound("message not found")
	ErrEditWindow        = apperr.StateViolation("edit window expired")
	ErrNotSender         = apperr.Authorization("only the sender may do this")
	ErrDuplicateClientID = apperr.StateViolation("client id already ingested")
)

// isUniqueViolation reports whether err is a Postgres unique constraint
// violation, however deeply wrapped.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

const messageColumns = `id, chat_id, sender_id, content, reply_to_id, client_id,
    is_deleted, deleted_for_everyone, is_edited, edited_at, created_at`

// MessageRepository owns the append-only message log for every chat.
type MessageRepository interface {
	Append(ctx context.Context, chatID int, senderID int, content string, replyToID *int, clientID *string) (models.Message, error)
	GetMessage(ctx context.Context, messageID int) (models.Message, error)
	GetMessageByClientID(ctx context.Context, clientID string) (models.Message, error)
	ListChatMessages(ctx context.Context, chatID int, userID int) ([]models.Message, error)
	Edit(ctx context.Context, messageID int, editorID int, newContent string, editWindow time.Duration) (models.Message, error)
	SoftDelete(ctx context.Context, messageID int, actorID int, forEveryone bool) error
	HideForUser(ctx context.Context, messageID int, userID int) error
	ToggleReaction(ctx context.Context, messageID int, userID int, emoji string) (bool, error)
	ListReactions(ctx context.Context, messageID int) ([]models.Reaction, error)
	MarkReadBatch(ctx context.Context, chatID int, readerID int, messageIDs []int, at time.Time) (int, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// Append stores a message, moves the chat's last-message pointer, bumps the
// other participants' unread counters and seeds the sender's read receipt.
// All of it happens in one transaction.
func (r *MessageRepo) Append(ctx context.Context, chatID int, senderID int, content string, replyToID *int, clientID *string) (models.Message, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Message{}, err
	}
	defer tx.Rollback()

	if replyToID != nil {
		var replyChatID int
		err := tx.GetContext(ctx, &replyChatID, `SELECT chat_id FROM messages WHERE id=$1`, *replyToID)
		if errors.Is(err, sql.ErrNoRows) {
			return models.Message{}, apperr.Validation("reply target does not exist")
		}
		if err != nil {
			return models.Message{}, err
		}
		if replyChatID != chatID {
			return models.Message{}, apperr.Validation("reply target belongs to another chat")
		}
	}

	var msg models.Message
	if err := tx.QueryRowxContext(ctx,
		`INSERT INTO messages (chat_id, sender_id, content, reply_to_id, client_id)
        VALUES ($1, $2, $3, $4, $5) RETURNING `+messageColumns,
		chatID, senderID, content, replyToID, clientID).StructScan(&msg); err != nil {
		// Two racing replays of the same offline item can both miss the
		// lookup; the loser hits the client_id unique constraint here.
		if clientID != nil && isUniqueViolation(err) {
			return models.Message{}, ErrDuplicateClientID
		}
		return models.Message{}, err
	}

	if err := applyAppendPointer(ctx, tx, chatID, msg.ID, senderID); err != nil {
		return models.Message{}, err
	}

	// The sender has trivially seen their own message.
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO read_receipts (message_id, user_id, read_at) VALUES ($1, $2, $3)`,
		msg.ID, senderID, msg.CreatedAt); err != nil {
		return models.Message{}, err
	}

	if err := tx.Commit(); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

// GetMessage retrieves a single message.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID int) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg,
		`SELECT `+messageColumns+` FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// GetMessageByClientID looks a message up by its client-generated id.
func (r *MessageRepo) GetMessageByClientID(ctx context.Context, clientID string) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg,
		`SELECT `+messageColumns+` FROM messages WHERE client_id=$1`, clientID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// ListChatMessages returns ordered chat messages filtered by the user's
// visibility: messages deleted for everyone or hidden for this user are
// omitted.
func (r *MessageRepo) ListChatMessages(ctx context.Context, chatID int, userID int) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs,
		`SELECT `+messageColumns+` FROM messages m
        WHERE m.chat_id=$1
        AND m.deleted_for_everyone = FALSE
        AND NOT EXISTS (SELECT 1 FROM message_hidden h WHERE h.message_id = m.id AND h.user_id = $2)
        ORDER BY m.created_at ASC, m.id ASC`, chatID, userID)
	return msgs, err
}

// Edit replaces the content. Only the original sender may edit, and only
// within the edit window from creation.
func (r *MessageRepo) Edit(ctx context.Context, messageID int, editorID int, newContent string, editWindow time.Duration) (models.Message, error) {
	msg, err := r.GetMessage(ctx, messageID)
	if err != nil {
		return models.Message{}, err
	}
	if msg.SenderID != editorID {
		return models.Message{}, ErrNotSender
	}
	if !editWindowOpen(msg.CreatedAt, time.Now(), editWindow) {
		return models.Message{}, ErrEditWindow
	}
	if msg.DeletedForEveryone {
		return models.Message{}, apperr.StateViolation("message is deleted")
	}

	var updated models.Message
	err = r.db.QueryRowxContext(ctx,
		`UPDATE messages SET content=$2, is_edited=TRUE, edited_at=NOW()
        WHERE id=$1 AND deleted_for_everyone = FALSE RETURNING `+messageColumns,
		messageID, newContent).StructScan(&updated)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, apperr.StateViolation("message is deleted")
	}
	return updated, err
}

// editWindowOpen reports whether a message created at createdAt may still be
// edited at now. The window boundary itself is inclusive.
func editWindowOpen(createdAt, now time.Time, window time.Duration) bool {
	return !now.After(createdAt.Add(window))
}

// SoftDelete marks the message deleted for everyone, retires the chat's
// last-message pointer when it pointed here and drops an unread unit from
// every recipient who had not read the message yet. The row is never
// removed. Authorization (sender or chat admin) is the caller's concern.
func (r *MessageRepo) SoftDelete(ctx context.Context, messageID int, actorID int, forEveryone bool) error {
	if !forEveryone {
		return r.HideForUser(ctx, messageID, actorID)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var row struct {
		ChatID   int `db:"chat_id"`
		SenderID int `db:"sender_id"`
	}
	err = tx.GetContext(ctx, &row,
		`UPDATE messages SET is_deleted=TRUE, deleted_for_everyone=TRUE
        WHERE id=$1 AND deleted_for_everyone = FALSE RETURNING chat_id, sender_id`,
		messageID)
	if errors.Is(err, sql.ErrNoRows) {
		// Already deleted: a replay must not decrement counters again.
		if _, getErr := r.GetMessage(ctx, messageID); getErr != nil {
			return getErr
		}
		return nil
	}
	if err != nil {
		return err
	}

	var participantIDs []int
	if err := tx.SelectContext(ctx, &participantIDs,
		`SELECT user_id FROM chat_participants WHERE chat_id=$1`, row.ChatID); err != nil {
		return err
	}
	var readerIDs []int
	if err := tx.SelectContext(ctx, &readerIDs,
		`SELECT user_id FROM read_receipts WHERE message_id=$1`, messageID); err != nil {
		return err
	}
	if targets := unreadDecrementTargets(participantIDs, row.SenderID, readerIDs); len(targets) > 0 {
		if _, err := tx.ExecContext(ctx,
			`UPDATE chat_participants SET unread_count = GREATEST(unread_count - 1, 0)
            WHERE chat_id=$1 AND user_id = ANY($2)`, row.ChatID, pq.Array(targets)); err != nil {
			return err
		}
	}

	if err := retirePointerIfDeleted(ctx, tx, row.ChatID, messageID); err != nil {
		return err
	}
	return tx.Commit()
}

// unreadDecrementTargets picks the participants whose unread counter still
// counts the message: everyone but the sender and anyone holding a receipt.
func unreadDecrementTargets(participantIDs []int, senderID int, readerIDs []int) []int {
	read := make(map[int]struct{}, len(readerIDs))
	for _, id := range readerIDs {
		read[id] = struct{}{}
	}
	targets := make([]int, 0, len(participantIDs))
	for _, id := range participantIDs {
		if id == senderID {
			continue
		}
		if _, ok := read[id]; ok {
			continue
		}
		targets = append(targets, id)
	}
	return targets
}

// HideForUser hides the message for one user only.
func (r *MessageRepo) HideForUser(ctx context.Context, messageID int, userID int) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO message_hidden (message_id, user_id) VALUES ($1, $2)
        ON CONFLICT (message_id, user_id) DO NOTHING`, messageID, userID)
	return err
}

// ToggleReaction adds the (message, user, emoji) reaction, or removes it if
// it already exists. Reports whether the reaction is now present.
func (r *MessageRepo) ToggleReaction(ctx context.Context, messageID int, userID int, emoji string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM message_reactions WHERE message_id=$1 AND user_id=$2 AND emoji=$3`,
		messageID, userID, emoji)
	if err != nil {
		return false, err
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if removed > 0 {
		return false, nil
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO message_reactions (message_id, user_id, emoji) VALUES ($1, $2, $3)
        ON CONFLICT (message_id, user_id, emoji) DO NOTHING`, messageID, userID, emoji)
	return true, err
}

// ListReactions returns all reactions on a message.
func (r *MessageRepo) ListReactions(ctx context.Context, messageID int) ([]models.Reaction, error) {
	var reactions []models.Reaction
	err := r.db.SelectContext(ctx, &reactions,
		`SELECT message_id, user_id, emoji, created_at FROM message_reactions
        WHERE message_id=$1 ORDER BY created_at ASC`, messageID)
	return reactions, err
}

// MarkReadBatch records read receipts for every listed message that belongs
// to the chat and is not yet marked by the reader, then applies exactly one
// clamped unread decrement per newly receipted message authored by someone
// else. Receipts and the counter change commit as one unit; replaying the
// batch with overlapping ids never double-decrements.
func (r *MessageRepo) MarkReadBatch(ctx context.Context, chatID int, readerID int, messageIDs []int, at time.Time) (int, error) {
	if len(messageIDs) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var rows []struct {
		ID       int `db:"id"`
		SenderID int `db:"sender_id"`
	}
	if err := tx.SelectContext(ctx, &rows,
		`SELECT id, sender_id FROM messages WHERE chat_id=$1 AND id = ANY($2) ORDER BY id`,
		chatID, pq.Array(messageIDs)); err != nil {
		return 0, err
	}

	decrements := 0
	for _, row := range rows {
		created, err := applyMarkRead(ctx, tx, row.ID, readerID, at)
		if err != nil {
			return 0, err
		}
		if created && row.SenderID != readerID {
			decrements++
		}
	}

	if decrements > 0 {
		if _, err := tx.ExecContext(ctx,
			`UPDATE chat_participants SET unread_count = GREATEST(unread_count - $3, 0)
            WHERE chat_id=$1 AND user_id=$2`, chatID, readerID, decrements); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return decrements, nil
}
