package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"messaging-service/internal/apperr"
	"messaging-service/internal/models"
)

var (
	ErrChatNotFound        = apperr.NotFound("chat not found")
	ErrNotParticipant      = apperr.Authorization("not a chat participant")
	ErrParticipantNotFound = apperr.NotFound("participant not found")
)

// ChatRepository owns chat membership, the last-message pointer and the
// per-participant unread counters.
type ChatRepository interface {
	CreateChat(ctx context.Context, kind string, creatorID int, participantIDs []int) (models.Chat, error)
	GetChat(ctx context.Context, chatID int) (models.Chat, error)
	GetParticipant(ctx context.Context, chatID int, userID int) (models.ChatParticipant, error)
	IsParticipant(ctx context.Context, chatID int, userID int) (bool, error)
	ParticipantIDs(ctx context.Context, chatID int) ([]int, error)
	ListChats(ctx context.Context, userID int) ([]models.ChatSummary, error)
	DecrementUnread(ctx context.Context, chatID int, userID int, n int) error
	RetirePointerIfDeleted(ctx context.Context, chatID int, deletedMessageID int) error
	SetArchived(ctx context.Context, chatID int, archived bool) error
}

// ChatRepo is a sqlx implementation of ChatRepository.
type ChatRepo struct {
	db *sqlx.DB
}

// NewChatRepo constructs a ChatRepo.
func NewChatRepo(db *sqlx.DB) *ChatRepo {
	return &ChatRepo{db: db}
}

// CreateChat creates a chat with its participant set. The creator becomes
// admin on group chats; direct chats hold exactly two participants.
func (r *ChatRepo) CreateChat(ctx context.Context, kind string, creatorID int, participantIDs []int) (models.Chat, error) {
	if kind != models.ChatKindDirect && kind != models.ChatKindGroup {
		return models.Chat{}, apperr.Validation("unknown chat kind")
	}

	members := map[int]struct{}{creatorID: {}}
	for _, id := range participantIDs {
		members[id] = struct{}{}
	}
	if kind == models.ChatKindDirect && len(members) != 2 {
		return models.Chat{}, apperr.Validation("direct chat requires exactly two participants")
	}
	if len(members) < 2 {
		return models.Chat{}, apperr.Validation("chat requires at least two participants")
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Chat{}, err
	}
	defer tx.Rollback()

	var chat models.Chat
	if err := tx.QueryRowxContext(ctx,
		`INSERT INTO chats (kind) VALUES ($1) RETURNING id, kind, last_message_id, archived, created_at`,
		kind).StructScan(&chat); err != nil {
		return models.Chat{}, err
	}

	for id := range members {
		role := models.RoleMember
		if kind == models.ChatKindGroup && id == creatorID {
			role = models.RoleAdmin
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO chat_participants (chat_id, user_id, role) VALUES ($1, $2, $3)`,
			chat.ID, id, role); err != nil {
			return models.Chat{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return models.Chat{}, err
	}
	return chat, nil
}

// GetChat fetches a chat by id.
func (r *ChatRepo) GetChat(ctx context.Context, chatID int) (models.Chat, error) {
	var chat models.Chat
	err := r.db.GetContext(ctx, &chat,
		`SELECT id, kind, last_message_id, archived, created_at FROM chats WHERE id=$1`, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Chat{}, ErrChatNotFound
	}
	return chat, err
}

// GetParticipant fetches one membership row.
func (r *ChatRepo) GetParticipant(ctx context.Context, chatID int, userID int) (models.ChatParticipant, error) {
	var p models.ChatParticipant
	err := r.db.GetContext(ctx, &p,
		`SELECT chat_id, user_id, role, unread_count, joined_at FROM chat_participants WHERE chat_id=$1 AND user_id=$2`,
		chatID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ChatParticipant{}, ErrParticipantNotFound
	}
	return p, err
}

// IsParticipant checks whether a user belongs to the chat.
func (r *ChatRepo) IsParticipant(ctx context.Context, chatID int, userID int) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS(SELECT 1 FROM chat_participants WHERE chat_id=$1 AND user_id=$2)`, chatID, userID)
	return exists, err
}

// ParticipantIDs returns all member user ids of a chat.
func (r *ChatRepo) ParticipantIDs(ctx context.Context, chatID int) ([]int, error) {
	var ids []int
	err := r.db.SelectContext(ctx, &ids,
		`SELECT user_id FROM chat_participants WHERE chat_id=$1 ORDER BY user_id`, chatID)
	return ids, err
}

// ListChats returns the user's chats with their maintained unread counters.
func (r *ChatRepo) ListChats(ctx context.Context, userID int) ([]models.ChatSummary, error) {
	var result []models.ChatSummary
	err := r.db.SelectContext(ctx, &result,
		`SELECT c.id, c.kind, c.last_message_id, c.archived, p.unread_count, c.created_at
        FROM chats c
        JOIN chat_participants p ON p.chat_id = c.id
        WHERE p.user_id=$1
        ORDER BY c.created_at DESC`, userID)
	return result, err
}

// DecrementUnread lowers the unread counter, clamped at zero. Safe under
// concurrent double delivery: the clamp is applied inside the row update.
func (r *ChatRepo) DecrementUnread(ctx context.Context, chatID int, userID int, n int) error {
	if n <= 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE chat_participants SET unread_count = GREATEST(unread_count - $3, 0)
        WHERE chat_id=$1 AND user_id=$2`, chatID, userID, n)
	return err
}

// RetirePointerIfDeleted re-points last_message_id to the most recent
// remaining non-deleted message when the deleted message was the pointer
// target, or NULL when none remain.
func (r *ChatRepo) RetirePointerIfDeleted(ctx context.Context, chatID int, deletedMessageID int) error {
	return retirePointerIfDeleted(ctx, r.db, chatID, deletedMessageID)
}

// SetArchived toggles the archive flag. No side effects on counters.
func (r *ChatRepo) SetArchived(ctx context.Context, chatID int, archived bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE chats SET archived=$2 WHERE id=$1`, chatID, archived)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrChatNotFound
	}
	return nil
}

// applyAppendPointer records a freshly inserted message against the chat:
// it moves the last-message pointer and increments every other participant's
// unread counter. Runs inside the caller's transaction so a message never
// exists without the pointer reflecting it.
func applyAppendPointer(ctx context.Context, ext sqlx.ExtContext, chatID int, messageID int, authorID int) error {
	if _, err := ext.ExecContext(ctx,
		`UPDATE chats SET last_message_id=$2 WHERE id=$1`, chatID, messageID); err != nil {
		return err
	}
	_, err := ext.ExecContext(ctx,
		`UPDATE chat_participants SET unread_count = unread_count + 1
        WHERE chat_id=$1 AND user_id <> $2`, chatID, authorID)
	return err
}

func retirePointerIfDeleted(ctx context.Context, ext sqlx.ExtContext, chatID int, deletedMessageID int) error {
	_, err := ext.ExecContext(ctx,
		`UPDATE chats SET last_message_id = (
            SELECT m.id FROM messages m
            WHERE m.chat_id=$1 AND m.deleted_for_everyone = FALSE
            ORDER BY m.created_at DESC, m.id DESC
            LIMIT 1
        ) WHERE id=$1 AND last_message_id=$2`, chatID, deletedMessageID)
	return err
}
