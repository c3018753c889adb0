package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"messaging-service/internal/apperr"
	"messaging-service/internal/cache"
	"messaging-service/internal/config"
	"messaging-service/internal/models"
	"messaging-service/internal/observability"
	"messaging-service/internal/repositories"
	"messaging-service/internal/ws"
)

// MessageHandler serves the message log: append, edit, delete, react,
// batched mark-read and per-message receipts.
type MessageHandler struct {
	chatRepo    repositories.ChatRepository
	messageRepo repositories.MessageRepository
	receiptRepo repositories.ReceiptRepository
	relations   repositories.RelationsRepository
	cache       *cache.Client
	hub         *ws.Hub
	cfg         config.Config
}

// NewMessageHandler builds a MessageHandler.
func NewMessageHandler(chatRepo repositories.ChatRepository, messageRepo repositories.MessageRepository, receiptRepo repositories.ReceiptRepository, relations repositories.RelationsRepository, cacheClient *cache.Client, hub *ws.Hub, cfg config.Config) *MessageHandler {
	return &MessageHandler{
		chatRepo:    chatRepo,
		messageRepo: messageRepo,
		receiptRepo: receiptRepo,
		relations:   relations,
		cache:       cacheClient,
		hub:         hub,
		cfg:         cfg,
	}
}

// ListMessages returns the chat's log filtered by the caller's visibility.
func (h *MessageHandler) ListMessages(c *gin.Context) {
	chatID, ok := pathID(c, "chat_id")
	if !ok {
		return
	}
	userID := c.GetInt("userID")

	member, err := h.chatRepo.IsParticipant(c.Request.Context(), chatID, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	if !member {
		respondError(c, repositories.ErrNotParticipant)
		return
	}

	msgs, err := h.messageRepo.ListChatMessages(c.Request.Context(), chatID, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// PostMessage appends a message to a chat. The append, pointer move and
// unread increments commit atomically; fan-out afterwards is best effort.
func (h *MessageHandler) PostMessage(c *gin.Context) {
	chatID, ok := pathID(c, "chat_id")
	if !ok {
		return
	}
	userID := c.GetInt("userID")

	var req struct {
		Content   string `json:"content"`
		ReplyToID *int   `json:"reply_to_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.Validation("invalid request body"))
		return
	}

	msg, err := h.appendMessage(c, chatID, userID, req.Content, req.ReplyToID, nil)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// appendMessage runs the full append flow shared with offline ingest:
// validation, authorization, the atomic append and the decoupled fan-out.
func (h *MessageHandler) appendMessage(c *gin.Context, chatID, senderID int, content string, replyToID *int, clientID *string) (models.Message, error) {
	ctx := c.Request.Context()

	if strings.TrimSpace(content) == "" {
		return models.Message{}, apperr.Validation("content must not be empty")
	}
	if len(content) > h.cfg.MaxMessageLength {
		return models.Message{}, apperr.Validation("content exceeds size limit")
	}

	if _, err := h.chatRepo.GetChat(ctx, chatID); err != nil {
		return models.Message{}, err
	}
	member, err := h.chatRepo.IsParticipant(ctx, chatID, senderID)
	if err != nil {
		return models.Message{}, err
	}
	if !member {
		return models.Message{}, repositories.ErrNotParticipant
	}

	participantIDs, err := h.chatRepo.ParticipantIDs(ctx, chatID)
	if err != nil {
		return models.Message{}, err
	}
	others := make([]int, 0, len(participantIDs))
	for _, id := range participantIDs {
		if id != senderID {
			others = append(others, id)
		}
	}

	blocked, err := h.relations.AnyBlockBetween(ctx, senderID, others)
	if err != nil {
		return models.Message{}, err
	}
	if blocked {
		return models.Message{}, apperr.Authorization("blocked relationship in chat")
	}

	msg, err := h.messageRepo.Append(ctx, chatID, senderID, content, replyToID, clientID)
	if err != nil {
		return models.Message{}, err
	}

	h.cache.InvalidateUnread(ctx, others...)
	h.fanOut(c, others, models.ChatEvent{Type: "message", ChatID: chatID, Message: &msg})
	return msg, nil
}

// EditMessage rewrites content within the edit window. Sender only.
func (h *MessageHandler) EditMessage(c *gin.Context) {
	messageID, ok := pathID(c, "message_id")
	if !ok {
		return
	}
	userID := c.GetInt("userID")

	var req struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.Validation("content is required"))
		return
	}
	if len(req.Content) > h.cfg.MaxMessageLength {
		respondError(c, apperr.Validation("content exceeds size limit"))
		return
	}

	msg, err := h.messageRepo.Edit(c.Request.Context(), messageID, userID, req.Content, h.cfg.EditWindow)
	if err != nil {
		respondError(c, err)
		return
	}

	h.fanOutToChat(c, msg.ChatID, userID, models.ChatEvent{Type: "message_edited", ChatID: msg.ChatID, Message: &msg})
	c.JSON(http.StatusOK, msg)
}

// DeleteMessage soft-deletes. With for_everyone the actor must be the
// sender or a chat admin and the chat pointer is retired when needed;
// otherwise the message is only hidden for the actor.
func (h *MessageHandler) DeleteMessage(c *gin.Context) {
	messageID, ok := pathID(c, "message_id")
	if !ok {
		return
	}
	userID := c.GetInt("userID")
	forEveryone := c.Query("for_everyone") == "true"

	msg, err := h.messageRepo.GetMessage(c.Request.Context(), messageID)
	if err != nil {
		respondError(c, err)
		return
	}

	participant, err := h.chatRepo.GetParticipant(c.Request.Context(), msg.ChatID, userID)
	if err != nil {
		respondError(c, repositories.ErrNotParticipant)
		return
	}
	if forEveryone && msg.SenderID != userID && participant.Role != models.RoleAdmin {
		respondError(c, apperr.Authorization("only the sender or a chat admin may delete for everyone"))
		return
	}

	if err := h.messageRepo.SoftDelete(c.Request.Context(), messageID, userID, forEveryone); err != nil {
		respondError(c, err)
		return
	}

	if forEveryone {
		// Unread counters of unreached recipients just changed.
		if ids, err := h.chatRepo.ParticipantIDs(c.Request.Context(), msg.ChatID); err == nil {
			h.cache.InvalidateUnread(c.Request.Context(), ids...)
			others := make([]int, 0, len(ids))
			for _, id := range ids {
				if id != userID {
					others = append(others, id)
				}
			}
			h.fanOut(c, others, models.ChatEvent{Type: "message_deleted", ChatID: msg.ChatID, MessageID: messageID})
		}
	}
	c.Status(http.StatusNoContent)
}

// React toggles the caller's (message, emoji) reaction. Both directions
// succeed: the toggle is idempotent over two calls, not one.
func (h *MessageHandler) React(c *gin.Context) {
	messageID, ok := pathID(c, "message_id")
	if !ok {
		return
	}
	userID := c.GetInt("userID")

	var req struct {
		Emoji string `json:"emoji" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.Validation("emoji is required"))
		return
	}

	msg, err := h.messageRepo.GetMessage(c.Request.Context(), messageID)
	if err != nil {
		respondError(c, err)
		return
	}
	member, err := h.chatRepo.IsParticipant(c.Request.Context(), msg.ChatID, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	if !member {
		respondError(c, repositories.ErrNotParticipant)
		return
	}

	reacted, err := h.messageRepo.ToggleReaction(c.Request.Context(), messageID, userID, req.Emoji)
	if err != nil {
		respondError(c, err)
		return
	}

	h.fanOutToChat(c, msg.ChatID, userID, models.ChatEvent{
		Type:      "reaction",
		ChatID:    msg.ChatID,
		MessageID: messageID,
		Reaction:  &models.Reaction{MessageID: messageID, UserID: userID, Emoji: req.Emoji},
	})
	c.JSON(http.StatusOK, gin.H{"message_id": messageID, "emoji": req.Emoji, "reacted": reacted})
}

// MarkReadBatch records read receipts for the listed messages and applies
// the matching unread decrement as one transactional unit. Replays with
// overlapping ids are harmless.
func (h *MessageHandler) MarkReadBatch(c *gin.Context) {
	chatID, ok := pathID(c, "chat_id")
	if !ok {
		return
	}
	userID := c.GetInt("userID")

	var req struct {
		MessageIDs []int `json:"message_ids" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.Validation("message_ids is required"))
		return
	}

	member, err := h.chatRepo.IsParticipant(c.Request.Context(), chatID, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	if !member {
		respondError(c, repositories.ErrNotParticipant)
		return
	}

	decremented, err := h.messageRepo.MarkReadBatch(c.Request.Context(), chatID, userID, req.MessageIDs, time.Now())
	if err != nil {
		respondError(c, err)
		return
	}

	h.cache.InvalidateUnread(c.Request.Context(), userID)
	h.fanOutToChat(c, chatID, userID, models.ChatEvent{Type: "read", ChatID: chatID, UserID: userID})
	c.JSON(http.StatusOK, gin.H{"chat_id": chatID, "newly_read": decremented})
}

// ListReceipts returns who has read a message and when. Participants only.
func (h *MessageHandler) ListReceipts(c *gin.Context) {
	messageID, ok := pathID(c, "message_id")
	if !ok {
		return
	}
	userID := c.GetInt("userID")

	msg, err := h.messageRepo.GetMessage(c.Request.Context(), messageID)
	if err != nil {
		respondError(c, err)
		return
	}
	member, err := h.chatRepo.IsParticipant(c.Request.Context(), msg.ChatID, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	if !member {
		respondError(c, repositories.ErrNotParticipant)
		return
	}

	receipts, err := h.receiptRepo.ListForMessage(c.Request.Context(), messageID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message_id": messageID, "receipts": receipts})
}

// fanOutToChat resolves the chat's other participants and fans out.
func (h *MessageHandler) fanOutToChat(c *gin.Context, chatID, actorID int, event models.ChatEvent) {
	ids, err := h.chatRepo.ParticipantIDs(c.Request.Context(), chatID)
	if err != nil {
		return
	}
	others := make([]int, 0, len(ids))
	for _, id := range ids {
		if id != actorID {
			others = append(others, id)
		}
	}
	h.fanOut(c, others, event)
}

// fanOut performs the decoupled delivery: sessions first, then the event
// bus. Neither failure surfaces to the caller.
func (h *MessageHandler) fanOut(c *gin.Context, userIDs []int, event models.ChatEvent) {
	h.hub.SendToUsers(userIDs, event)
	_ = observability.PublishEvent(c.Request.Context(), "chat_events."+event.Type, observability.EventEnvelope{
		EventType: "chat_events",
		EventName: event.Type,
		Payload:   event,
	}, observability.BuildHeaders(requestIDFromContext(c), ""))
}
