package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"messaging-service/internal/apperr"
	"messaging-service/internal/cache"
	"messaging-service/internal/observability"
	"messaging-service/internal/repositories"
)

// ChatHandler serves chat creation, listing, detail and archive toggles.
type ChatHandler struct {
	chatRepo    repositories.ChatRepository
	receiptRepo repositories.ReceiptRepository
	relations   repositories.RelationsRepository
	cache       *cache.Client
}

// NewChatHandler builds a ChatHandler.
func NewChatHandler(chatRepo repositories.ChatRepository, receiptRepo repositories.ReceiptRepository, relations repositories.RelationsRepository, cacheClient *cache.Client) *ChatHandler {
	return &ChatHandler{chatRepo: chatRepo, receiptRepo: receiptRepo, relations: relations, cache: cacheClient}
}

// CreateChat creates a direct or group chat with the caller as a member.
// A blocked relationship between the caller and any invitee rejects the
// whole creation.
func (h *ChatHandler) CreateChat(c *gin.Context) {
	userID := c.GetInt("userID")

	var req struct {
		Kind           string `json:"kind" binding:"required"`
		ParticipantIDs []int  `json:"participant_ids" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.Validation("kind and participant_ids are required"))
		return
	}

	blocked, err := h.relations.AnyBlockBetween(c.Request.Context(), userID, req.ParticipantIDs)
	if err != nil {
		respondError(c, err)
		return
	}
	if blocked {
		respondError(c, apperr.Authorization("blocked relationship among participants"))
		return
	}

	chat, err := h.chatRepo.CreateChat(c.Request.Context(), req.Kind, userID, req.ParticipantIDs)
	if err != nil {
		respondError(c, err)
		return
	}
	participantIDs, err := h.chatRepo.ParticipantIDs(c.Request.Context(), chat.ID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"chat": chat, "participants": participantIDs})
}

// ListChats returns the caller's chats with unread counts. Counts come from
// the redis cache when warm; the store stays the source of truth.
func (h *ChatHandler) ListChats(c *gin.Context) {
	userID := c.GetInt("userID")

	chats, err := h.chatRepo.ListChats(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	if cached, ok := h.cache.GetUnreadCounts(c.Request.Context(), userID); ok {
		observability.IncUnreadCache("hit")
		for i := range chats {
			if count, ok := cached[chats[i].ChatID]; ok {
				chats[i].UnreadCount = count
			}
		}
	} else {
		observability.IncUnreadCache("miss")
		counts := make(map[int]int, len(chats))
		for _, chat := range chats {
			counts[chat.ChatID] = chat.UnreadCount
		}
		h.cache.SetUnreadCounts(c.Request.Context(), userID, counts)
	}

	c.JSON(http.StatusOK, gin.H{"chats": chats})
}

// GetChat returns one chat with its participant rows.
func (h *ChatHandler) GetChat(c *gin.Context) {
	chatID, ok := pathID(c, "chat_id")
	if !ok {
		return
	}
	userID := c.GetInt("userID")

	if _, err := h.chatRepo.GetParticipant(c.Request.Context(), chatID, userID); err != nil {
		// Non-members cannot tell whether the chat exists.
		respondError(c, repositories.ErrChatNotFound)
		return
	}

	chat, err := h.chatRepo.GetChat(c.Request.Context(), chatID)
	if err != nil {
		respondError(c, err)
		return
	}
	participantIDs, err := h.chatRepo.ParticipantIDs(c.Request.Context(), chatID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"chat": chat, "participants": participantIDs})
}

// Archive flags the chat archived. A pure toggle: counters are untouched.
func (h *ChatHandler) Archive(c *gin.Context) {
	h.setArchived(c, true)
}

// Unarchive clears the archive flag.
func (h *ChatHandler) Unarchive(c *gin.Context) {
	h.setArchived(c, false)
}

func (h *ChatHandler) setArchived(c *gin.Context, archived bool) {
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

	if err := h.chatRepo.SetArchived(c.Request.Context(), chatID, archived); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// RepairUnread recomputes one unread counter from first principles and
// overwrites the maintained value. Operational repair endpoint.
func (h *ChatHandler) RepairUnread(c *gin.Context) {
	chatID, ok := pathID(c, "chat_id")
	if !ok {
		return
	}
	userID := c.GetInt("userID")

	if _, err := h.chatRepo.GetParticipant(c.Request.Context(), chatID, userID); err != nil {
		respondError(c, err)
		return
	}

	count, err := h.receiptRepo.RepairUnread(c.Request.Context(), chatID, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	h.cache.InvalidateUnread(c.Request.Context(), userID)

	c.JSON(http.StatusOK, gin.H{"chat_id": chatID, "unread_count": count})
}
