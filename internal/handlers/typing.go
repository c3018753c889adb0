package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"messaging-service/internal/models"
	"messaging-service/internal/repositories"
	"messaging-service/internal/typing"
	"messaging-service/internal/ws"
)

// TypingHandler exposes the in-memory typing presence tracker. Nothing
// here touches the database beyond the membership check.
type TypingHandler struct {
	chatRepo repositories.ChatRepository
	tracker  *typing.Tracker
	hub      *ws.Hub
}

// NewTypingHandler builds a TypingHandler.
func NewTypingHandler(chatRepo repositories.ChatRepository, tracker *typing.Tracker, hub *ws.Hub) *TypingHandler {
	return &TypingHandler{chatRepo: chatRepo, tracker: tracker, hub: hub}
}

// StartTyping marks the caller as typing in the chat.
func (h *TypingHandler) StartTyping(c *gin.Context) {
	h.setTyping(c, true)
}

// StopTyping clears the caller's typing state.
func (h *TypingHandler) StopTyping(c *gin.Context) {
	h.setTyping(c, false)
}

func (h *TypingHandler) setTyping(c *gin.Context, active bool) {
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

	eventType := "typing_stop"
	if active {
		h.tracker.Start(chatID, userID)
		eventType = "typing_start"
	} else {
		h.tracker.Stop(chatID, userID)
	}

	if ids, err := h.chatRepo.ParticipantIDs(c.Request.Context(), chatID); err == nil {
		others := make([]int, 0, len(ids))
		for _, id := range ids {
			if id != userID {
				others = append(others, id)
			}
		}
		h.hub.SendToUsers(others, models.ChatEvent{Type: eventType, ChatID: chatID, UserID: userID})
	}
	c.Status(http.StatusNoContent)
}

// ActiveTypers returns the chat's currently typing users.
func (h *TypingHandler) ActiveTypers(c *gin.Context) {
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

	c.JSON(http.StatusOK, gin.H{"chat_id": chatID, "typing": h.tracker.ActiveTypers(chatID)})
}
