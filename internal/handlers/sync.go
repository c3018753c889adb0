package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"messaging-service/internal/apperr"
	"messaging-service/internal/cache"
	"messaging-service/internal/models"
	"messaging-service/internal/repositories"
	"messaging-service/internal/typing"
)

// SyncHandler serves reconnect reconciliation and offline buffer ingest.
type SyncHandler struct {
	syncRepo repositories.SyncRepository
	chatRepo repositories.ChatRepository
	msgRepo  repositories.MessageRepository
	tracker  *typing.Tracker
	cache    *cache.Client
	messages *MessageHandler
}

// NewSyncHandler builds a SyncHandler. The message handler is reused so
// offline ingest runs the exact same append flow as a live post.
func NewSyncHandler(syncRepo repositories.SyncRepository, chatRepo repositories.ChatRepository, msgRepo repositories.MessageRepository, tracker *typing.Tracker, cacheClient *cache.Client, messages *MessageHandler) *SyncHandler {
	return &SyncHandler{
		syncRepo: syncRepo,
		chatRepo: chatRepo,
		msgRepo:  msgRepo,
		tracker:  tracker,
		cache:    cacheClient,
		messages: messages,
	}
}

// Reconcile returns everything changed since the client's checkpoint plus
// a full unread map and the live typing snapshot. SyncedAt is captured
// before the reads so the next checkpoint can only over-fetch.
func (h *SyncHandler) Reconcile(c *gin.Context) {
	userID := c.GetInt("userID")

	since, err := parseSince(c.Query("since"))
	if err != nil {
		respondError(c, err)
		return
	}
	now := time.Now().UTC()
	ctx := c.Request.Context()

	chats, err := h.syncRepo.ChatsSince(ctx, userID, since)
	if err != nil {
		respondError(c, err)
		return
	}
	messages, err := h.syncRepo.MessagesSince(ctx, userID, since)
	if err != nil {
		respondError(c, err)
		return
	}
	receipts, err := h.syncRepo.ReceiptsSince(ctx, userID, since)
	if err != nil {
		respondError(c, err)
		return
	}
	unread, err := h.syncRepo.UnreadCounts(ctx, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	h.cache.SetUnreadCounts(ctx, userID, unread)

	allChats, err := h.chatRepo.ListChats(ctx, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	chatIDs := make([]int, 0, len(allChats))
	for _, ch := range allChats {
		chatIDs = append(chatIDs, ch.ChatID)
	}

	c.JSON(http.StatusOK, models.SyncDelta{
		SyncedAt:       now,
		Chats:          chats,
		Messages:       messages,
		ReadReceipts:   receipts,
		TypingSnapshot: h.tracker.Snapshot(chatIDs),
		UnreadCounts:   unread,
	})
}

// offlineResult is the per-item outcome of an offline buffer ingest.
type offlineResult struct {
	ClientID  string `json:"client_id"`
	Status    string `json:"status"`
	MessageID int    `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// IngestOffline applies a client's offline buffer in submission order.
// Replays are resolved by client_id; one bad item never aborts the batch.
func (h *SyncHandler) IngestOffline(c *gin.Context) {
	userID := c.GetInt("userID")

	var req struct {
		Messages []models.BufferedMessage `json:"messages" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.Validation("messages list is required"))
		return
	}

	results := make([]offlineResult, 0, len(req.Messages))
	for _, buffered := range req.Messages {
		results = append(results, h.ingestOne(c, userID, buffered))
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (h *SyncHandler) ingestOne(c *gin.Context, userID int, buffered models.BufferedMessage) offlineResult {
	if buffered.ClientID == "" {
		return offlineResult{Status: "failed", Error: "client_id is required"}
	}

	existing, err := h.msgRepo.GetMessageByClientID(c.Request.Context(), buffered.ClientID)
	if err == nil {
		return offlineResult{ClientID: buffered.ClientID, Status: "duplicate", MessageID: existing.ID}
	}
	if !apperr.IsKind(err, apperr.KindNotFound) {
		return offlineResult{ClientID: buffered.ClientID, Status: "failed", Error: apperr.ClientMessage(err)}
	}

	clientID := buffered.ClientID
	msg, err := h.messages.appendMessage(c, buffered.ChatID, userID, buffered.Content, buffered.ReplyToID, &clientID)
	if errors.Is(err, repositories.ErrDuplicateClientID) {
		// A concurrent replay won the insert between our lookup and append.
		existing, lookupErr := h.msgRepo.GetMessageByClientID(c.Request.Context(), buffered.ClientID)
		if lookupErr != nil {
			return offlineResult{ClientID: buffered.ClientID, Status: "failed", Error: apperr.ClientMessage(lookupErr)}
		}
		return offlineResult{ClientID: buffered.ClientID, Status: "duplicate", MessageID: existing.ID}
	}
	if err != nil {
		return offlineResult{ClientID: buffered.ClientID, Status: "failed", Error: apperr.ClientMessage(err)}
	}
	return offlineResult{ClientID: buffered.ClientID, Status: "created", MessageID: msg.ID}
}

func parseSince(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	since, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, apperr.Validation("since must be RFC3339")
	}
	return since, nil
}
