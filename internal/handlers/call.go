package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"messaging-service/internal/apperr"
	"messaging-service/internal/config"
	"messaging-service/internal/models"
	"messaging-service/internal/repositories"
	"messaging-service/internal/telemetry"
	"messaging-service/internal/ws"
)

// CallHandler drives the call state machine over HTTP. Every transition
// lives in the repository; the handler resolves participants, fans out
// and audits terminal outcomes.
type CallHandler struct {
	callRepo  repositories.CallRepository
	chatRepo  repositories.ChatRepository
	relations repositories.RelationsRepository
	hub       *ws.Hub
	emitter   *telemetry.AuditEmitter
	cfg       config.Config
}

// NewCallHandler builds a CallHandler. emitter may be nil.
func NewCallHandler(callRepo repositories.CallRepository, chatRepo repositories.ChatRepository, relations repositories.RelationsRepository, hub *ws.Hub, emitter *telemetry.AuditEmitter, cfg config.Config) *CallHandler {
	return &CallHandler{
		callRepo:  callRepo,
		chatRepo:  chatRepo,
		relations: relations,
		hub:       hub,
		emitter:   emitter,
		cfg:       cfg,
	}
}

// Start creates a call in ringing state. The callee set comes either from
// a chat's membership or an explicit participant list, never both.
func (h *CallHandler) Start(c *gin.Context) {
	userID := c.GetInt("userID")

	var req struct {
		ChatID         *int   `json:"chat_id"`
		ParticipantIDs []int  `json:"participant_ids"`
		Kind           string `json:"kind"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.Validation("invalid request body"))
		return
	}
	if req.ChatID != nil && len(req.ParticipantIDs) > 0 {
		respondError(c, apperr.Validation("provide chat_id or participant_ids, not both"))
		return
	}

	callees := req.ParticipantIDs
	if req.ChatID != nil {
		member, err := h.chatRepo.IsParticipant(c.Request.Context(), *req.ChatID, userID)
		if err != nil {
			respondError(c, err)
			return
		}
		if !member {
			respondError(c, repositories.ErrNotParticipant)
			return
		}
		ids, err := h.chatRepo.ParticipantIDs(c.Request.Context(), *req.ChatID)
		if err != nil {
			respondError(c, err)
			return
		}
		callees = callees[:0]
		for _, id := range ids {
			if id != userID {
				callees = append(callees, id)
			}
		}
	}

	blocked, err := h.relations.AnyBlockBetween(c.Request.Context(), userID, callees)
	if err != nil {
		respondError(c, err)
		return
	}
	if blocked {
		respondError(c, apperr.Authorization("blocked relationship between call parties"))
		return
	}

	call, err := h.callRepo.Start(c.Request.Context(), userID, req.ChatID, callees, req.Kind, h.cfg.RingTimeout, h.cfg.GroupCallCap)
	if err != nil {
		respondError(c, err)
		return
	}

	h.hub.SendToUsers(callees, models.ChatEvent{Type: "call_ringing", Call: &call})
	c.JSON(http.StatusCreated, call)
}

// Get returns the call with its participant states. Participants only.
func (h *CallHandler) Get(c *gin.Context) {
	callID, ok := pathID(c, "call_id")
	if !ok {
		return
	}
	userID := c.GetInt("userID")

	call, err := h.callRepo.Get(c.Request.Context(), callID)
	if err != nil {
		respondError(c, err)
		return
	}
	participants, err := h.callRepo.Participants(c.Request.Context(), callID)
	if err != nil {
		respondError(c, err)
		return
	}
	if !containsParticipant(participants, userID) {
		respondError(c, repositories.ErrNotCallParticipant)
		return
	}
	c.JSON(http.StatusOK, gin.H{"call": call, "participants": participants})
}

// Accept answers a ringing call. The first acceptor flips it to ongoing;
// later acceptors of a group call join the ongoing call instead.
func (h *CallHandler) Accept(c *gin.Context) {
	h.transition(c, "call_accepted", func(ctx *gin.Context, callID, userID int) (models.Call, error) {
		return h.callRepo.Accept(ctx.Request.Context(), callID, userID, time.Now())
	})
}

// Reject declines the call. The caller rejecting cancels; the last callee
// declining marks the call missed.
func (h *CallHandler) Reject(c *gin.Context) {
	h.transition(c, "call_rejected", func(ctx *gin.Context, callID, userID int) (models.Call, error) {
		return h.callRepo.Reject(ctx.Request.Context(), callID, userID, time.Now())
	})
}

// End terminates the call: a ringing call ends missed, an ongoing one
// completed with its clamped duration.
func (h *CallHandler) End(c *gin.Context) {
	var req struct {
		DurationSeconds *int `json:"duration_seconds"`
	}
	// body is optional
	_ = c.ShouldBindJSON(&req)

	h.transition(c, "call_ended", func(ctx *gin.Context, callID, userID int) (models.Call, error) {
		return h.callRepo.End(ctx.Request.Context(), callID, userID, req.DurationSeconds, h.cfg.MaxCallDuration, time.Now())
	})
}

// Join adds an invited participant to an ongoing group call.
func (h *CallHandler) Join(c *gin.Context) {
	h.transition(c, "call_joined", func(ctx *gin.Context, callID, userID int) (models.Call, error) {
		return h.callRepo.Join(ctx.Request.Context(), callID, userID, time.Now())
	})
}

// Leave removes a joined participant. The last one out completes the call.
func (h *CallHandler) Leave(c *gin.Context) {
	h.transition(c, "call_left", func(ctx *gin.Context, callID, userID int) (models.Call, error) {
		return h.callRepo.Leave(ctx.Request.Context(), callID, userID, h.cfg.MaxCallDuration, time.Now())
	})
}

func (h *CallHandler) transition(c *gin.Context, eventType string, apply func(*gin.Context, int, int) (models.Call, error)) {
	callID, ok := pathID(c, "call_id")
	if !ok {
		return
	}
	userID := c.GetInt("userID")

	call, err := apply(c, callID, userID)
	if err != nil {
		respondError(c, err)
		return
	}

	h.notify(c, call, userID, eventType)
	c.JSON(http.StatusOK, call)
}

// notify fans the transition out to the other participants and audits
// terminal outcomes.
func (h *CallHandler) notify(c *gin.Context, call models.Call, actorID int, eventType string) {
	participants, err := h.callRepo.Participants(c.Request.Context(), call.ID)
	if err != nil {
		return
	}
	others := make([]int, 0, len(participants))
	for _, p := range participants {
		if p.UserID != actorID {
			others = append(others, p.UserID)
		}
	}
	h.hub.SendToUsers(others, models.ChatEvent{Type: eventType, Call: &call})

	if call.IsTerminal() && h.emitter != nil {
		h.emitter.Emit(c.Request.Context(), "INFO", "call "+call.Status, requestIDFromContext(c), userIDFromContext(c))
	}
}

func containsParticipant(participants []models.CallParticipant, userID int) bool {
	for _, p := range participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}
