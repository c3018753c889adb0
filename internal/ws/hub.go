package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"messaging-service/internal/models"
	"messaging-service/internal/observability"
)

// Hub tracks every user's connected sessions. Delivery is fire-and-forget:
// a failed write drops the session and nothing else.
type Hub struct {
	sessions map[int]map[*websocket.Conn]ConnInfo
	mu       sync.RWMutex
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{sessions: make(map[int]map[*websocket.Conn]ConnInfo)}
}

// AddSession registers a websocket connection for a user. A user may hold
// any number of concurrent sessions (multi-device).
func (h *Hub) AddSession(userID int, conn *websocket.Conn, info ConnInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.sessions[userID]; !ok {
		h.sessions[userID] = make(map[*websocket.Conn]ConnInfo)
	}
	h.sessions[userID][conn] = info
}

// RemoveSession removes one of a user's websocket connections.
func (h *Hub) RemoveSession(userID int, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.sessions[userID]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.sessions, userID)
		}
	}
}

// SessionCount reports how many sessions a user currently holds.
func (h *Hub) SessionCount(userID int) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[userID])
}

// SendToUser delivers an event to every session of the user. Best effort:
// write failures close and drop the offending session.
func (h *Hub) SendToUser(userID int, event models.ChatEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}

	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.sessions[userID]))
	for conn := range h.sessions[userID] {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			log.WithError(err).WithField("user_id", userID).Warn("websocket write failed")
			conn.Close()
			h.RemoveSession(userID, conn)
			h.publishWSError(userID, conn, err)
		}
	}
}

// SendToUsers fans an event out to every listed user.
func (h *Hub) SendToUsers(userIDs []int, event models.ChatEvent) {
	for _, id := range userIDs {
		h.SendToUser(id, event)
	}
}

func (h *Hub) publishWSError(userID int, conn *websocket.Conn, err error) {
	info, ok := h.getConnInfo(userID, conn)
	if !ok {
		return
	}

	payload := map[string]interface{}{
		"ws": map[string]interface{}{
			"event":       "ws_error",
			"conn_id":     info.ConnID,
			"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
			"reason":      err.Error(),
		},
		"identity": map[string]interface{}{
			"user_id":   info.UserID,
			"device_id": info.DeviceID,
			"ip":        info.IP,
		},
	}

	headers := observability.BuildHeaders(info.RequestID, info.TraceID)
	_ = observability.PublishEvent(context.Background(), "ws_events.sessions", observability.EventEnvelope{
		EventType: "ws_events",
		EventName: "ws_error",
		Payload:   payload,
	}, headers)
	observability.IncWSEvent("session", "ws_error")
}

func (h *Hub) getConnInfo(userID int, conn *websocket.Conn) (ConnInfo, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if conns, ok := h.sessions[userID]; ok {
		info, exists := conns[conn]
		return info, exists
	}
	return ConnInfo{}, false
}
