package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"messaging-service/internal/mocks"
	"messaging-service/internal/models"
	"messaging-service/internal/repositories"
	"messaging-service/internal/typing"
	"messaging-service/internal/ws"
)

func setupSyncRouter(handler *SyncHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("userID", 1)
		c.Next()
	})
	r.GET("/sync", handler.Reconcile)
	r.POST("/sync/offline", handler.IngestOffline)
	return r
}

func newSyncHandler(syncRepo *mocks.SyncRepositoryMock, chatRepo *mocks.ChatRepositoryMock, messageRepo *mocks.MessageRepositoryMock, relations *mocks.RelationsRepositoryMock) *SyncHandler {
	tracker := typing.NewTracker(10*time.Second, 30*time.Second)
	messages := NewMessageHandler(chatRepo, messageRepo, new(mocks.ReceiptRepositoryMock), relations, nil, ws.NewHub(), testConfig())
	return NewSyncHandler(syncRepo, chatRepo, messageRepo, tracker, nil, messages)
}

func TestReconcileSuccess(t *testing.T) {
	syncRepo := new(mocks.SyncRepositoryMock)
	chatRepo := new(mocks.ChatRepositoryMock)
	router := setupSyncRouter(newSyncHandler(syncRepo, chatRepo, new(mocks.MessageRepositoryMock), new(mocks.RelationsRepositoryMock)))

	since, _ := time.Parse(time.RFC3339, "2024-05-01T10:00:00Z")
	syncRepo.On("ChatsSince", mock.Anything, 1, since).
		Return([]models.ChatSummary{{ChatID: 3}}, nil).Once()
	syncRepo.On("MessagesSince", mock.Anything, 1, since).
		Return([]models.Message{{ID: 7, ChatID: 3, SenderID: 2, Content: "hi"}}, nil).Once()
	syncRepo.On("ReceiptsSince", mock.Anything, 1, since).
		Return([]models.ReadReceipt{{MessageID: 7, UserID: 2}}, nil).Once()
	syncRepo.On("UnreadCounts", mock.Anything, 1).Return(map[int]int{3: 1}, nil).Once()
	chatRepo.On("ListChats", mock.Anything, 1).Return([]models.ChatSummary{{ChatID: 3}}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/sync?since=2024-05-01T10:00:00Z", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var delta models.SyncDelta
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&delta))
	assert.Len(t, delta.Messages, 1)
	assert.Equal(t, map[int]int{3: 1}, delta.UnreadCounts)
	assert.False(t, delta.SyncedAt.IsZero())
	syncRepo.AssertExpectations(t)
}

func TestReconcileBadSince(t *testing.T) {
	syncRepo := new(mocks.SyncRepositoryMock)
	router := setupSyncRouter(newSyncHandler(syncRepo, new(mocks.ChatRepositoryMock), new(mocks.MessageRepositoryMock), new(mocks.RelationsRepositoryMock)))

	req := httptest.NewRequest(http.MethodGet, "/sync?since=yesterday", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	syncRepo.AssertNotCalled(t, "ChatsSince")
}

func TestIngestOfflineCreatesAndDeduplicates(t *testing.T) {
	syncRepo := new(mocks.SyncRepositoryMock)
	chatRepo := new(mocks.ChatRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	relations := new(mocks.RelationsRepositoryMock)
	router := setupSyncRouter(newSyncHandler(syncRepo, chatRepo, messageRepo, relations))

	newID := "c-1"
	dupID := "c-2"

	messageRepo.On("GetMessageByClientID", mock.Anything, newID).
		Return(models.Message{}, repositories.ErrMessageNotFound).Once()
	chatRepo.On("GetChat", mock.Anything, 3).Return(models.Chat{ID: 3}, nil).Once()
	chatRepo.On("IsParticipant", mock.Anything, 3, 1).Return(true, nil).Once()
	chatRepo.On("ParticipantIDs", mock.Anything, 3).Return([]int{1, 2}, nil).Once()
	relations.On("AnyBlockBetween", mock.Anything, 1, []int{2}).Return(false, nil).Once()
	messageRepo.On("Append", mock.Anything, 3, 1, "queued", (*int)(nil), &newID).
		Return(models.Message{ID: 20, ChatID: 3, SenderID: 1, ClientID: &newID}, nil).Once()

	messageRepo.On("GetMessageByClientID", mock.Anything, dupID).
		Return(models.Message{ID: 15, ChatID: 3, ClientID: &dupID}, nil).Once()

	body := bytes.NewBufferString(`{"messages":[
		{"client_id":"c-1","chat_id":3,"content":"queued"},
		{"client_id":"c-2","chat_id":3,"content":"already there"}
	]}`)
	req := httptest.NewRequest(http.MethodPost, "/sync/offline", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Results []offlineResult `json:"results"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "created", resp.Results[0].Status)
	assert.Equal(t, 20, resp.Results[0].MessageID)
	assert.Equal(t, "duplicate", resp.Results[1].Status)
	assert.Equal(t, 15, resp.Results[1].MessageID)
	messageRepo.AssertExpectations(t)
}

func TestIngestOfflineBadItemDoesNotAbortBatch(t *testing.T) {
	syncRepo := new(mocks.SyncRepositoryMock)
	chatRepo := new(mocks.ChatRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	relations := new(mocks.RelationsRepositoryMock)
	router := setupSyncRouter(newSyncHandler(syncRepo, chatRepo, messageRepo, relations))

	badID := "c-bad"
	goodID := "c-good"

	// The first item targets a chat the sender is not in.
	messageRepo.On("GetMessageByClientID", mock.Anything, badID).
		Return(models.Message{}, repositories.ErrMessageNotFound).Once()
	chatRepo.On("GetChat", mock.Anything, 8).Return(models.Chat{ID: 8}, nil).Once()
	chatRepo.On("IsParticipant", mock.Anything, 8, 1).Return(false, nil).Once()

	messageRepo.On("GetMessageByClientID", mock.Anything, goodID).
		Return(models.Message{}, repositories.ErrMessageNotFound).Once()
	chatRepo.On("GetChat", mock.Anything, 3).Return(models.Chat{ID: 3}, nil).Once()
	chatRepo.On("IsParticipant", mock.Anything, 3, 1).Return(true, nil).Once()
	chatRepo.On("ParticipantIDs", mock.Anything, 3).Return([]int{1, 2}, nil).Once()
	relations.On("AnyBlockBetween", mock.Anything, 1, []int{2}).Return(false, nil).Once()
	messageRepo.On("Append", mock.Anything, 3, 1, "ok", (*int)(nil), &goodID).
		Return(models.Message{ID: 21, ChatID: 3, SenderID: 1, ClientID: &goodID}, nil).Once()

	body := bytes.NewBufferString(`{"messages":[
		{"client_id":"c-bad","chat_id":8,"content":"nope"},
		{"client_id":"c-good","chat_id":3,"content":"ok"}
	]}`)
	req := httptest.NewRequest(http.MethodPost, "/sync/offline", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Results []offlineResult `json:"results"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "failed", resp.Results[0].Status)
	assert.Equal(t, "created", resp.Results[1].Status)
}

func TestIngestOfflineReplayIsIdempotent(t *testing.T) {
	syncRepo := new(mocks.SyncRepositoryMock)
	chatRepo := new(mocks.ChatRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	router := setupSyncRouter(newSyncHandler(syncRepo, chatRepo, messageRepo, new(mocks.RelationsRepositoryMock)))

	clientID := "c-replay"
	messageRepo.On("GetMessageByClientID", mock.Anything, clientID).
		Return(models.Message{ID: 30, ChatID: 3, ClientID: &clientID}, nil).Twice()

	for i := 0; i < 2; i++ {
		body := bytes.NewBufferString(`{"messages":[{"client_id":"c-replay","chat_id":3,"content":"again"}]}`)
		req := httptest.NewRequest(http.MethodPost, "/sync/offline", body)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp struct {
			Results []offlineResult `json:"results"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		require.Len(t, resp.Results, 1)
		assert.Equal(t, "duplicate", resp.Results[0].Status)
		assert.Equal(t, 30, resp.Results[0].MessageID)
	}
	messageRepo.AssertNotCalled(t, "Append")
}

func TestIngestOfflineLosingRaceResolvesDuplicate(t *testing.T) {
	syncRepo := new(mocks.SyncRepositoryMock)
	chatRepo := new(mocks.ChatRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	relations := new(mocks.RelationsRepositoryMock)
	router := setupSyncRouter(newSyncHandler(syncRepo, chatRepo, messageRepo, relations))

	clientID := "c-raced"

	// A concurrent replay inserts the row between our lookup and append.
	messageRepo.On("GetMessageByClientID", mock.Anything, clientID).
		Return(models.Message{}, repositories.ErrMessageNotFound).Once()
	chatRepo.On("GetChat", mock.Anything, 3).Return(models.Chat{ID: 3}, nil).Once()
	chatRepo.On("IsParticipant", mock.Anything, 3, 1).Return(true, nil).Once()
	chatRepo.On("ParticipantIDs", mock.Anything, 3).Return([]int{1, 2}, nil).Once()
	relations.On("AnyBlockBetween", mock.Anything, 1, []int{2}).Return(false, nil).Once()
	messageRepo.On("Append", mock.Anything, 3, 1, "queued", (*int)(nil), &clientID).
		Return(models.Message{}, repositories.ErrDuplicateClientID).Once()
	messageRepo.On("GetMessageByClientID", mock.Anything, clientID).
		Return(models.Message{ID: 31, ChatID: 3, ClientID: &clientID}, nil).Once()

	body := bytes.NewBufferString(`{"messages":[{"client_id":"c-raced","chat_id":3,"content":"queued"}]}`)
	req := httptest.NewRequest(http.MethodPost, "/sync/offline", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Results []offlineResult `json:"results"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "duplicate", resp.Results[0].Status)
	assert.Equal(t, 31, resp.Results[0].MessageID)
	messageRepo.AssertExpectations(t)
}
