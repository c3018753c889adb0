package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"messaging-service/internal/config"
	"messaging-service/internal/mocks"
	"messaging-service/internal/models"
	"messaging-service/internal/repositories"
	"messaging-service/internal/ws"
)

func testConfig() config.Config {
	return config.Load()
}

func setupMessageRouter(handler *MessageHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("userID", 1)
		c.Next()
	})
	r.GET("/chats/:chat_id/messages", handler.ListMessages)
	r.POST("/chats/:chat_id/messages", handler.PostMessage)
	r.POST("/chats/:chat_id/read", handler.MarkReadBatch)
	r.PATCH("/messages/:message_id", handler.EditMessage)
	r.DELETE("/messages/:message_id", handler.DeleteMessage)
	r.POST("/messages/:message_id/react", handler.React)
	r.GET("/messages/:message_id/receipts", handler.ListReceipts)
	return r
}

func newMessageHandler(chatRepo *mocks.ChatRepositoryMock, messageRepo *mocks.MessageRepositoryMock, relations *mocks.RelationsRepositoryMock) *MessageHandler {
	return NewMessageHandler(chatRepo, messageRepo, new(mocks.ReceiptRepositoryMock), relations, nil, ws.NewHub(), testConfig())
}

func TestPostMessageSuccess(t *testing.T) {
	chatRepo := new(mocks.ChatRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	relations := new(mocks.RelationsRepositoryMock)
	router := setupMessageRouter(newMessageHandler(chatRepo, messageRepo, relations))

	chatRepo.On("GetChat", mock.Anything, 5).Return(models.Chat{ID: 5, Kind: models.ChatKindDirect}, nil).Once()
	chatRepo.On("IsParticipant", mock.Anything, 5, 1).Return(true, nil).Once()
	chatRepo.On("ParticipantIDs", mock.Anything, 5).Return([]int{1, 2}, nil).Once()
	relations.On("AnyBlockBetween", mock.Anything, 1, []int{2}).Return(false, nil).Once()
	messageRepo.On("Append", mock.Anything, 5, 1, "hello", (*int)(nil), (*string)(nil)).
		Return(models.Message{ID: 10, ChatID: 5, SenderID: 1, Content: "hello"}, nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/chats/5/messages", bytes.NewBufferString(`{"content":"hello"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var msg models.Message
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&msg))
	assert.Equal(t, 10, msg.ID)
	chatRepo.AssertExpectations(t)
	messageRepo.AssertExpectations(t)
	relations.AssertExpectations(t)
}

func TestPostMessageEmptyContent(t *testing.T) {
	messageRepo := new(mocks.MessageRepositoryMock)
	router := setupMessageRouter(newMessageHandler(new(mocks.ChatRepositoryMock), messageRepo, new(mocks.RelationsRepositoryMock)))

	req := httptest.NewRequest(http.MethodPost, "/chats/5/messages", bytes.NewBufferString(`{"content":"   "}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	messageRepo.AssertNotCalled(t, "Append")
}

func TestPostMessageNonParticipant(t *testing.T) {
	chatRepo := new(mocks.ChatRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	router := setupMessageRouter(newMessageHandler(chatRepo, messageRepo, new(mocks.RelationsRepositoryMock)))

	chatRepo.On("GetChat", mock.Anything, 5).Return(models.Chat{ID: 5}, nil).Once()
	chatRepo.On("IsParticipant", mock.Anything, 5, 1).Return(false, nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/chats/5/messages", bytes.NewBufferString(`{"content":"hi"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	messageRepo.AssertNotCalled(t, "Append")
}

func TestPostMessageBlockedPair(t *testing.T) {
	chatRepo := new(mocks.ChatRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	relations := new(mocks.RelationsRepositoryMock)
	router := setupMessageRouter(newMessageHandler(chatRepo, messageRepo, relations))

	chatRepo.On("GetChat", mock.Anything, 5).Return(models.Chat{ID: 5}, nil).Once()
	chatRepo.On("IsParticipant", mock.Anything, 5, 1).Return(true, nil).Once()
	chatRepo.On("ParticipantIDs", mock.Anything, 5).Return([]int{1, 2}, nil).Once()
	relations.On("AnyBlockBetween", mock.Anything, 1, []int{2}).Return(true, nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/chats/5/messages", bytes.NewBufferString(`{"content":"hi"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	messageRepo.AssertNotCalled(t, "Append")
}

func TestEditMessageWindowExpired(t *testing.T) {
	messageRepo := new(mocks.MessageRepositoryMock)
	router := setupMessageRouter(newMessageHandler(new(mocks.ChatRepositoryMock), messageRepo, new(mocks.RelationsRepositoryMock)))

	messageRepo.On("Edit", mock.Anything, 10, 1, "later", mock.Anything).
		Return(models.Message{}, repositories.ErrEditWindow).Once()

	req := httptest.NewRequest(http.MethodPatch, "/messages/10", bytes.NewBufferString(`{"content":"later"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusConflict, rec.Code)
	messageRepo.AssertExpectations(t)
}

func TestEditMessageNotSender(t *testing.T) {
	messageRepo := new(mocks.MessageRepositoryMock)
	router := setupMessageRouter(newMessageHandler(new(mocks.ChatRepositoryMock), messageRepo, new(mocks.RelationsRepositoryMock)))

	messageRepo.On("Edit", mock.Anything, 10, 1, "x", mock.Anything).
		Return(models.Message{}, repositories.ErrNotSender).Once()

	req := httptest.NewRequest(http.MethodPatch, "/messages/10", bytes.NewBufferString(`{"content":"x"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestDeleteForEveryoneRequiresSenderOrAdmin(t *testing.T) {
	chatRepo := new(mocks.ChatRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	router := setupMessageRouter(newMessageHandler(chatRepo, messageRepo, new(mocks.RelationsRepositoryMock)))

	messageRepo.On("GetMessage", mock.Anything, 10).Return(models.Message{ID: 10, ChatID: 5, SenderID: 2}, nil).Once()
	chatRepo.On("GetParticipant", mock.Anything, 5, 1).
		Return(models.ChatParticipant{ChatID: 5, UserID: 1, Role: models.RoleMember}, nil).Once()

	req := httptest.NewRequest(http.MethodDelete, "/messages/10?for_everyone=true", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	messageRepo.AssertNotCalled(t, "SoftDelete")
}

func TestDeleteForEveryoneAsAdmin(t *testing.T) {
	chatRepo := new(mocks.ChatRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	router := setupMessageRouter(newMessageHandler(chatRepo, messageRepo, new(mocks.RelationsRepositoryMock)))

	messageRepo.On("GetMessage", mock.Anything, 10).Return(models.Message{ID: 10, ChatID: 5, SenderID: 2}, nil).Once()
	chatRepo.On("GetParticipant", mock.Anything, 5, 1).
		Return(models.ChatParticipant{ChatID: 5, UserID: 1, Role: models.RoleAdmin}, nil).Once()
	messageRepo.On("SoftDelete", mock.Anything, 10, 1, true).Return(nil).Once()
	chatRepo.On("ParticipantIDs", mock.Anything, 5).Return([]int{1, 2}, nil).Once()

	req := httptest.NewRequest(http.MethodDelete, "/messages/10?for_everyone=true", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	messageRepo.AssertExpectations(t)
}

func TestDeleteForSelfOnly(t *testing.T) {
	chatRepo := new(mocks.ChatRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	router := setupMessageRouter(newMessageHandler(chatRepo, messageRepo, new(mocks.RelationsRepositoryMock)))

	messageRepo.On("GetMessage", mock.Anything, 10).Return(models.Message{ID: 10, ChatID: 5, SenderID: 2}, nil).Once()
	chatRepo.On("GetParticipant", mock.Anything, 5, 1).
		Return(models.ChatParticipant{ChatID: 5, UserID: 1, Role: models.RoleMember}, nil).Once()
	messageRepo.On("SoftDelete", mock.Anything, 10, 1, false).Return(nil).Once()

	req := httptest.NewRequest(http.MethodDelete, "/messages/10", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	messageRepo.AssertExpectations(t)
}

func TestReactToggle(t *testing.T) {
	chatRepo := new(mocks.ChatRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	router := setupMessageRouter(newMessageHandler(chatRepo, messageRepo, new(mocks.RelationsRepositoryMock)))

	messageRepo.On("GetMessage", mock.Anything, 10).Return(models.Message{ID: 10, ChatID: 5, SenderID: 2}, nil).Twice()
	chatRepo.On("IsParticipant", mock.Anything, 5, 1).Return(true, nil).Twice()
	chatRepo.On("ParticipantIDs", mock.Anything, 5).Return([]int{1, 2}, nil).Twice()
	messageRepo.On("ToggleReaction", mock.Anything, 10, 1, "👍").Return(true, nil).Once()
	messageRepo.On("ToggleReaction", mock.Anything, 10, 1, "👍").Return(false, nil).Once()

	for i, wantReacted := range []bool{true, false} {
		req := httptest.NewRequest(http.MethodPost, "/messages/10/react", bytes.NewBufferString(`{"emoji":"👍"}`))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code, "call %d", i)
		var resp map[string]any
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, wantReacted, resp["reacted"], "call %d", i)
	}
	messageRepo.AssertExpectations(t)
}

func TestMarkReadBatchSuccess(t *testing.T) {
	chatRepo := new(mocks.ChatRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	router := setupMessageRouter(newMessageHandler(chatRepo, messageRepo, new(mocks.RelationsRepositoryMock)))

	chatRepo.On("IsParticipant", mock.Anything, 5, 1).Return(true, nil).Once()
	messageRepo.On("MarkReadBatch", mock.Anything, 5, 1, []int{7, 8, 9}, mock.Anything).Return(3, nil).Once()
	chatRepo.On("ParticipantIDs", mock.Anything, 5).Return([]int{1, 2}, nil).Once()

	body := bytes.NewBufferString(`{"message_ids":[7,8,9]}`)
	req := httptest.NewRequest(http.MethodPost, "/chats/5/read", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, float64(3), resp["newly_read"])
	messageRepo.AssertExpectations(t)
}

func TestMarkReadBatchNonParticipant(t *testing.T) {
	chatRepo := new(mocks.ChatRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	router := setupMessageRouter(newMessageHandler(chatRepo, messageRepo, new(mocks.RelationsRepositoryMock)))

	chatRepo.On("IsParticipant", mock.Anything, 5, 1).Return(false, nil).Once()

	body := bytes.NewBufferString(`{"message_ids":[7]}`)
	req := httptest.NewRequest(http.MethodPost, "/chats/5/read", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	messageRepo.AssertNotCalled(t, "MarkReadBatch")
}

func TestListMessagesRepoError(t *testing.T) {
	chatRepo := new(mocks.ChatRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	router := setupMessageRouter(newMessageHandler(chatRepo, messageRepo, new(mocks.RelationsRepositoryMock)))

	chatRepo.On("IsParticipant", mock.Anything, 5, 1).Return(true, nil).Once()
	messageRepo.On("ListChatMessages", mock.Anything, 5, 1).Return(([]models.Message)(nil), assert.AnError).Once()

	req := httptest.NewRequest(http.MethodGet, "/chats/5/messages", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestListMessageReceipts(t *testing.T) {
	chatRepo := new(mocks.ChatRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	receiptRepo := new(mocks.ReceiptRepositoryMock)
	handler := NewMessageHandler(chatRepo, messageRepo, receiptRepo, new(mocks.RelationsRepositoryMock), nil, ws.NewHub(), testConfig())
	router := setupMessageRouter(handler)

	messageRepo.On("GetMessage", mock.Anything, 10).Return(models.Message{ID: 10, ChatID: 5, SenderID: 1}, nil).Once()
	chatRepo.On("IsParticipant", mock.Anything, 5, 1).Return(true, nil).Once()
	receiptRepo.On("ListForMessage", mock.Anything, 10).
		Return([]models.ReadReceipt{{MessageID: 10, UserID: 1}, {MessageID: 10, UserID: 2}}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/messages/10/receipts", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Len(t, resp["receipts"], 2)
	receiptRepo.AssertExpectations(t)
}

func TestListMessageReceiptsNonParticipant(t *testing.T) {
	chatRepo := new(mocks.ChatRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	receiptRepo := new(mocks.ReceiptRepositoryMock)
	handler := NewMessageHandler(chatRepo, messageRepo, receiptRepo, new(mocks.RelationsRepositoryMock), nil, ws.NewHub(), testConfig())
	router := setupMessageRouter(handler)

	messageRepo.On("GetMessage", mock.Anything, 10).Return(models.Message{ID: 10, ChatID: 5, SenderID: 2}, nil).Once()
	chatRepo.On("IsParticipant", mock.Anything, 5, 1).Return(false, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/messages/10/receipts", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	receiptRepo.AssertNotCalled(t, "ListForMessage")
}
