package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"messaging-service/internal/models"
	"messaging-service/internal/repositories"
)

type ChatRepositoryMock struct {
	mock.Mock
}

var _ repositories.ChatRepository = (*ChatRepositoryMock)(nil)

func (m *ChatRepositoryMock) CreateChat(ctx context.Context, kind string, creatorID int, participantIDs []int) (models.Chat, error) {
	args := m.Called(ctx, kind, creatorID, participantIDs)
	var chat models.Chat
	if val := args.Get(0); val != nil {
		chat = val.(models.Chat)
	}
	return chat, args.Error(1)
}

func (m *ChatRepositoryMock) GetChat(ctx context.Context, chatID int) (models.Chat, error) {
	args := m.Called(ctx, chatID)
	var chat models.Chat
	if val := args.Get(0); val != nil {
		chat = val.(models.Chat)
	}
	return chat, args.Error(1)
}

func (m *ChatRepositoryMock) GetParticipant(ctx context.Context, chatID int, userID int) (models.ChatParticipant, error) {
	args := m.Called(ctx, chatID, userID)
	var participant models.ChatParticipant
	if val := args.Get(0); val != nil {
		participant = val.(models.ChatParticipant)
	}
	return participant, args.Error(1)
}

func (m *ChatRepositoryMock) IsParticipant(ctx context.Context, chatID int, userID int) (bool, error) {
	args := m.Called(ctx, chatID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *ChatRepositoryMock) ParticipantIDs(ctx context.Context, chatID int) ([]int, error) {
	args := m.Called(ctx, chatID)
	var ids []int
	if val := args.Get(0); val != nil {
		ids = val.([]int)
	}
	return ids, args.Error(1)
}

func (m *ChatRepositoryMock) ListChats(ctx context.Context, userID int) ([]models.ChatSummary, error) {
	args := m.Called(ctx, userID)
	var list []models.ChatSummary
	if val := args.Get(0); val != nil {
		list = val.([]models.ChatSummary)
	}
	return list, args.Error(1)
}

func (m *ChatRepositoryMock) DecrementUnread(ctx context.Context, chatID int, userID int, n int) error {
	args := m.Called(ctx, chatID, userID, n)
	return args.Error(0)
}

func (m *ChatRepositoryMock) RetirePointerIfDeleted(ctx context.Context, chatID int, deletedMessageID int) error {
	args := m.Called(ctx, chatID, deletedMessageID)
	return args.Error(0)
}

func (m *ChatRepositoryMock) SetArchived(ctx context.Context, chatID int, archived bool) error {
	args := m.Called(ctx, chatID, archived)
	return args.Error(0)
}

type MessageRepositoryMock struct {
	mock.Mock
}

var _ repositories.MessageRepository = (*MessageRepositoryMock)(nil)

func (m *MessageRepositoryMock) Append(ctx context.Context, chatID int, senderID int, content string, replyToID *int, clientID *string) (models.Message, error) {
	args := m.Called(ctx, chatID, senderID, content, replyToID, clientID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) GetMessage(ctx context.Context, messageID int) (models.Message, error) {
	args := m.Called(ctx, messageID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) GetMessageByClientID(ctx context.Context, clientID string) (models.Message, error) {
	args := m.Called(ctx, clientID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) ListChatMessages(ctx context.Context, chatID int, userID int) ([]models.Message, error) {
	args := m.Called(ctx, chatID, userID)
	var list []models.Message
	if val := args.Get(0); val != nil {
		list = val.([]models.Message)
	}
	return list, args.Error(1)
}

func (m *MessageRepositoryMock) Edit(ctx context.Context, messageID int, editorID int, newContent string, editWindow time.Duration) (models.Message, error) {
	args := m.Called(ctx, messageID, editorID, newContent, editWindow)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) SoftDelete(ctx context.Context, messageID int, actorID int, forEveryone bool) error {
	args := m.Called(ctx, messageID, actorID, forEveryone)
	return args.Error(0)
}

func (m *MessageRepositoryMock) HideForUser(ctx context.Context, messageID int, userID int) error {
	args := m.Called(ctx, messageID, userID)
	return args.Error(0)
}

func (m *MessageRepositoryMock) ToggleReaction(ctx context.Context, messageID int, userID int, emoji string) (bool, error) {
	args := m.Called(ctx, messageID, userID, emoji)
	return args.Bool(0), args.Error(1)
}

func (m *MessageRepositoryMock) ListReactions(ctx context.Context, messageID int) ([]models.Reaction, error) {
	args := m.Called(ctx, messageID)
	var list []models.Reaction
	if val := args.Get(0); val != nil {
		list = val.([]models.Reaction)
	}
	return list, args.Error(1)
}

func (m *MessageRepositoryMock) MarkReadBatch(ctx context.Context, chatID int, readerID int, messageIDs []int, at time.Time) (int, error) {
	args := m.Called(ctx, chatID, readerID, messageIDs, at)
	return args.Int(0), args.Error(1)
}

type ReceiptRepositoryMock struct {
	mock.Mock
}

var _ repositories.ReceiptRepository = (*ReceiptRepositoryMock)(nil)

func (m *ReceiptRepositoryMock) UnreadCountFor(ctx context.Context, chatID int, userID int) (int, error) {
	args := m.Called(ctx, chatID, userID)
	return args.Int(0), args.Error(1)
}

func (m *ReceiptRepositoryMock) RepairUnread(ctx context.Context, chatID int, userID int) (int, error) {
	args := m.Called(ctx, chatID, userID)
	return args.Int(0), args.Error(1)
}

func (m *ReceiptRepositoryMock) ListForMessage(ctx context.Context, messageID int) ([]models.ReadReceipt, error) {
	args := m.Called(ctx, messageID)
	var list []models.ReadReceipt
	if val := args.Get(0); val != nil {
		list = val.([]models.ReadReceipt)
	}
	return list, args.Error(1)
}

type CallRepositoryMock struct {
	mock.Mock
}

var _ repositories.CallRepository = (*CallRepositoryMock)(nil)

func (m *CallRepositoryMock) Start(ctx context.Context, callerID int, chatID *int, participantIDs []int, kind string, ringTimeout time.Duration, groupCap int) (models.Call, error) {
	args := m.Called(ctx, callerID, chatID, participantIDs, kind, ringTimeout, groupCap)
	var call models.Call
	if val := args.Get(0); val != nil {
		call = val.(models.Call)
	}
	return call, args.Error(1)
}

func (m *CallRepositoryMock) Get(ctx context.Context, callID int) (models.Call, error) {
	args := m.Called(ctx, callID)
	var call models.Call
	if val := args.Get(0); val != nil {
		call = val.(models.Call)
	}
	return call, args.Error(1)
}

func (m *CallRepositoryMock) Participants(ctx context.Context, callID int) ([]models.CallParticipant, error) {
	args := m.Called(ctx, callID)
	var list []models.CallParticipant
	if val := args.Get(0); val != nil {
		list = val.([]models.CallParticipant)
	}
	return list, args.Error(1)
}

func (m *CallRepositoryMock) Accept(ctx context.Context, callID int, userID int, now time.Time) (models.Call, error) {
	args := m.Called(ctx, callID, userID, now)
	var call models.Call
	if val := args.Get(0); val != nil {
		call = val.(models.Call)
	}
	return call, args.Error(1)
}

func (m *CallRepositoryMock) Reject(ctx context.Context, callID int, userID int, now time.Time) (models.Call, error) {
	args := m.Called(ctx, callID, userID, now)
	var call models.Call
	if val := args.Get(0); val != nil {
		call = val.(models.Call)
	}
	return call, args.Error(1)
}

func (m *CallRepositoryMock) End(ctx context.Context, callID int, userID int, clientDuration *int, maxDuration time.Duration, now time.Time) (models.Call, error) {
	args := m.Called(ctx, callID, userID, clientDuration, maxDuration, now)
	var call models.Call
	if val := args.Get(0); val != nil {
		call = val.(models.Call)
	}
	return call, args.Error(1)
}

func (m *CallRepositoryMock) Join(ctx context.Context, callID int, userID int, now time.Time) (models.Call, error) {
	args := m.Called(ctx, callID, userID, now)
	var call models.Call
	if val := args.Get(0); val != nil {
		call = val.(models.Call)
	}
	return call, args.Error(1)
}

func (m *CallRepositoryMock) Leave(ctx context.Context, callID int, userID int, maxDuration time.Duration, now time.Time) (models.Call, error) {
	args := m.Called(ctx, callID, userID, maxDuration, now)
	var call models.Call
	if val := args.Get(0); val != nil {
		call = val.(models.Call)
	}
	return call, args.Error(1)
}

func (m *CallRepositoryMock) SweepTimeouts(ctx context.Context, now time.Time) ([]models.Call, error) {
	args := m.Called(ctx, now)
	var list []models.Call
	if val := args.Get(0); val != nil {
		list = val.([]models.Call)
	}
	return list, args.Error(1)
}

type SyncRepositoryMock struct {
	mock.Mock
}

var _ repositories.SyncRepository = (*SyncRepositoryMock)(nil)

func (m *SyncRepositoryMock) ChatsSince(ctx context.Context, userID int, since time.Time) ([]models.ChatSummary, error) {
	args := m.Called(ctx, userID, since)
	var list []models.ChatSummary
	if val := args.Get(0); val != nil {
		list = val.([]models.ChatSummary)
	}
	return list, args.Error(1)
}

func (m *SyncRepositoryMock) MessagesSince(ctx context.Context, userID int, since time.Time) ([]models.Message, error) {
	args := m.Called(ctx, userID, since)
	var list []models.Message
	if val := args.Get(0); val != nil {
		list = val.([]models.Message)
	}
	return list, args.Error(1)
}

func (m *SyncRepositoryMock) ReceiptsSince(ctx context.Context, userID int, since time.Time) ([]models.ReadReceipt, error) {
	args := m.Called(ctx, userID, since)
	var list []models.ReadReceipt
	if val := args.Get(0); val != nil {
		list = val.([]models.ReadReceipt)
	}
	return list, args.Error(1)
}

func (m *SyncRepositoryMock) UnreadCounts(ctx context.Context, userID int) (map[int]int, error) {
	args := m.Called(ctx, userID)
	var counts map[int]int
	if val := args.Get(0); val != nil {
		counts = val.(map[int]int)
	}
	return counts, args.Error(1)
}

type RelationsRepositoryMock struct {
	mock.Mock
}

var _ repositories.RelationsRepository = (*RelationsRepositoryMock)(nil)

func (m *RelationsRepositoryMock) AnyBlockBetween(ctx context.Context, userID int, otherIDs []int) (bool, error) {
	args := m.Called(ctx, userID, otherIDs)
	return args.Bool(0), args.Error(1)
}
