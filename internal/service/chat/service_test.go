package chat

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"wayfarer-backend/internal/domain"
	apperrors "wayfarer-backend/pkg/errors"
	"wayfarer-backend/pkg/pagination"
)

// Mocks
type MockMessageRepository struct {
	mock.Mock
}

func (m *MockMessageRepository) Save(ctx context.Context, message *domain.Message) error {
	args := m.Called(ctx, message)
	return args.Error(0)
}

func (m *MockMessageRepository) GetByConversation(ctx context.Context, a, b uuid.UUID, limit int, pageState []byte) ([]*domain.Message, []byte, error) {
	args := m.Called(ctx, a, b, limit, pageState)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	return args.Get(0).([]*domain.Message), args.Get(1).([]byte), args.Error(2)
}

type MockConversationRepository struct {
	mock.Mock
}

func (m *MockConversationRepository) RecordMessage(ctx context.Context, msg *domain.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *MockConversationRepository) ListForOwner(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]*domain.Conversation, error) {
	args := m.Called(ctx, ownerID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Conversation), args.Error(1)
}

func (m *MockConversationRepository) MarkRead(ctx context.Context, ownerID, peerID uuid.UUID) error {
	args := m.Called(ctx, ownerID, peerID)
	return args.Error(0)
}

type MockDeliverer struct {
	mock.Mock
}

func (m *MockDeliverer) DeliverMessage(ctx context.Context, msg *domain.Message) bool {
	args := m.Called(ctx, msg)
	return args.Bool(0)
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) NotifyMessage(ctx context.Context, recipientID, senderID uuid.UUID, senderName, preview string) error {
	args := m.Called(ctx, recipientID, senderID, senderName, preview)
	return args.Error(0)
}

type stubPresence map[uuid.UUID]bool

func (p stubPresence) IsOnline(_ context.Context, userID uuid.UUID) bool { return p[userID] }

type stubUsers map[uuid.UUID]string

func (u stubUsers) GetSummary(_ context.Context, userID uuid.UUID) (*domain.UserSummary, error) {
	name, ok := u[userID]
	if !ok {
		return nil, errors.New("not found")
	}
	return &domain.UserSummary{UserID: userID, DisplayName: name}, nil
}

type fixture struct {
	service       *Service
	messages      *MockMessageRepository
	conversations *MockConversationRepository
	deliverer     *MockDeliverer
	notifier      *MockNotifier
}

func newFixture(users stubUsers) *fixture {
	f := &fixture{
		messages:      new(MockMessageRepository),
		conversations: new(MockConversationRepository),
		deliverer:     new(MockDeliverer),
		notifier:      new(MockNotifier),
	}
	f.service = NewService(Config{
		Messages:         f.messages,
		Conversations:    f.conversations,
		Notifier:         f.notifier,
		Users:            users,
		MaxMessageLength: 20,
	})
	f.service.SetDeliverer(f.deliverer)
	return f
}

func TestSendMessage_DeliveredLive(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()
	sender, recipient := uuid.New(), uuid.New()

	f.messages.On("Save", ctx, mock.AnythingOfType("*domain.Message")).Return(nil)
	f.conversations.On("RecordMessage", ctx, mock.AnythingOfType("*domain.Message")).Return(nil)
	f.deliverer.On("DeliverMessage", ctx, mock.AnythingOfType("*domain.Message")).Return(true)

	msg, err := f.service.SendMessage(ctx, &SendMessageInput{
		SenderID:    sender,
		RecipientID: recipient,
		Content:     domain.Content{Body: "  hello \x07"},
	})

	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, msg.ID)
	assert.Equal(t, "hello", msg.Body)
	assert.Equal(t, domain.MessageText, msg.Type)
	assert.Equal(t, sender, msg.SenderID)
	assert.Equal(t, recipient, msg.RecipientID)
	assert.WithinDuration(t, time.Now(), msg.CreatedAt, time.Second)

	f.messages.AssertExpectations(t)
	f.conversations.AssertExpectations(t)
	f.deliverer.AssertExpectations(t)
	f.notifier.AssertNotCalled(t, "NotifyMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSendMessage_OfflineRecipientGetsPush(t *testing.T) {
	sender, recipient := uuid.New(), uuid.New()
	f := newFixture(stubUsers{sender: "Alice"})
	ctx := context.Background()

	pushed := make(chan struct{})
	f.messages.On("Save", ctx, mock.Anything).Return(nil)
	f.conversations.On("RecordMessage", ctx, mock.Anything).Return(nil)
	f.deliverer.On("DeliverMessage", ctx, mock.Anything).Return(false)
	f.notifier.On("NotifyMessage", mock.Anything, recipient, sender, "Alice", "hi there").
		Return(nil).
		Run(func(mock.Arguments) { close(pushed) })

	_, err := f.service.SendMessage(ctx, &SendMessageInput{
		SenderID:    sender,
		RecipientID: recipient,
		Content:     domain.Content{Type: domain.MessageText, Body: "hi there"},
	})
	require.NoError(t, err)

	select {
	case <-pushed:
	case <-time.After(time.Second):
		t.Fatal("push notification not sent")
	}
	f.notifier.AssertExpectations(t)
}

func TestSendMessage_PersistFailure(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()

	f.messages.On("Save", ctx, mock.Anything).Return(errors.New("cassandra down"))

	msg, err := f.service.SendMessage(ctx, &SendMessageInput{
		SenderID:    uuid.New(),
		RecipientID: uuid.New(),
		Content:     domain.Content{Body: "hello"},
	})

	assert.Nil(t, msg)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeSendFailure))
	f.conversations.AssertNotCalled(t, "RecordMessage", mock.Anything, mock.Anything)
	f.deliverer.AssertNotCalled(t, "DeliverMessage", mock.Anything, mock.Anything)
}

func TestSendMessage_SummaryFailureStillDelivers(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()

	f.messages.On("Save", ctx, mock.Anything).Return(nil)
	f.conversations.On("RecordMessage", ctx, mock.Anything).Return(errors.New("crdb down"))
	f.deliverer.On("DeliverMessage", ctx, mock.Anything).Return(true)

	_, err := f.service.SendMessage(ctx, &SendMessageInput{
		SenderID:    uuid.New(),
		RecipientID: uuid.New(),
		Content:     domain.Content{Body: "hello"},
	})

	require.NoError(t, err)
	f.deliverer.AssertExpectations(t)
}

func TestSendMessage_Validation(t *testing.T) {
	self := uuid.New()
	tests := []struct {
		name  string
		input *SendMessageInput
	}{
		{"empty body and no attachment", &SendMessageInput{SenderID: uuid.New(), RecipientID: uuid.New(), Content: domain.Content{Body: "   "}}},
		{"missing recipient", &SendMessageInput{SenderID: uuid.New(), Content: domain.Content{Body: "hi"}}},
		{"unknown type", &SendMessageInput{SenderID: uuid.New(), RecipientID: uuid.New(), Content: domain.Content{Type: "video", Body: "hi"}}},
		{"to self", &SendMessageInput{SenderID: self, RecipientID: self, Content: domain.Content{Body: "hi"}}},
		{"too long", &SendMessageInput{SenderID: uuid.New(), RecipientID: uuid.New(), Content: domain.Content{Body: strings.Repeat("é", 21)}}},
		{"bad attachment ref", &SendMessageInput{SenderID: uuid.New(), RecipientID: uuid.New(), Content: domain.Content{Type: domain.MessageImage, Attachment: &domain.Attachment{Ref: "../secret"}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(nil)
			_, err := f.service.SendMessage(context.Background(), tt.input)
			assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation), "got %v", err)
			f.messages.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
		})
	}
}

func TestSendMessage_AttachmentOnly(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()
	sender := uuid.New()

	f.messages.On("Save", ctx, mock.Anything).Return(nil)
	f.conversations.On("RecordMessage", ctx, mock.Anything).Return(nil)
	f.deliverer.On("DeliverMessage", ctx, mock.Anything).Return(true)

	msg, err := f.service.SendMessage(ctx, &SendMessageInput{
		SenderID:    sender,
		RecipientID: uuid.New(),
		Content: domain.Content{
			Type:       domain.MessageImage,
			Attachment: &domain.Attachment{Ref: "users/" + sender.String() + "/beach.jpg"},
		},
	})

	require.NoError(t, err)
	assert.Empty(t, msg.Body)
	assert.Equal(t, "[image]", msg.Preview())
}

func TestGetMessages(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()
	user, peer := uuid.New(), uuid.New()

	page := []*domain.Message{{ID: uuid.New(), SenderID: peer, RecipientID: user, Body: "Msg 1", CreatedAt: time.Now()}}
	f.messages.On("GetByConversation", ctx, user, peer, 20, []byte{1, 2, 3}).Return(page, []byte{4, 5}, nil)

	output, err := f.service.GetMessages(ctx, &GetMessagesInput{
		UserID: user,
		PeerID: peer,
		Limit:  20,
		Cursor: pagination.EncodeCursor([]byte{1, 2, 3}),
	})

	require.NoError(t, err)
	assert.Len(t, output.Messages, 1)
	assert.True(t, output.HasMore)
	assert.Equal(t, pagination.EncodeCursor([]byte{4, 5}), output.NextCursor)
}

func TestGetMessages_BadCursor(t *testing.T) {
	f := newFixture(nil)
	_, err := f.service.GetMessages(context.Background(), &GetMessagesInput{Cursor: "!!!"})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidInput))
}

func TestListConversations_FillsPresence(t *testing.T) {
	owner, online, offline := uuid.New(), uuid.New(), uuid.New()
	f := newFixture(nil)
	f.service.presence = stubPresence{online: true}
	ctx := context.Background()

	f.conversations.On("ListForOwner", ctx, owner, 20, 0).Return([]*domain.Conversation{
		{PeerID: online},
		{PeerID: offline},
	}, nil)

	list, err := f.service.ListConversations(ctx, owner, 20, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.True(t, list[0].PeerOnline)
	assert.False(t, list[1].PeerOnline)
}

func TestMarkRead(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()
	owner, peer := uuid.New(), uuid.New()

	f.conversations.On("MarkRead", ctx, owner, peer).Return(nil).Once()
	assert.NoError(t, f.service.MarkRead(ctx, owner, peer))

	f.conversations.On("MarkRead", ctx, owner, peer).Return(errors.New("down")).Once()
	err := f.service.MarkRead(ctx, owner, peer)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeDatabase))
}
