package chat

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"callrelay-backend/internal/directory"
	"callrelay-backend/internal/domain"
	"callrelay-backend/internal/protocol"
	"callrelay-backend/internal/registry"
	"callrelay-backend/internal/registry/registrytest"
	"callrelay-backend/internal/router"
	apperrors "callrelay-backend/pkg/errors"
	"callrelay-backend/pkg/metrics"
)

type MockMessageStore struct {
	mock.Mock
}

func (m *MockMessageStore) Save(ctx context.Context, message *domain.Message) error {
	args := m.Called(ctx, message)
	return args.Error(0)
}

func (m *MockMessageStore) GetRecent(ctx context.Context, roomID uuid.UUID, bucket, limit int) ([]*domain.Message, error) {
	args := m.Called(ctx, roomID, bucket, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Message), args.Error(1)
}

type MockDirectory struct {
	mock.Mock
}

func (m *MockDirectory) IsUserInRoom(ctx context.Context, userID, roomID uuid.UUID) (bool, error) {
	args := m.Called(ctx, userID, roomID)
	return args.Bool(0), args.Error(1)
}

type fixture struct {
	ctx      context.Context
	dir      *directory.Memory
	registry *registry.Registry
	router   *router.Router
	room     uuid.UUID
	alice    uuid.UUID
	bob      uuid.UUID
	outsider uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{ctx: context.Background(), dir: directory.NewMemory(), registry: registry.New()}
	f.router = router.New(f.registry, f.dir, nil)

	for _, u := range []struct {
		name string
		id   *uuid.UUID
	}{{"alice", &f.alice}, {"bob", &f.bob}, {"mallory", &f.outsider}} {
		user, err := f.dir.CreateUser(f.ctx, &domain.UserCreate{Username: u.name, Password: "password123"})
		require.NoError(t, err)
		*u.id = user.UserID
	}

	room, err := f.dir.CreateRoom(f.ctx, &domain.RoomCreate{Name: "general", CreatedBy: f.alice, MemberIDs: []uuid.UUID{f.bob}})
	require.NoError(t, err)
	f.room = room.RoomID
	return f
}

func (f *fixture) connect(userID uuid.UUID, ch registry.Channel) *registrytest.Transport {
	transport := registrytest.NewTransport()
	f.registry.Register(userID, ch, transport)
	return transport
}

type chatFrame struct {
	Type   string                   `json:"type"`
	RoomID uuid.UUID                `json:"room_id"`
	Data   protocol.ChatMessageData `json:"data"`
}

func TestSend_RelaysToOtherMembers(t *testing.T) {
	f := newFixture(t)
	aliceChat := f.connect(f.alice, registry.ChannelChat)
	bobLegacy := f.connect(f.bob, registry.ChannelLegacy)
	service := NewService(f.dir, f.router, nil, metrics.NewMetrics("chat-test"))

	message, err := service.Send(f.ctx, f.alice, protocol.ChatMessage{RoomID: f.room, Content: "hello"})

	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, message.MessageID)
	assert.Empty(t, aliceChat.Frames())
	require.Len(t, bobLegacy.Frames(), 1)

	var frame chatFrame
	require.NoError(t, json.Unmarshal(bobLegacy.Frames()[0], &frame))
	assert.Equal(t, protocol.EventChatMessage, frame.Type)
	assert.Equal(t, f.room, frame.RoomID)
	assert.Equal(t, message.MessageID, frame.Data.MessageID)
	assert.Equal(t, f.alice, frame.Data.SenderID)
	assert.Equal(t, "hello", frame.Data.Content)
}

func TestSend_Persists(t *testing.T) {
	f := newFixture(t)
	f.connect(f.bob, registry.ChannelChat)
	store := new(MockMessageStore)
	store.On("Save", mock.Anything, mock.MatchedBy(func(m *domain.Message) bool {
		return m.RoomID == f.room && m.SenderID == f.alice && m.Bucket == domain.CalculateBucket(m.CreatedAt)
	})).Return(nil)
	service := NewService(f.dir, f.router, store, nil)

	_, err := service.Send(f.ctx, f.alice, protocol.ChatMessage{RoomID: f.room, Content: "saved"})

	require.NoError(t, err)
	store.AssertExpectations(t)
}

func TestSend_StoreFailureNotRelayed(t *testing.T) {
	f := newFixture(t)
	bobChat := f.connect(f.bob, registry.ChannelChat)
	store := new(MockMessageStore)
	store.On("Save", mock.Anything, mock.Anything).Return(errors.New("cassandra unavailable"))
	service := NewService(f.dir, f.router, store, nil)

	_, err := service.Send(f.ctx, f.alice, protocol.ChatMessage{RoomID: f.room, Content: "lost"})

	require.Error(t, err)
	assert.Equal(t, "failed to save message", apperrors.GetAppError(err).Message)
	assert.Empty(t, bobChat.Frames())
}

func TestSend_Rejected(t *testing.T) {
	f := newFixture(t)
	service := NewService(f.dir, f.router, nil, nil)

	tests := []struct {
		name   string
		sender uuid.UUID
		msg    protocol.ChatMessage
		code   apperrors.ErrorCode
	}{
		{"outsider", f.outsider, protocol.ChatMessage{RoomID: f.room, Content: "hi"}, apperrors.ErrCodeForbidden},
		{"unknown room", f.alice, protocol.ChatMessage{RoomID: uuid.New(), Content: "hi"}, apperrors.ErrCodeNotFound},
		{"blank content", f.alice, protocol.ChatMessage{RoomID: f.room, Content: "  "}, apperrors.ErrCodeMissingField},
		{"control characters only", f.alice, protocol.ChatMessage{RoomID: f.room, Content: "\x00\x07"}, apperrors.ErrCodeMissingField},
		{"too long", f.alice, protocol.ChatMessage{RoomID: f.room, Content: strings.Repeat("x", 10001)}, apperrors.ErrCodeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := service.Send(f.ctx, tt.sender, tt.msg)
			assert.True(t, apperrors.HasCode(err, tt.code), "got %v", err)
		})
	}
}

func TestSend_DirectoryFailure(t *testing.T) {
	f := newFixture(t)
	dir := new(MockDirectory)
	dir.On("IsUserInRoom", mock.Anything, f.alice, f.room).Return(false, errors.New("connection refused"))
	service := NewService(dir, f.router, nil, nil)

	_, err := service.Send(f.ctx, f.alice, protocol.ChatMessage{RoomID: f.room, Content: "hi"})

	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInternal))
}

func TestTyping(t *testing.T) {
	f := newFixture(t)
	aliceChat := f.connect(f.alice, registry.ChannelChat)
	bobChat := f.connect(f.bob, registry.ChannelChat)
	service := NewService(f.dir, f.router, nil, nil)

	require.NoError(t, service.Typing(f.ctx, f.alice, protocol.Typing{RoomID: f.room}))

	assert.Equal(t, []string{protocol.EventTyping}, bobChat.Types())
	assert.Empty(t, aliceChat.Types())

	err := service.Typing(f.ctx, f.outsider, protocol.Typing{RoomID: f.room})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeForbidden))
}

func TestHistory(t *testing.T) {
	f := newFixture(t)
	stored := make([]*domain.Message, DefaultHistoryLimit)
	for i := range stored {
		stored[i] = &domain.Message{RoomID: f.room, MessageID: uuid.New(), SenderID: f.bob, Content: "earlier"}
	}
	store := new(MockMessageStore)
	store.On("GetRecent", mock.Anything, f.room, 202611, DefaultHistoryLimit).Return(stored, nil)
	service := NewService(f.dir, f.router, store, nil)
	service.SetClock(func() time.Time { return time.Date(2026, 11, 20, 9, 0, 0, 0, time.UTC) })

	messages, err := service.History(f.ctx, f.alice, f.room, 500)

	require.NoError(t, err)
	assert.Equal(t, stored, messages)
	store.AssertNumberOfCalls(t, "GetRecent", 1)

	_, err = service.History(f.ctx, f.outsider, f.room, 10)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeForbidden))
}

func TestHistory_FillsFromPreviousMonth(t *testing.T) {
	f := newFixture(t)
	current := []*domain.Message{{RoomID: f.room, MessageID: uuid.New(), SenderID: f.bob, Content: "just after midnight"}}
	previous := []*domain.Message{
		{RoomID: f.room, MessageID: uuid.New(), SenderID: f.alice, Content: "last night"},
		{RoomID: f.room, MessageID: uuid.New(), SenderID: f.bob, Content: "yesterday"},
	}
	store := new(MockMessageStore)
	store.On("GetRecent", mock.Anything, f.room, 202611, 10).Return(current, nil)
	store.On("GetRecent", mock.Anything, f.room, 202610, 9).Return(previous, nil)
	service := NewService(f.dir, f.router, store, nil)
	service.SetClock(func() time.Time { return time.Date(2026, 11, 1, 0, 5, 0, 0, time.UTC) })

	messages, err := service.History(f.ctx, f.alice, f.room, 10)

	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Equal(t, "just after midnight", messages[0].Content)
	assert.Equal(t, "yesterday", messages[2].Content)
	store.AssertExpectations(t)
}

func TestHistory_NoStore(t *testing.T) {
	f := newFixture(t)
	service := NewService(f.dir, f.router, nil, nil)

	messages, err := service.History(f.ctx, f.alice, f.room, 10)

	require.NoError(t, err)
	assert.Empty(t, messages)
}
