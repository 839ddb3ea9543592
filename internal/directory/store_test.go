package directory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"callrelay-backend/internal/domain"
	"callrelay-backend/pkg/constants"
)

type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) Create(ctx context.Context, user *domain.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *MockUserRepository) GetByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockUserRepository) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	args := m.Called(ctx, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockUserRepository) UpdateStatus(ctx context.Context, userID uuid.UUID, status string) error {
	args := m.Called(ctx, userID, status)
	return args.Error(0)
}

type MockRoomRepository struct {
	mock.Mock
}

func (m *MockRoomRepository) Create(ctx context.Context, room *domain.Room, memberIDs []uuid.UUID) error {
	args := m.Called(ctx, room, memberIDs)
	return args.Error(0)
}

func (m *MockRoomRepository) GetByID(ctx context.Context, roomID uuid.UUID) (*domain.Room, error) {
	args := m.Called(ctx, roomID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Room), args.Error(1)
}

func (m *MockRoomRepository) GetMembers(ctx context.Context, roomID uuid.UUID) ([]uuid.UUID, error) {
	args := m.Called(ctx, roomID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]uuid.UUID), args.Error(1)
}

func (m *MockRoomRepository) IsMember(ctx context.Context, roomID, userID uuid.UUID) (bool, error) {
	args := m.Called(ctx, roomID, userID)
	return args.Bool(0), args.Error(1)
}

type MockCallRepository struct {
	mock.Mock
}

func (m *MockCallRepository) Create(ctx context.Context, call *domain.Call) error {
	args := m.Called(ctx, call)
	return args.Error(0)
}

func (m *MockCallRepository) GetByID(ctx context.Context, callID uuid.UUID) (*domain.Call, error) {
	args := m.Called(ctx, callID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Call), args.Error(1)
}

func (m *MockCallRepository) UpdateStatus(ctx context.Context, callID uuid.UUID, status domain.CallStatus, endedAt *time.Time, duration *int) error {
	args := m.Called(ctx, callID, status, endedAt, duration)
	return args.Error(0)
}

type MockPresenceMirror struct {
	mock.Mock
}

func (m *MockPresenceMirror) SetUserOnline(ctx context.Context, userID uuid.UUID) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *MockPresenceMirror) SetUserOffline(ctx context.Context, userID uuid.UUID) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func TestStore_UpdateUserOnlineStatus_Mirrors(t *testing.T) {
	ctx := context.Background()
	users := new(MockUserRepository)
	presence := new(MockPresenceMirror)
	store := NewStore(users, new(MockRoomRepository), new(MockCallRepository), presence)
	userID := uuid.New()

	users.On("UpdateStatus", ctx, userID, constants.UserStatusOnline).Return(nil)
	presence.On("SetUserOnline", ctx, userID).Return(errors.New("redis is in degraded mode"))

	err := store.UpdateUserOnlineStatus(ctx, userID, true)

	assert.NoError(t, err)
	users.AssertExpectations(t)
	presence.AssertExpectations(t)
}

func TestStore_UpdateUserOnlineStatus_DatabaseError(t *testing.T) {
	ctx := context.Background()
	users := new(MockUserRepository)
	presence := new(MockPresenceMirror)
	store := NewStore(users, new(MockRoomRepository), new(MockCallRepository), presence)
	userID := uuid.New()

	users.On("UpdateStatus", ctx, userID, constants.UserStatusOffline).Return(errors.New("connection refused"))

	err := store.UpdateUserOnlineStatus(ctx, userID, false)

	assert.Error(t, err)
	presence.AssertNotCalled(t, "SetUserOffline", mock.Anything, mock.Anything)
}

func TestStore_CreateUser(t *testing.T) {
	ctx := context.Background()
	users := new(MockUserRepository)
	store := NewStore(users, nil, nil, nil)

	users.On("Create", ctx, mock.MatchedBy(func(u *domain.User) bool {
		return u.Username == "bob" && u.UserID != uuid.Nil && u.PasswordHash != "password123"
	})).Return(nil)

	user, err := store.CreateUser(ctx, &domain.UserCreate{Username: "bob", Password: "password123"})

	require.NoError(t, err)
	assert.Equal(t, "bob", user.Username)
	users.AssertExpectations(t)
}

func TestStore_CreateRoom_IncludesCreator(t *testing.T) {
	ctx := context.Background()
	rooms := new(MockRoomRepository)
	store := NewStore(nil, rooms, nil, nil)
	owner, member := uuid.New(), uuid.New()

	rooms.On("Create", ctx, mock.AnythingOfType("*domain.Room"), []uuid.UUID{owner, member}).Return(nil)

	room, err := store.CreateRoom(ctx, &domain.RoomCreate{Name: "team", CreatedBy: owner, MemberIDs: []uuid.UUID{member}})

	require.NoError(t, err)
	assert.Equal(t, owner, room.CreatedBy)
	rooms.AssertExpectations(t)
}

func TestStore_IsUserInRoom_UnknownRoom(t *testing.T) {
	ctx := context.Background()
	rooms := new(MockRoomRepository)
	store := NewStore(nil, rooms, nil, nil)
	roomID, userID := uuid.New(), uuid.New()

	rooms.On("IsMember", ctx, roomID, userID).Return(false, nil)
	rooms.On("GetByID", ctx, roomID).Return(nil, fmt.Errorf("room: %w", ErrNotFound))

	ok, err := store.IsUserInRoom(ctx, userID, roomID)

	assert.False(t, ok)
	assert.True(t, IsNotFound(err))
}

func TestStore_IsUserInRoom_Member(t *testing.T) {
	ctx := context.Background()
	rooms := new(MockRoomRepository)
	store := NewStore(nil, rooms, nil, nil)
	roomID, userID := uuid.New(), uuid.New()

	rooms.On("IsMember", ctx, roomID, userID).Return(true, nil)

	ok, err := store.IsUserInRoom(ctx, userID, roomID)

	require.NoError(t, err)
	assert.True(t, ok)
	rooms.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything)
}

func TestStore_CreateCall_Pending(t *testing.T) {
	ctx := context.Background()
	calls := new(MockCallRepository)
	store := NewStore(nil, nil, calls, nil)
	roomID := uuid.New()

	calls.On("Create", ctx, mock.MatchedBy(func(c *domain.Call) bool {
		return c.Status == domain.CallStatusPending && c.RoomID != nil && *c.RoomID == roomID && !c.StartedAt.IsZero()
	})).Return(nil)

	call, err := store.CreateCall(ctx, &domain.CallCreate{CallerID: uuid.New(), RoomID: &roomID, Kind: domain.CallKindVideo})

	require.NoError(t, err)
	assert.True(t, call.IsRoomCall())
	calls.AssertExpectations(t)
}
