package directory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"callrelay-backend/internal/domain"
)

// Memory is an in-process Directory used for local runs and tests
type Memory struct {
	mu      sync.RWMutex
	users   map[uuid.UUID]*domain.User
	rooms   map[uuid.UUID]*domain.Room
	members map[uuid.UUID][]uuid.UUID
	calls   map[uuid.UUID]*domain.Call
}

// NewMemory creates an empty in-memory directory
func NewMemory() *Memory {
	return &Memory{
		users:   make(map[uuid.UUID]*domain.User),
		rooms:   make(map[uuid.UUID]*domain.Room),
		members: make(map[uuid.UUID][]uuid.UUID),
		calls:   make(map[uuid.UUID]*domain.Call),
	}
}

func (m *Memory) GetUser(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	user, ok := m.users[userID]
	if !ok {
		return nil, fmt.Errorf("user: %w", ErrNotFound)
	}
	copied := *user
	return &copied, nil
}

func (m *Memory) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, user := range m.users {
		if user.Username == username {
			copied := *user
			return &copied, nil
		}
	}
	return nil, fmt.Errorf("user: %w", ErrNotFound)
}

func (m *Memory) CreateUser(ctx context.Context, input *domain.UserCreate) (*domain.User, error) {
	user, err := newUser(input)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.users {
		if existing.Username == user.Username {
			return nil, fmt.Errorf("username %q already taken", user.Username)
		}
	}
	user.UserID = uuid.New()
	user.CreatedAt = time.Now().UTC()
	m.users[user.UserID] = user

	copied := *user
	return &copied, nil
}

func (m *Memory) UpdateUserOnlineStatus(ctx context.Context, userID uuid.UUID, online bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[userID]
	if !ok {
		return fmt.Errorf("user: %w", ErrNotFound)
	}
	user.Status = statusFor(online)
	if !online {
		now := time.Now().UTC()
		user.LastSeenAt = &now
	}
	return nil
}

func (m *Memory) CreateRoom(ctx context.Context, input *domain.RoomCreate) (*domain.Room, error) {
	if err := validateRoom(input); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	room := &domain.Room{
		RoomID:    uuid.New(),
		Name:      input.Name,
		CreatedBy: input.CreatedBy,
		CreatedAt: time.Now().UTC(),
	}
	m.rooms[room.RoomID] = room

	seen := make(map[uuid.UUID]bool)
	for _, id := range append([]uuid.UUID{input.CreatedBy}, input.MemberIDs...) {
		if !seen[id] {
			seen[id] = true
			m.members[room.RoomID] = append(m.members[room.RoomID], id)
		}
	}

	copied := *room
	return &copied, nil
}

func (m *Memory) GetRoom(ctx context.Context, roomID uuid.UUID) (*domain.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	room, ok := m.rooms[roomID]
	if !ok {
		return nil, fmt.Errorf("room: %w", ErrNotFound)
	}
	copied := *room
	return &copied, nil
}

func (m *Memory) GetRoomMembers(ctx context.Context, roomID uuid.UUID) ([]uuid.UUID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.rooms[roomID]; !ok {
		return nil, fmt.Errorf("room: %w", ErrNotFound)
	}
	return append([]uuid.UUID(nil), m.members[roomID]...), nil
}

func (m *Memory) IsUserInRoom(ctx context.Context, userID, roomID uuid.UUID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.rooms[roomID]; !ok {
		return false, fmt.Errorf("room: %w", ErrNotFound)
	}
	for _, id := range m.members[roomID] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) CreateCall(ctx context.Context, input *domain.CallCreate) (*domain.Call, error) {
	if err := validateCall(input); err != nil {
		return nil, err
	}

	call := &domain.Call{
		CallID:     uuid.New(),
		CallerID:   input.CallerID,
		ReceiverID: input.ReceiverID,
		RoomID:     input.RoomID,
		Kind:       input.Kind,
		Status:     domain.CallStatusPending,
		StartedAt:  time.Now().UTC(),
	}

	m.mu.Lock()
	m.calls[call.CallID] = call
	m.mu.Unlock()

	copied := *call
	return &copied, nil
}

func (m *Memory) GetCall(ctx context.Context, callID uuid.UUID) (*domain.Call, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	call, ok := m.calls[callID]
	if !ok {
		return nil, fmt.Errorf("call: %w", ErrNotFound)
	}
	copied := *call
	return &copied, nil
}

func (m *Memory) UpdateCallStatus(ctx context.Context, callID uuid.UUID, status domain.CallStatus, endedAt *time.Time, duration *int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	call, ok := m.calls[callID]
	if !ok {
		return fmt.Errorf("call: %w", ErrNotFound)
	}
	call.Status = status
	if endedAt != nil {
		t := *endedAt
		call.EndedAt = &t
	}
	if duration != nil {
		d := *duration
		call.Duration = &d
	}
	return nil
}
