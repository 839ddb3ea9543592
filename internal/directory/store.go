package directory

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"callrelay-backend/internal/domain"
	"callrelay-backend/pkg/logger"
)

// UserRepository is the user table access the Store needs
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, userID uuid.UUID) (*domain.User, error)
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
	UpdateStatus(ctx context.Context, userID uuid.UUID, status string) error
}

// RoomRepository is the room and membership access the Store needs
type RoomRepository interface {
	Create(ctx context.Context, room *domain.Room, memberIDs []uuid.UUID) error
	GetByID(ctx context.Context, roomID uuid.UUID) (*domain.Room, error)
	GetMembers(ctx context.Context, roomID uuid.UUID) ([]uuid.UUID, error)
	IsMember(ctx context.Context, roomID, userID uuid.UUID) (bool, error)
}

// CallRepository is the call record access the Store needs
type CallRepository interface {
	Create(ctx context.Context, call *domain.Call) error
	GetByID(ctx context.Context, callID uuid.UUID) (*domain.Call, error)
	UpdateStatus(ctx context.Context, callID uuid.UUID, status domain.CallStatus, endedAt *time.Time, duration *int) error
}

// PresenceMirror publishes online status outside the relay
type PresenceMirror interface {
	SetUserOnline(ctx context.Context, userID uuid.UUID) error
	SetUserOffline(ctx context.Context, userID uuid.UUID) error
}

// Store is the CockroachDB backed Directory. Online status changes are
// mirrored into Redis when a presence mirror is configured.
type Store struct {
	users    UserRepository
	rooms    RoomRepository
	calls    CallRepository
	presence PresenceMirror
}

// NewStore creates a Store. presence may be nil.
func NewStore(users UserRepository, rooms RoomRepository, calls CallRepository, presence PresenceMirror) *Store {
	return &Store{
		users:    users,
		rooms:    rooms,
		calls:    calls,
		presence: presence,
	}
}

func (s *Store) GetUser(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	return s.users.GetByID(ctx, userID)
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	return s.users.GetByUsername(ctx, username)
}

func (s *Store) CreateUser(ctx context.Context, input *domain.UserCreate) (*domain.User, error) {
	user, err := newUser(input)
	if err != nil {
		return nil, err
	}
	user.UserID = uuid.New()

	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *Store) UpdateUserOnlineStatus(ctx context.Context, userID uuid.UUID, online bool) error {
	if err := s.users.UpdateStatus(ctx, userID, statusFor(online)); err != nil {
		return err
	}
	if s.presence == nil {
		return nil
	}

	var err error
	if online {
		err = s.presence.SetUserOnline(ctx, userID)
	} else {
		err = s.presence.SetUserOffline(ctx, userID)
	}
	// The mirror is advisory; the database row is authoritative.
	if err != nil {
		logger.Warn("Failed to mirror presence",
			zap.String("user_id", userID.String()),
			zap.Bool("online", online),
			zap.Error(err))
	}
	return nil
}

func (s *Store) CreateRoom(ctx context.Context, input *domain.RoomCreate) (*domain.Room, error) {
	if err := validateRoom(input); err != nil {
		return nil, err
	}

	room := &domain.Room{
		RoomID:    uuid.New(),
		Name:      input.Name,
		CreatedBy: input.CreatedBy,
	}
	members := append([]uuid.UUID{input.CreatedBy}, input.MemberIDs...)
	if err := s.rooms.Create(ctx, room, members); err != nil {
		return nil, err
	}
	return room, nil
}

func (s *Store) GetRoom(ctx context.Context, roomID uuid.UUID) (*domain.Room, error) {
	return s.rooms.GetByID(ctx, roomID)
}

func (s *Store) GetRoomMembers(ctx context.Context, roomID uuid.UUID) ([]uuid.UUID, error) {
	members, err := s.rooms.GetMembers(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		// an empty member list is indistinguishable from a missing room
		if _, err := s.rooms.GetByID(ctx, roomID); err != nil {
			return nil, err
		}
	}
	return members, nil
}

func (s *Store) IsUserInRoom(ctx context.Context, userID, roomID uuid.UUID) (bool, error) {
	member, err := s.rooms.IsMember(ctx, roomID, userID)
	if err != nil {
		return false, err
	}
	if member {
		return true, nil
	}
	if _, err := s.rooms.GetByID(ctx, roomID); err != nil {
		return false, err
	}
	return false, nil
}

func (s *Store) CreateCall(ctx context.Context, input *domain.CallCreate) (*domain.Call, error) {
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
	if err := s.calls.Create(ctx, call); err != nil {
		return nil, err
	}
	return call, nil
}

func (s *Store) GetCall(ctx context.Context, callID uuid.UUID) (*domain.Call, error) {
	return s.calls.GetByID(ctx, callID)
}

func (s *Store) UpdateCallStatus(ctx context.Context, callID uuid.UUID, status domain.CallStatus, endedAt *time.Time, duration *int) error {
	return s.calls.UpdateStatus(ctx, callID, status, endedAt, duration)
}

// IsNotFound reports whether err is a Directory not-found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

var (
	_ Directory = (*Memory)(nil)
	_ Directory = (*Store)(nil)
)
