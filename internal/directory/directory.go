// Package directory is the relay's view of persistent users, rooms and call records.
package directory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"callrelay-backend/internal/domain"
)

// ErrNotFound is wrapped by every lookup that finds nothing
var ErrNotFound = domain.ErrNotFound

// Directory is the persistent store the relay validates against
type Directory interface {
	GetUser(ctx context.Context, userID uuid.UUID) (*domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
	CreateUser(ctx context.Context, input *domain.UserCreate) (*domain.User, error)
	UpdateUserOnlineStatus(ctx context.Context, userID uuid.UUID, online bool) error

	CreateRoom(ctx context.Context, input *domain.RoomCreate) (*domain.Room, error)
	GetRoom(ctx context.Context, roomID uuid.UUID) (*domain.Room, error)
	GetRoomMembers(ctx context.Context, roomID uuid.UUID) ([]uuid.UUID, error)
	IsUserInRoom(ctx context.Context, userID, roomID uuid.UUID) (bool, error)

	CreateCall(ctx context.Context, input *domain.CallCreate) (*domain.Call, error)
	GetCall(ctx context.Context, callID uuid.UUID) (*domain.Call, error)
	UpdateCallStatus(ctx context.Context, callID uuid.UUID, status domain.CallStatus, endedAt *time.Time, duration *int) error
}
