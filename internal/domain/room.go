package domain

import (
	"time"

	"github.com/google/uuid"
)

// Room is a closed-membership chat room. Only members may message it or call into it.
// Maps to CockroachDB rooms table; membership lives in room_members.
type Room struct {
	RoomID    uuid.UUID `json:"room_id" db:"room_id"`
	Name      string    `json:"name" db:"name"`
	CreatedBy uuid.UUID `json:"created_by" db:"created_by"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// RoomCreate represents data needed to create a room with its initial members
type RoomCreate struct {
	Name      string      `json:"name"`
	CreatedBy uuid.UUID   `json:"created_by"`
	MemberIDs []uuid.UUID `json:"member_ids"`
}
