package domain

import (
	"time"

	"github.com/google/uuid"
)

// CallKind is the media kind a call was placed with
type CallKind string

const (
	CallKindAudio CallKind = "audio"
	CallKindVideo CallKind = "video"
)

// Valid reports whether k is a known kind
func (k CallKind) Valid() bool {
	return k == CallKindAudio || k == CallKindVideo
}

// CallStatus is the persisted lifecycle state of a call record
type CallStatus string

const (
	CallStatusPending  CallStatus = "pending"
	CallStatusAnswered CallStatus = "answered"
	CallStatusMissed   CallStatus = "missed"
	CallStatusEnded    CallStatus = "ended"
)

// Call is the persisted record of one 1:1 or room call attempt.
// Exactly one of ReceiverID and RoomID is set.
type Call struct {
	CallID     uuid.UUID  `json:"call_id" db:"call_id"`
	CallerID   uuid.UUID  `json:"caller_id" db:"caller_id"`
	ReceiverID *uuid.UUID `json:"receiver_id,omitempty" db:"receiver_id"`
	RoomID     *uuid.UUID `json:"room_id,omitempty" db:"room_id"`
	Kind       CallKind   `json:"kind" db:"kind"`
	Status     CallStatus `json:"status" db:"status"`
	StartedAt  time.Time  `json:"started_at" db:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty" db:"ended_at"`
	Duration   *int       `json:"duration,omitempty" db:"duration"` // seconds
}

// IsRoomCall reports whether the call targets a room rather than a single user
func (c *Call) IsRoomCall() bool {
	return c.RoomID != nil
}

// CallCreate represents data needed to open a call record
type CallCreate struct {
	CallerID   uuid.UUID
	ReceiverID *uuid.UUID
	RoomID     *uuid.UUID
	Kind       CallKind
}

// CallDuration returns whole seconds between start and end, never negative.
// A zero start time yields 0.
func CallDuration(startedAt, endedAt time.Time) int {
	if startedAt.IsZero() || endedAt.Before(startedAt) {
		return 0
	}
	return int(endedAt.Sub(startedAt) / time.Second)
}
