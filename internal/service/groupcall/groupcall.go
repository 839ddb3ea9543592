package groupcall

import (
	"time"

	"github.com/google/uuid"

	"callrelay-backend/internal/domain"
)

// Participant is one user in an active group call
type Participant struct {
	UserID   uuid.UUID       `json:"user_id"`
	Kind     domain.CallKind `json:"kind"`
	JoinedAt time.Time       `json:"joined_at"`
}

// GroupCall is the in-memory state of one room's active call
type GroupCall struct {
	RoomID       uuid.UUID       `json:"room_id"`
	CallID       uuid.UUID       `json:"call_id"`
	Kind         domain.CallKind `json:"kind"`
	CreatedBy    uuid.UUID       `json:"created_by"`
	StartedAt    time.Time       `json:"started_at"`
	EndedAt      *time.Time      `json:"ended_at,omitempty"`
	Active       bool            `json:"active"`
	Participants []Participant   `json:"participants"`

	answered bool
}

func (g *GroupCall) indexOf(userID uuid.UUID) int {
	for i, p := range g.Participants {
		if p.UserID == userID {
			return i
		}
	}
	return -1
}

// Has reports whether userID is a participant
func (g *GroupCall) Has(userID uuid.UUID) bool {
	return g.indexOf(userID) >= 0
}

// ParticipantIDs returns participant ids in join order
func (g *GroupCall) ParticipantIDs() []uuid.UUID {
	ids := make([]uuid.UUID, len(g.Participants))
	for i, p := range g.Participants {
		ids[i] = p.UserID
	}
	return ids
}

func (g *GroupCall) clone() GroupCall {
	c := *g
	c.Participants = append([]Participant(nil), g.Participants...)
	if g.EndedAt != nil {
		t := *g.EndedAt
		c.EndedAt = &t
	}
	return c
}
