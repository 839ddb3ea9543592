package domain

import (
	"time"

	"github.com/google/uuid"
)

// Message is a room chat message
// Maps to Cassandra messages table, partitioned by (room_id, bucket)
type Message struct {
	RoomID    uuid.UUID `json:"room_id" cql:"room_id"`
	Bucket    int       `json:"-" cql:"bucket"`
	MessageID uuid.UUID `json:"message_id" cql:"message_id"`
	SenderID  uuid.UUID `json:"sender_id" cql:"sender_id"`
	Content   string    `json:"content" cql:"content"`
	CreatedAt time.Time `json:"created_at" cql:"created_at"`
}

// CalculateBucket returns the monthly partition bucket (yyyymm) for t
func CalculateBucket(t time.Time) int {
	t = t.UTC()
	return t.Year()*100 + int(t.Month())
}

// PreviousBucket returns the bucket of the month before t
func PreviousBucket(t time.Time) int {
	t = t.UTC()
	return CalculateBucket(time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -1, 0))
}
