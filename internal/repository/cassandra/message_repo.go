package cassandra

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"callrelay-backend/internal/database"
	"callrelay-backend/internal/domain"
)

// MessageRepository stores room chat messages in Cassandra, bucketed by month
type MessageRepository struct {
	db *database.CassandraDB
}

// NewMessageRepository creates a new MessageRepository
func NewMessageRepository(db *database.CassandraDB) *MessageRepository {
	return &MessageRepository{db: db}
}

// EnsureSchema creates the messages table if it does not exist
func (r *MessageRepository) EnsureSchema(ctx context.Context) error {
	stmt := `
		CREATE TABLE IF NOT EXISTS messages (
			room_id uuid,
			bucket int,
			created_at timestamp,
			message_id uuid,
			sender_id uuid,
			content text,
			PRIMARY KEY ((room_id, bucket), created_at, message_id)
		) WITH CLUSTERING ORDER BY (created_at DESC, message_id ASC)
	`
	if err := r.db.ExecWithContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to create messages table: %w", err)
	}
	return nil
}

// Save inserts a message, filling in ID, timestamp and bucket when unset
func (r *MessageRepository) Save(ctx context.Context, message *domain.Message) error {
	if message.MessageID == uuid.Nil {
		message.MessageID = uuid.New()
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}
	if message.Bucket == 0 {
		message.Bucket = domain.CalculateBucket(message.CreatedAt)
	}

	query := `
		INSERT INTO messages (room_id, bucket, created_at, message_id, sender_id, content)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	err := r.db.ExecWithContext(ctx, query,
		gocql.UUID(message.RoomID),
		message.Bucket,
		message.CreatedAt,
		gocql.UUID(message.MessageID),
		gocql.UUID(message.SenderID),
		message.Content,
	)
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}

	return nil
}

// GetRecent returns up to limit messages of a room from the given bucket, newest first
func (r *MessageRepository) GetRecent(ctx context.Context, roomID uuid.UUID, bucket, limit int) ([]*domain.Message, error) {
	query := `
		SELECT room_id, bucket, created_at, message_id, sender_id, content
		FROM messages
		WHERE room_id = ? AND bucket = ?
		LIMIT ?
	`

	iter := r.db.QueryWithContext(ctx, query, gocql.UUID(roomID), bucket, limit).Iter()

	var messages []*domain.Message
	var room, messageID, senderID gocql.UUID
	var createdAt time.Time
	var content string
	var b int
	for iter.Scan(&room, &b, &createdAt, &messageID, &senderID, &content) {
		messages = append(messages, &domain.Message{
			RoomID:    uuid.UUID(room),
			Bucket:    b,
			CreatedAt: createdAt,
			MessageID: uuid.UUID(messageID),
			SenderID:  uuid.UUID(senderID),
			Content:   content,
		})
	}

	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	return messages, nil
}
