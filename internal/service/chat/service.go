// Package chat relays room chat messages and typing indicators.
package chat

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"callrelay-backend/internal/domain"
	"callrelay-backend/internal/protocol"
	"callrelay-backend/pkg/constants"
	apperrors "callrelay-backend/pkg/errors"
	"callrelay-backend/pkg/logger"
	"callrelay-backend/pkg/metrics"
	"callrelay-backend/pkg/sanitize"
)

// DefaultHistoryLimit is used when History is called with a non-positive limit
const DefaultHistoryLimit = constants.MaxHistoryLimit

// Directory answers room membership
type Directory interface {
	IsUserInRoom(ctx context.Context, userID, roomID uuid.UUID) (bool, error)
}

// Router fans events out to room members
type Router interface {
	BroadcastToRoom(ctx context.Context, roomID uuid.UUID, event *protocol.Event, exclude ...uuid.UUID) error
}

// MessageStore persists chat messages
type MessageStore interface {
	Save(ctx context.Context, message *domain.Message) error
	GetRecent(ctx context.Context, roomID uuid.UUID, bucket, limit int) ([]*domain.Message, error)
}

// Service handles chat business logic
type Service struct {
	directory Directory
	router    Router
	store     MessageStore
	metrics   *metrics.Metrics
	now       func() time.Time
}

// NewService creates a new chat service. store may be nil, in which case
// messages are relayed without being persisted.
func NewService(directory Directory, router Router, store MessageStore, m *metrics.Metrics) *Service {
	return &Service{
		directory: directory,
		router:    router,
		store:     store,
		metrics:   m,
		now:       time.Now,
	}
}

// SetClock replaces the time source. Tests only.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Send stores a message (when a store is configured) and relays it to the
// other members of the room
func (s *Service) Send(ctx context.Context, senderID uuid.UUID, msg protocol.ChatMessage) (*domain.Message, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	if err := s.requireMember(ctx, senderID, msg.RoomID); err != nil {
		return nil, err
	}

	content := sanitize.MessageText(msg.Content)
	if content == "" {
		return nil, apperrors.MissingFieldError("content")
	}

	now := s.now().UTC()
	message := &domain.Message{
		RoomID:    msg.RoomID,
		MessageID: uuid.New(),
		SenderID:  senderID,
		Content:   content,
		CreatedAt: now,
		Bucket:    domain.CalculateBucket(now),
	}

	persisted := false
	if s.store != nil {
		if err := s.store.Save(ctx, message); err != nil {
			return nil, apperrors.OperationFailed("save message", err)
		}
		persisted = true
	}
	if s.metrics != nil {
		s.metrics.RecordChatMessage(persisted)
	}

	if err := s.router.BroadcastToRoom(ctx, msg.RoomID, MessageEvent(message), senderID); err != nil {
		return nil, apperrors.OperationFailed("deliver message", err)
	}

	logger.Debug("Chat message relayed",
		zap.String("room_id", msg.RoomID.String()),
		zap.String("message_id", message.MessageID.String()),
		zap.String("sender_id", senderID.String()),
		zap.Bool("persisted", persisted))

	return message, nil
}

// Typing tells the other members of the room that the user is typing
func (s *Service) Typing(ctx context.Context, userID uuid.UUID, msg protocol.Typing) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	if err := s.requireMember(ctx, userID, msg.RoomID); err != nil {
		return err
	}

	event := protocol.NewEvent(protocol.EventTyping, protocol.TypingData{UserID: userID}).WithRoom(msg.RoomID)
	if err := s.router.BroadcastToRoom(ctx, msg.RoomID, event, userID); err != nil {
		return apperrors.OperationFailed("deliver typing indicator", err)
	}
	return nil
}

// History returns the room's most recent messages, newest first. The
// previous month's bucket fills in when the current one runs short. Without a store there is no history.
func (s *Service) History(ctx context.Context, userID, roomID uuid.UUID, limit int) ([]*domain.Message, error) {
	if err := s.requireMember(ctx, userID, roomID); err != nil {
		return nil, err
	}
	if s.store == nil {
		return []*domain.Message{}, nil
	}
	if limit <= 0 || limit > DefaultHistoryLimit {
		limit = DefaultHistoryLimit
	}

	now := s.now()
	messages, err := s.store.GetRecent(ctx, roomID, domain.CalculateBucket(now), limit)
	if err != nil {
		return nil, apperrors.OperationFailed("load messages", err)
	}
	if len(messages) < limit {
		older, err := s.store.GetRecent(ctx, roomID, domain.PreviousBucket(now), limit-len(messages))
		if err != nil {
			return nil, apperrors.OperationFailed("load messages", err)
		}
		messages = append(messages, older...)
	}
	if messages == nil {
		messages = []*domain.Message{}
	}
	return messages, nil
}

// MessageEvent builds the chat-message event for a stored message
func MessageEvent(message *domain.Message) *protocol.Event {
	return protocol.NewEvent(protocol.EventChatMessage, protocol.ChatMessageData{
		MessageID: message.MessageID,
		SenderID:  message.SenderID,
		Content:   message.Content,
		CreatedAt: message.CreatedAt,
	}).WithRoom(message.RoomID)
}

func (s *Service) requireMember(ctx context.Context, userID, roomID uuid.UUID) error {
	member, err := s.directory.IsUserInRoom(ctx, userID, roomID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return apperrors.NotFoundError("Room")
		}
		return apperrors.OperationFailed("verify room membership", err)
	}
	if !member {
		return apperrors.ForbiddenError("Not a member of this room")
	}
	return nil
}
