package ws

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"callrelay-backend/internal/protocol"
	"callrelay-backend/internal/service/chat"
	"callrelay-backend/internal/service/groupcall"
	"callrelay-backend/pkg/constants"
	apperrors "callrelay-backend/pkg/errors"
	"callrelay-backend/pkg/logger"
	"callrelay-backend/pkg/push"
)

// handleFrame decodes and dispatches one inbound frame. Any failure,
// including a panic, becomes an error event on this connection; the
// connection stays open.
func (g *Gateway) handleFrame(s *session, data []byte) {
	action := ""
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic while handling frame",
				zap.String("user_id", s.userID.String()),
				zap.String("action", action),
				zap.Any("panic", r),
				zap.Stack("stack"))
			g.send(s, protocol.ErrorEvent(fmt.Errorf("panic: %v", r), action))
		}
	}()

	msg, err := protocol.Decode(data)
	if msg != nil {
		action = msg.Type()
	}
	if g.Metrics != nil {
		label := action
		if label == "" {
			label = "unknown"
		}
		g.Metrics.RecordWebSocketMessage(label, "in")
	}
	if err != nil {
		g.send(s, protocol.ErrorEvent(err, action))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), constants.DirectoryTimeout)
	defer cancel()
	ctx = logger.WithUserID(ctx, s.userID.String())

	if err := g.dispatch(ctx, s, msg); err != nil {
		if !apperrors.IsAppError(err) {
			logger.Error("Frame handling failed",
				zap.String("user_id", s.userID.String()),
				zap.String("action", action),
				zap.Error(err))
		}
		g.send(s, protocol.ErrorEvent(err, action))
	}
}

func (g *Gateway) dispatch(ctx context.Context, s *session, msg protocol.Message) error {
	switch m := msg.(type) {
	case protocol.Auth:
		return apperrors.ConflictError("Connection is already authenticated")

	case protocol.Heartbeat:
		g.Registry.Touch(s.transport)
		g.send(s, protocol.NewEvent(protocol.EventHeartbeatAck, nil))
		return nil

	case protocol.CallOffer:
		result, err := g.Calls.Offer(ctx, s.userID, m)
		if err != nil {
			return err
		}
		g.send(s, result.Ack())
		return nil

	case protocol.CallAnswer:
		_, err := g.Calls.Answer(ctx, s.userID, m)
		return err

	case protocol.CallICECandidate:
		return g.Calls.ICECandidate(ctx, s.userID, m)

	case protocol.CallEnd:
		_, err := g.Calls.End(ctx, s.userID, m)
		return err

	case protocol.GroupOffer:
		return g.Groups.Offer(ctx, s.userID, m)

	case protocol.GroupAnswer:
		return g.Groups.Answer(ctx, s.userID, m)

	case protocol.GroupICECandidate:
		return g.Groups.ICECandidate(ctx, s.userID, m)

	case protocol.GroupLeave:
		return g.Groups.Leave(ctx, s.userID, m.RoomID, groupcall.ReasonLeft)

	case protocol.GroupEnd:
		return g.Groups.EndForAll(ctx, s.userID, m.RoomID)

	case protocol.ChatMessage:
		message, err := g.Chat.Send(ctx, s.userID, m)
		if err != nil {
			return err
		}
		g.send(s, chat.MessageEvent(message))
		return nil

	case protocol.Typing:
		return g.Chat.Typing(ctx, s.userID, m)

	case protocol.PushToken:
		return g.registerPushToken(ctx, s, m)
	}

	return apperrors.UnknownMessageError(msg.Type())
}

func (g *Gateway) registerPushToken(ctx context.Context, s *session, m protocol.PushToken) error {
	if g.Tokens == nil {
		return apperrors.ServiceUnavailableError("Push notifications are not configured")
	}
	tokenType := push.TokenType(m.TokenType)
	if !tokenType.Valid() {
		return apperrors.ValidationError("token_type must be fcm or apns")
	}

	now := time.Now().Unix()
	err := g.Tokens.RegisterToken(ctx, &push.Token{
		ID:        uuid.New(),
		UserID:    s.userID,
		Token:     m.Token,
		Type:      tokenType,
		Platform:  m.Platform,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return apperrors.OperationFailed("register push token", err)
	}

	g.send(s, protocol.NewEvent(protocol.EventPushTokenSaved, protocol.PushTokenSavedData{
		TokenType: m.TokenType,
		Platform:  m.Platform,
	}))
	return nil
}
