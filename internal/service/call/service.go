package call

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"callrelay-backend/internal/domain"
	"callrelay-backend/internal/protocol"
	apperrors "callrelay-backend/pkg/errors"
	"callrelay-backend/pkg/logger"
	"callrelay-backend/pkg/metrics"
	"callrelay-backend/pkg/push"
)

// Directory is the persistent state 1:1 signaling reads and updates
type Directory interface {
	GetUser(ctx context.Context, userID uuid.UUID) (*domain.User, error)
	IsUserInRoom(ctx context.Context, userID, roomID uuid.UUID) (bool, error)
	CreateCall(ctx context.Context, input *domain.CallCreate) (*domain.Call, error)
	GetCall(ctx context.Context, callID uuid.UUID) (*domain.Call, error)
	UpdateCallStatus(ctx context.Context, callID uuid.UUID, status domain.CallStatus, endedAt *time.Time, duration *int) error
}

// Router delivers signaling events
type Router interface {
	SendToUser(userID uuid.UUID, event *protocol.Event) bool
	SendSignal(userID uuid.UUID, event *protocol.Event) bool
	BroadcastToRoom(ctx context.Context, roomID uuid.UUID, event *protocol.Event, exclude ...uuid.UUID) error
}

// MissedCallNotifier pushes a missed call to the receiver's devices
type MissedCallNotifier interface {
	SendMissedCall(ctx context.Context, call *push.MissedCall) (int, error)
}

// Service coordinates offer, answer, ICE and end for 1:1 and room calls
type Service struct {
	directory Directory
	router    Router
	notifier  MissedCallNotifier
	metrics   *metrics.Metrics
}

// NewService creates a new call service. notifier and m may be nil.
func NewService(directory Directory, router Router, notifier MissedCallNotifier, m *metrics.Metrics) *Service {
	return &Service{
		directory: directory,
		router:    router,
		notifier:  notifier,
		metrics:   m,
	}
}

// OfferResult is the outcome of an offer
type OfferResult struct {
	Call      *domain.Call
	Delivered bool
}

// Ack builds the acknowledgment for the caller: call-initiated when the
// offer reached someone, call-offline when the call was marked missed
func (r *OfferResult) Ack() *protocol.Event {
	eventType := protocol.EventCallInitiated
	if !r.Delivered {
		eventType = protocol.EventCallOffline
	}
	event := protocol.NewEvent(eventType, protocol.CallStatusData{
		Status:   r.Call.Status,
		TargetID: r.Call.ReceiverID,
	}).WithKind(r.Call.Kind).WithCall(r.Call.CallID)
	if r.Call.RoomID != nil {
		event.WithRoom(*r.Call.RoomID)
	}
	return event
}

// Offer creates a pending call record and delivers the offer. A direct
// call that reaches no connection is marked missed with duration 0.
func (s *Service) Offer(ctx context.Context, callerID uuid.UUID, msg protocol.CallOffer) (*OfferResult, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	if msg.RoomID != nil {
		if err := s.requireMember(ctx, callerID, *msg.RoomID); err != nil {
			return nil, err
		}
	} else {
		if *msg.TargetID == callerID {
			return nil, apperrors.ValidationError("Cannot call yourself")
		}
		if _, err := s.directory.GetUser(ctx, *msg.TargetID); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, apperrors.UserNotFoundError()
			}
			return nil, apperrors.OperationFailed("look up user", err)
		}
	}

	call, err := s.directory.CreateCall(ctx, &domain.CallCreate{
		CallerID:   callerID,
		ReceiverID: msg.TargetID,
		RoomID:     msg.RoomID,
		Kind:       msg.CallKind,
	})
	if err != nil {
		return nil, apperrors.OperationFailed("create call", err)
	}

	callerName := s.displayName(ctx, callerID)
	event := protocol.NewEvent(protocol.EventIncomingCall, protocol.IncomingCallData{
		CallerID:   callerID,
		CallerName: callerName,
		SDP:        msg.SDP,
	}).WithKind(call.Kind).WithCall(call.CallID)

	if call.RoomID != nil {
		event.WithRoom(*call.RoomID)
		if err := s.router.BroadcastToRoom(ctx, *call.RoomID, event, callerID); err != nil {
			return nil, apperrors.OperationFailed("notify room", err)
		}
		s.recordCall(call, domain.CallStatusPending)
		logger.Info("Room call offered",
			zap.String("call_id", call.CallID.String()),
			zap.String("room_id", call.RoomID.String()),
			zap.String("caller_id", callerID.String()))
		return &OfferResult{Call: call, Delivered: true}, nil
	}

	if s.router.SendToUser(*call.ReceiverID, event) {
		s.recordCall(call, domain.CallStatusPending)
		logger.Info("Call offered",
			zap.String("call_id", call.CallID.String()),
			zap.String("caller_id", callerID.String()),
			zap.String("receiver_id", call.ReceiverID.String()))
		return &OfferResult{Call: call, Delivered: true}, nil
	}

	endedAt := time.Now().UTC()
	duration := 0
	if err := s.directory.UpdateCallStatus(ctx, call.CallID, domain.CallStatusMissed, &endedAt, &duration); err != nil {
		return nil, apperrors.OperationFailed("mark call missed", err)
	}
	call.Status = domain.CallStatusMissed
	call.EndedAt = &endedAt
	call.Duration = &duration
	s.recordCall(call, domain.CallStatusMissed)

	logger.Info("Call missed, receiver offline",
		zap.String("call_id", call.CallID.String()),
		zap.String("receiver_id", call.ReceiverID.String()))

	s.notifyMissed(ctx, call, callerName)
	return &OfferResult{Call: call, Delivered: false}, nil
}

// Answer marks the call answered and relays the answer to the call's
// caller. The caller is taken from the call record, not from any connection.
func (s *Service) Answer(ctx context.Context, responderID uuid.UUID, msg protocol.CallAnswer) (*domain.Call, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	call, err := s.loadCall(ctx, msg.CallID)
	if err != nil {
		return nil, err
	}
	if call.CallerID == responderID {
		return nil, apperrors.ValidationError("Cannot answer your own call")
	}
	if call.ReceiverID != nil && *call.ReceiverID != responderID {
		return nil, apperrors.ForbiddenError("Call is addressed to another user")
	}
	if call.RoomID != nil {
		if err := s.requireMember(ctx, responderID, *call.RoomID); err != nil {
			return nil, err
		}
	}
	if call.Status == domain.CallStatusEnded || call.Status == domain.CallStatusMissed {
		return nil, apperrors.ConflictError("Call is no longer active")
	}

	if call.Status != domain.CallStatusAnswered {
		if err := s.directory.UpdateCallStatus(ctx, call.CallID, domain.CallStatusAnswered, nil, nil); err != nil {
			return nil, apperrors.OperationFailed("answer call", err)
		}
		call.Status = domain.CallStatusAnswered
		s.recordCall(call, domain.CallStatusAnswered)
	}

	event := protocol.NewEvent(protocol.EventCallAnswered, protocol.CallAnsweredData{
		ResponderID: responderID,
		SDP:         msg.SDP,
	}).WithKind(call.Kind).WithCall(call.CallID)

	if !s.router.SendToUser(call.CallerID, event) {
		return call, apperrors.DeliveryFailedError("Caller is no longer reachable")
	}
	return call, nil
}

// ICECandidate relays a candidate to the target user. Nothing is persisted.
// A frame without a call kind takes the kind of its call record when it
// names one.
func (s *Service) ICECandidate(ctx context.Context, senderID uuid.UUID, msg protocol.CallICECandidate) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	kind := msg.CallKind
	if kind == "" && msg.CallID != nil {
		call, err := s.directory.GetCall(ctx, *msg.CallID)
		if err != nil {
			logger.Debug("Call lookup for ICE candidate failed",
				zap.String("call_id", msg.CallID.String()),
				zap.Error(err))
		} else {
			kind = call.Kind
		}
	}

	event := protocol.NewEvent(protocol.EventCallICECandidate, protocol.CandidateData{
		SenderID:  senderID,
		Candidate: msg.Candidate,
	}).WithKind(kind)
	if msg.CallID != nil {
		event.WithCall(*msg.CallID)
	}

	if !s.router.SendSignal(msg.TargetID, event) {
		return apperrors.DeliveryFailedError("Target user is not reachable")
	}
	return nil
}

// End marks the call ended and notifies everyone else on it. Ending a call
// that already ended or was missed returns it unchanged.
func (s *Service) End(ctx context.Context, enderID uuid.UUID, msg protocol.CallEnd) (*domain.Call, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	call, err := s.loadCall(ctx, msg.CallID)
	if err != nil {
		return nil, err
	}
	if call.RoomID == nil && enderID != call.CallerID && (call.ReceiverID == nil || *call.ReceiverID != enderID) {
		return nil, apperrors.ForbiddenError("Not a party to this call")
	}
	if call.Status == domain.CallStatusEnded || call.Status == domain.CallStatusMissed {
		return call, nil
	}

	endedAt := time.Now().UTC()
	duration := domain.CallDuration(call.StartedAt, endedAt)
	if err := s.directory.UpdateCallStatus(ctx, call.CallID, domain.CallStatusEnded, &endedAt, &duration); err != nil {
		return nil, apperrors.OperationFailed("end call", err)
	}
	call.Status = domain.CallStatusEnded
	call.EndedAt = &endedAt
	call.Duration = &duration
	s.recordCall(call, domain.CallStatusEnded)
	if s.metrics != nil {
		s.metrics.RecordCallDuration(scopeOf(call), string(call.Kind), time.Duration(duration)*time.Second)
	}

	event := protocol.NewEvent(protocol.EventCallEnded, protocol.CallEndedData{
		EndedBy:  enderID,
		Reason:   msg.Reason,
		Duration: duration,
	}).WithKind(call.Kind).WithCall(call.CallID)

	if call.RoomID != nil {
		event.WithRoom(*call.RoomID)
		if err := s.router.BroadcastToRoom(ctx, *call.RoomID, event, enderID); err != nil {
			logger.Warn("Failed to notify room of call end",
				zap.String("call_id", call.CallID.String()),
				zap.Error(err))
		}
	} else {
		other := call.CallerID
		if other == enderID {
			other = *call.ReceiverID
		}
		s.router.SendToUser(other, event)
	}

	logger.Info("Call ended",
		zap.String("call_id", call.CallID.String()),
		zap.String("ended_by", enderID.String()),
		zap.Int("duration", duration))
	return call, nil
}

func (s *Service) loadCall(ctx context.Context, callID uuid.UUID) (*domain.Call, error) {
	call, err := s.directory.GetCall(ctx, callID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, apperrors.CallNotFoundError()
		}
		return nil, apperrors.OperationFailed("load call", err)
	}
	return call, nil
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

func (s *Service) displayName(ctx context.Context, userID uuid.UUID) string {
	user, err := s.directory.GetUser(ctx, userID)
	if err != nil {
		logger.Debug("Caller lookup failed", zap.String("user_id", userID.String()), zap.Error(err))
		return ""
	}
	return user.DisplayName
}

func (s *Service) notifyMissed(ctx context.Context, call *domain.Call, callerName string) {
	if s.notifier == nil {
		return
	}
	sent, err := s.notifier.SendMissedCall(ctx, &push.MissedCall{
		CallID:     call.CallID,
		CallerID:   call.CallerID,
		CallerName: callerName,
		ReceiverID: *call.ReceiverID,
		Kind:       string(call.Kind),
	})
	if err != nil {
		logger.Warn("Failed to send missed call notification",
			zap.String("call_id", call.CallID.String()),
			zap.Error(err))
		return
	}
	logger.Debug("Missed call notification queued",
		zap.String("call_id", call.CallID.String()),
		zap.Int("devices", sent))
}

func (s *Service) recordCall(call *domain.Call, status domain.CallStatus) {
	if s.metrics != nil {
		s.metrics.RecordCall(scopeOf(call), string(call.Kind), string(status))
	}
}

func scopeOf(call *domain.Call) string {
	if call.IsRoomCall() {
		return "room"
	}
	return "direct"
}
