// Package groupcall manages ephemeral multi-party calls scoped to a room.
package groupcall

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"callrelay-backend/internal/domain"
	"callrelay-backend/internal/protocol"
	apperrors "callrelay-backend/pkg/errors"
	"callrelay-backend/pkg/logger"
	"callrelay-backend/pkg/metrics"
)

// Leave reasons
const (
	ReasonLeft         = "left"
	ReasonDisconnected = "disconnected"
)

// Directory is the persistent state group calls need
type Directory interface {
	IsUserInRoom(ctx context.Context, userID, roomID uuid.UUID) (bool, error)
	GetRoomMembers(ctx context.Context, roomID uuid.UUID) ([]uuid.UUID, error)
	CreateCall(ctx context.Context, input *domain.CallCreate) (*domain.Call, error)
	UpdateCallStatus(ctx context.Context, callID uuid.UUID, status domain.CallStatus, endedAt *time.Time, duration *int) error
}

// Router delivers group call events
type Router interface {
	SendRedundant(userID uuid.UUID, event *protocol.Event) bool
	SendRedundantToAll(userIDs []uuid.UUID, event *protocol.Event) []uuid.UUID
	BroadcastToRoom(ctx context.Context, roomID uuid.UUID, event *protocol.Event, exclude ...uuid.UUID) error
}

type roomLock struct {
	mu   sync.Mutex
	refs int
}

// Manager owns every active group call. One action on a room (join,
// membership broadcast, relay) runs under that room's lock, so concurrent
// first joins cannot both create a call.
type Manager struct {
	directory Directory
	router    Router
	metrics   *metrics.Metrics

	mu    sync.Mutex
	calls map[uuid.UUID]*GroupCall
	locks map[uuid.UUID]*roomLock
}

// NewManager creates a Manager. m may be nil.
func NewManager(directory Directory, router Router, m *metrics.Metrics) *Manager {
	return &Manager{
		directory: directory,
		router:    router,
		metrics:   m,
		calls:     make(map[uuid.UUID]*GroupCall),
		locks:     make(map[uuid.UUID]*roomLock),
	}
}

func (m *Manager) lockRoom(roomID uuid.UUID) func() {
	m.mu.Lock()
	l, ok := m.locks[roomID]
	if !ok {
		l = &roomLock{}
		m.locks[roomID] = l
	}
	l.refs++
	m.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		m.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, roomID)
		}
		m.mu.Unlock()
	}
}

func (m *Manager) get(roomID uuid.UUID) *GroupCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[roomID]
}

// Offer relays a participant's offer to one peer, starting the room's call
// if none is active and joining the offerer otherwise.
func (m *Manager) Offer(ctx context.Context, userID uuid.UUID, msg protocol.GroupOffer) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	if msg.PeerID == userID {
		return apperrors.ValidationError("Cannot signal yourself")
	}
	if err := m.requireMember(ctx, userID, msg.RoomID); err != nil {
		return err
	}

	unlock := m.lockRoom(msg.RoomID)
	defer unlock()

	gc := m.get(msg.RoomID)
	if gc == nil {
		var err error
		if gc, err = m.start(ctx, userID, msg.RoomID, msg.CallKind); err != nil {
			return err
		}
	} else if !m.isParticipant(gc, userID) {
		m.join(ctx, gc, userID, msg.CallKind)
	}

	return m.relay(userID, msg.PeerID, gc, protocol.NewEvent(protocol.EventGroupOffer, protocol.GroupSignalData{
		From: userID,
		To:   msg.PeerID,
		SDP:  msg.SDP,
	}).WithKind(msg.CallKind))
}

// Answer joins the responder to the room's active call and relays the
// answer to the peer
func (m *Manager) Answer(ctx context.Context, userID uuid.UUID, msg protocol.GroupAnswer) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	if msg.PeerID == userID {
		return apperrors.ValidationError("Cannot signal yourself")
	}
	if err := m.requireMember(ctx, userID, msg.RoomID); err != nil {
		return err
	}

	unlock := m.lockRoom(msg.RoomID)
	defer unlock()

	gc := m.get(msg.RoomID)
	if gc == nil {
		return apperrors.NotFoundError("Group call")
	}
	if !m.isParticipant(gc, userID) {
		m.join(ctx, gc, userID, msg.CallKind)
	}

	return m.relay(userID, msg.PeerID, gc, protocol.NewEvent(protocol.EventGroupAnswer, protocol.GroupSignalData{
		From: userID,
		To:   msg.PeerID,
		SDP:  msg.SDP,
	}).WithKind(msg.CallKind))
}

// ICECandidate relays a candidate to one peer. Membership is not changed.
func (m *Manager) ICECandidate(ctx context.Context, userID uuid.UUID, msg protocol.GroupICECandidate) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	if err := m.requireMember(ctx, userID, msg.RoomID); err != nil {
		return err
	}

	event := protocol.NewEvent(protocol.EventGroupICECandidate, protocol.GroupSignalData{
		From:      userID,
		To:        msg.PeerID,
		Candidate: msg.Candidate,
	}).WithKind(msg.CallKind).WithRoom(msg.RoomID)
	if gc := m.get(msg.RoomID); gc != nil {
		event.WithCall(gc.CallID)
	}

	if !m.router.SendRedundant(msg.PeerID, event) {
		return apperrors.DeliveryFailedError("Peer is not reachable")
	}
	return nil
}

// Leave removes the user from the room's call. It is a no-op when the user
// is not a participant. The last participant leaving ends the call.
func (m *Manager) Leave(ctx context.Context, userID, roomID uuid.UUID, reason string) error {
	unlock := m.lockRoom(roomID)
	defer unlock()

	gc := m.get(roomID)
	if gc == nil {
		return nil
	}

	m.mu.Lock()
	idx := gc.indexOf(userID)
	if idx < 0 {
		m.mu.Unlock()
		return nil
	}
	gc.Participants = append(gc.Participants[:idx:idx], gc.Participants[idx+1:]...)
	remaining := gc.ParticipantIDs()
	m.mu.Unlock()

	logger.Info("User left group call",
		zap.String("room_id", roomID.String()),
		zap.String("user_id", userID.String()),
		zap.String("reason", reason),
		zap.Int("remaining", len(remaining)))

	if len(remaining) > 0 {
		m.router.SendRedundantToAll(remaining, protocol.NewEvent(protocol.EventGroupUserLeft, protocol.GroupMemberData{
			UserID:       userID,
			Reason:       reason,
			Participants: remaining,
		}).WithKind(gc.Kind).WithRoom(roomID).WithCall(gc.CallID))
		return nil
	}

	return m.teardown(ctx, gc, userID)
}

// LeaveAll removes the user from every call they participate in. Returns
// the number of calls left.
func (m *Manager) LeaveAll(ctx context.Context, userID uuid.UUID, reason string) int {
	m.mu.Lock()
	var rooms []uuid.UUID
	for roomID, gc := range m.calls {
		if gc.Has(userID) {
			rooms = append(rooms, roomID)
		}
	}
	m.mu.Unlock()

	for _, roomID := range rooms {
		if err := m.Leave(ctx, userID, roomID, reason); err != nil {
			logger.Warn("Failed to leave group call",
				zap.String("room_id", roomID.String()),
				zap.String("user_id", userID.String()),
				zap.Error(err))
		}
	}
	return len(rooms)
}

// EndForAll ends the room's call for every participant. Only the user who
// started the call may do this.
func (m *Manager) EndForAll(ctx context.Context, userID, roomID uuid.UUID) error {
	unlock := m.lockRoom(roomID)
	defer unlock()

	gc := m.get(roomID)
	if gc == nil {
		return apperrors.NotFoundError("Group call")
	}
	if gc.CreatedBy != userID {
		return apperrors.ForbiddenError("Only the user who started the call can end it for everyone")
	}

	m.mu.Lock()
	gc.Participants = nil
	m.mu.Unlock()

	logger.Info("Group call ended for all",
		zap.String("room_id", roomID.String()),
		zap.String("ended_by", userID.String()))

	return m.teardown(ctx, gc, userID)
}

// Active returns a copy of the room's active call
func (m *Manager) Active(roomID uuid.UUID) (GroupCall, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	gc, ok := m.calls[roomID]
	if !ok {
		return GroupCall{}, false
	}
	return gc.clone(), true
}

// Snapshot returns copies of every active call, oldest first
func (m *Manager) Snapshot() []GroupCall {
	m.mu.Lock()
	calls := make([]GroupCall, 0, len(m.calls))
	for _, gc := range m.calls {
		calls = append(calls, gc.clone())
	}
	m.mu.Unlock()

	sort.Slice(calls, func(i, j int) bool {
		return calls[i].StartedAt.Before(calls[j].StartedAt)
	})
	return calls
}

// Count returns the number of active calls
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// start creates the call record and the in-memory call with userID as its
// only participant, then tells the rest of the room. Caller holds the room lock.
func (m *Manager) start(ctx context.Context, userID, roomID uuid.UUID, kind domain.CallKind) (*GroupCall, error) {
	call, err := m.directory.CreateCall(ctx, &domain.CallCreate{
		CallerID: userID,
		RoomID:   &roomID,
		Kind:     kind,
	})
	if err != nil {
		return nil, apperrors.OperationFailed("start group call", err)
	}

	startedAt := call.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}
	gc := &GroupCall{
		RoomID:    roomID,
		CallID:    call.CallID,
		Kind:      kind,
		CreatedBy: userID,
		StartedAt: startedAt,
		Active:    true,
		Participants: []Participant{
			{UserID: userID, Kind: kind, JoinedAt: time.Now().UTC()},
		},
	}

	m.mu.Lock()
	m.calls[roomID] = gc
	active := len(m.calls)
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.SetActiveGroupCalls(active)
		m.metrics.RecordCall("group", string(kind), string(domain.CallStatusPending))
	}
	logger.Info("Group call started",
		zap.String("room_id", roomID.String()),
		zap.String("call_id", call.CallID.String()),
		zap.String("started_by", userID.String()))

	members, err := m.directory.GetRoomMembers(ctx, roomID)
	if err != nil {
		logger.Warn("Failed to load room members for group call announcement",
			zap.String("room_id", roomID.String()),
			zap.Error(err))
		return gc, nil
	}

	others := make([]uuid.UUID, 0, len(members))
	for _, memberID := range members {
		if memberID != userID {
			others = append(others, memberID)
		}
	}
	m.router.SendRedundantToAll(others, protocol.NewEvent(protocol.EventGroupStarted, protocol.GroupStartedData{
		StartedBy: userID,
		StartedAt: startedAt,
	}).WithKind(kind).WithRoom(roomID).WithCall(call.CallID))

	return gc, nil
}

// join appends userID and announces it to the existing participants.
// Caller holds the room lock.
func (m *Manager) join(ctx context.Context, gc *GroupCall, userID uuid.UUID, kind domain.CallKind) {
	m.mu.Lock()
	existing := gc.ParticipantIDs()
	gc.Participants = append(gc.Participants, Participant{UserID: userID, Kind: kind, JoinedAt: time.Now().UTC()})
	participants := gc.ParticipantIDs()
	markAnswered := !gc.answered && len(participants) >= 2
	if markAnswered {
		gc.answered = true
	}
	m.mu.Unlock()

	logger.Info("User joined group call",
		zap.String("room_id", gc.RoomID.String()),
		zap.String("user_id", userID.String()),
		zap.Int("participants", len(participants)))

	if markAnswered {
		if err := m.directory.UpdateCallStatus(ctx, gc.CallID, domain.CallStatusAnswered, nil, nil); err != nil {
			logger.Warn("Failed to mark group call answered",
				zap.String("call_id", gc.CallID.String()),
				zap.Error(err))
		} else if m.metrics != nil {
			m.metrics.RecordCall("group", string(gc.Kind), string(domain.CallStatusAnswered))
		}
	}

	m.router.SendRedundantToAll(existing, protocol.NewEvent(protocol.EventGroupUserJoined, protocol.GroupMemberData{
		UserID:       userID,
		Participants: participants,
	}).WithKind(kind).WithRoom(gc.RoomID).WithCall(gc.CallID))
}

// teardown destroys the call, marks its record ended and then tells the
// room. The room is not told when the record cannot be updated. Caller holds
// the room lock.
func (m *Manager) teardown(ctx context.Context, gc *GroupCall, endedBy uuid.UUID) error {
	endedAt := time.Now().UTC()
	duration := domain.CallDuration(gc.StartedAt, endedAt)

	m.mu.Lock()
	delete(m.calls, gc.RoomID)
	gc.Active = false
	gc.EndedAt = &endedAt
	active := len(m.calls)
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.SetActiveGroupCalls(active)
		m.metrics.RecordCall("group", string(gc.Kind), string(domain.CallStatusEnded))
		m.metrics.RecordCallDuration("group", string(gc.Kind), time.Duration(duration)*time.Second)
	}
	logger.Info("Group call ended",
		zap.String("room_id", gc.RoomID.String()),
		zap.String("call_id", gc.CallID.String()),
		zap.Int("duration", duration))

	if err := m.directory.UpdateCallStatus(ctx, gc.CallID, domain.CallStatusEnded, &endedAt, &duration); err != nil {
		return apperrors.OperationFailed("end group call", err)
	}

	event := protocol.NewEvent(protocol.EventGroupEnded, protocol.GroupEndedData{
		EndedBy:  endedBy,
		Duration: duration,
	}).WithKind(gc.Kind).WithRoom(gc.RoomID).WithCall(gc.CallID)
	if err := m.router.BroadcastToRoom(ctx, gc.RoomID, event); err != nil {
		logger.Warn("Failed to announce group call end",
			zap.String("room_id", gc.RoomID.String()),
			zap.Error(err))
	}
	return nil
}

func (m *Manager) relay(from, to uuid.UUID, gc *GroupCall, event *protocol.Event) error {
	event.WithRoom(gc.RoomID).WithCall(gc.CallID)
	if !m.router.SendRedundant(to, event) {
		logger.Debug("Group signal undelivered",
			zap.String("room_id", gc.RoomID.String()),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
			zap.String("type", event.Type))
		return apperrors.DeliveryFailedError("Peer is not reachable")
	}
	return nil
}

func (m *Manager) isParticipant(gc *GroupCall, userID uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gc.Has(userID)
}

func (m *Manager) requireMember(ctx context.Context, userID, roomID uuid.UUID) error {
	member, err := m.directory.IsUserInRoom(ctx, userID, roomID)
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
