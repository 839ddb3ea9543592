// Package router delivers outbound events to users through the registry.
package router

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"callrelay-backend/internal/domain"
	"callrelay-backend/internal/protocol"
	"callrelay-backend/internal/registry"
	"callrelay-backend/pkg/logger"
	"callrelay-backend/pkg/metrics"
)

// MemberResolver resolves room membership for room fan-out
type MemberResolver interface {
	GetRoomMembers(ctx context.Context, roomID uuid.UUID) ([]uuid.UUID, error)
}

// Router picks live connections for outbound events
type Router struct {
	registry *registry.Registry
	members  MemberResolver
	metrics  *metrics.Metrics
	seq      atomic.Uint64
}

// New creates a Router. m may be nil.
func New(reg *registry.Registry, members MemberResolver, m *metrics.Metrics) *Router {
	return &Router{
		registry: reg,
		members:  members,
		metrics:  m,
	}
}

// channelOrder is the lookup order for an event: the channel matching the
// call kind, the other specialized channel, chat, then legacy. Untagged
// events only use chat and legacy.
func channelOrder(kind domain.CallKind) []registry.Channel {
	switch kind {
	case domain.CallKindVideo:
		return []registry.Channel{registry.ChannelVideo, registry.ChannelVoice, registry.ChannelChat, registry.ChannelLegacy}
	case domain.CallKindAudio:
		return []registry.Channel{registry.ChannelVoice, registry.ChannelVideo, registry.ChannelChat, registry.ChannelLegacy}
	default:
		return []registry.Channel{registry.ChannelChat, registry.ChannelLegacy}
	}
}

// signalOrder is channelOrder for call signaling. Signaling without a known
// call kind still prefers the specialized channels.
func signalOrder(kind domain.CallKind) []registry.Channel {
	if kind == "" {
		return []registry.Channel{registry.ChannelVoice, registry.ChannelVideo, registry.ChannelChat, registry.ChannelLegacy}
	}
	return channelOrder(kind)
}

// redundantOrder is channelOrder extended with every channel it leaves out
func redundantOrder(kind domain.CallKind) []registry.Channel {
	order := channelOrder(kind)
	for _, ch := range registry.Channels {
		if !containsChannel(order, ch) {
			order = append(order, ch)
		}
	}
	return order
}

func containsChannel(channels []registry.Channel, ch registry.Channel) bool {
	for _, c := range channels {
		if c == ch {
			return true
		}
	}
	return false
}

// SendToUser delivers event on the first channel in priority order whose
// connection accepts the write. Reports whether it was delivered.
func (r *Router) SendToUser(userID uuid.UUID, event *protocol.Event) bool {
	data, err := event.Encode()
	if err != nil {
		logger.Error("Failed to encode event", zap.String("type", event.Type), zap.Error(err))
		return false
	}

	delivered := r.sendEncoded(userID, event, data, channelOrder(event.CallKind))
	r.recordDelivery("direct", delivered)
	return delivered
}

// SendSignal is SendToUser for call signaling events, which reach voice and
// video connections even when the event carries no call kind.
func (r *Router) SendSignal(userID uuid.UUID, event *protocol.Event) bool {
	data, err := event.Encode()
	if err != nil {
		logger.Error("Failed to encode event", zap.String("type", event.Type), zap.Error(err))
		return false
	}

	delivered := r.sendEncoded(userID, event, data, signalOrder(event.CallKind))
	r.recordDelivery("direct", delivered)
	return delivered
}

func (r *Router) sendEncoded(userID uuid.UUID, event *protocol.Event, data []byte, order []registry.Channel) bool {
	for _, ch := range order {
		conn := r.registry.Find(userID, ch)
		if conn == nil {
			continue
		}
		if err := conn.Send(data); err != nil {
			logger.Debug("Send failed, trying next channel",
				zap.String("user_id", userID.String()),
				zap.String("channel", string(ch)),
				zap.String("type", event.Type),
				zap.Error(err))
			continue
		}
		return true
	}
	return false
}

// Stamp assigns event its idempotency key unless it already has one.
// The key is <type>:<call or room id>:<sequence>.
func (r *Router) Stamp(event *protocol.Event) {
	if event.DedupeKey != "" {
		return
	}
	scope := "-"
	switch {
	case event.CallID != nil:
		scope = event.CallID.String()
	case event.RoomID != nil:
		scope = event.RoomID.String()
	}
	event.DedupeKey = fmt.Sprintf("%s:%s:%d", event.Type, scope, r.seq.Add(1))
}

// SendRedundant writes event on every channel the user is connected on, in
// priority order, and then to any other live connection if none of those
// succeeded. Every copy carries the same dedupe key. Reports whether any
// copy was accepted.
func (r *Router) SendRedundant(userID uuid.UUID, event *protocol.Event) bool {
	r.Stamp(event)
	data, err := event.Encode()
	if err != nil {
		logger.Error("Failed to encode event", zap.String("type", event.Type), zap.Error(err))
		return false
	}

	delivered := false
	tried := make(map[*registry.Connection]bool)
	for _, ch := range redundantOrder(event.CallKind) {
		conn := r.registry.Find(userID, ch)
		if conn == nil {
			continue
		}
		tried[conn] = true
		if err := conn.Send(data); err == nil {
			delivered = true
		}
	}

	if !delivered {
		for _, conn := range r.registry.ConnectionsOf(userID) {
			if tried[conn] || !conn.IsOpen() {
				continue
			}
			if err := conn.Send(data); err == nil {
				delivered = true
				break
			}
		}
	}

	if !delivered {
		logger.Debug("Redundant delivery failed on every path",
			zap.String("user_id", userID.String()),
			zap.String("type", event.Type))
	}
	r.recordDelivery("redundant", delivered)
	return delivered
}

// SendRedundantToAll sends one logical event redundantly to each user.
// Returns the users it could not reach.
func (r *Router) SendRedundantToAll(userIDs []uuid.UUID, event *protocol.Event) []uuid.UUID {
	r.Stamp(event)
	var missed []uuid.UUID
	for _, userID := range userIDs {
		if !r.SendRedundant(userID, event) {
			missed = append(missed, userID)
		}
	}
	return missed
}

// BroadcastToRoom sends event to every room member not in exclude. Members
// that cannot be reached are skipped. Only a membership lookup failure is
// returned.
func (r *Router) BroadcastToRoom(ctx context.Context, roomID uuid.UUID, event *protocol.Event, exclude ...uuid.UUID) error {
	members, err := r.members.GetRoomMembers(ctx, roomID)
	if err != nil {
		return fmt.Errorf("failed to resolve room members: %w", err)
	}

	data, err := event.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	for _, memberID := range members {
		if containsUser(exclude, memberID) {
			continue
		}
		delivered := r.sendEncoded(memberID, event, data, channelOrder(event.CallKind))
		r.recordDelivery("room", delivered)
		if !delivered {
			logger.Debug("Room member unreachable",
				zap.String("room_id", roomID.String()),
				zap.String("user_id", memberID.String()),
				zap.String("type", event.Type))
		}
	}
	return nil
}

// BroadcastToAll writes event to every open connection on every channel.
// Returns the number of connections that accepted it.
func (r *Router) BroadcastToAll(event *protocol.Event) int {
	data, err := event.Encode()
	if err != nil {
		logger.Error("Failed to encode event", zap.String("type", event.Type), zap.Error(err))
		return 0
	}

	sent := 0
	for _, conn := range r.registry.All() {
		if err := conn.Send(data); err == nil {
			sent++
		}
	}
	r.recordDelivery("broadcast", sent > 0)
	return sent
}

// BroadcastPresence sends the current online user snapshot to everyone
func (r *Router) BroadcastPresence() int {
	return r.BroadcastToAll(protocol.NewEvent(protocol.EventPresence, protocol.PresenceData{
		OnlineUsers: r.registry.OnlineUsers(),
	}))
}

func (r *Router) recordDelivery(mode string, delivered bool) {
	if r.metrics != nil {
		r.metrics.RecordDelivery(mode, delivered)
	}
}

func containsUser(users []uuid.UUID, id uuid.UUID) bool {
	for _, u := range users {
		if u == id {
			return true
		}
	}
	return false
}
