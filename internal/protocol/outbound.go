package protocol

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"callrelay-backend/internal/domain"
	apperrors "callrelay-backend/pkg/errors"
)

// Outbound event types
const (
	EventAuthOK            = "auth-ok"
	EventHeartbeatAck      = "heartbeat-ack"
	EventError             = "error"
	EventPresence          = "presence"
	EventIncomingCall      = "incoming-call"
	EventCallInitiated     = "call-initiated"
	EventCallOffline       = "call-offline"
	EventCallAnswered      = "call-answered"
	EventCallICECandidate  = "call-ice-candidate"
	EventCallEnded         = "call-ended"
	EventGroupStarted      = "group-call-started"
	EventGroupOffer        = "group-call-offer"
	EventGroupAnswer       = "group-call-answer"
	EventGroupICECandidate = "group-call-ice-candidate"
	EventGroupUserJoined   = "group-call-user-joined"
	EventGroupUserLeft     = "group-call-user-left"
	EventGroupEnded        = "group-call-ended"
	EventChatMessage       = "chat-message"
	EventTyping            = "typing"
	EventPushTokenSaved    = "push-token-registered"
)

// Event is one outbound frame. CallKind tags call signaling so the router
// can prefer the matching channel.
type Event struct {
	Type      string          `json:"type"`
	CallKind  domain.CallKind `json:"call_kind,omitempty"`
	CallID    *uuid.UUID      `json:"call_id,omitempty"`
	RoomID    *uuid.UUID      `json:"room_id,omitempty"`
	DedupeKey string          `json:"dedupe_key,omitempty"`
	Data      any             `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEvent creates an untagged event
func NewEvent(eventType string, data any) *Event {
	return &Event{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// WithKind tags the event with a call kind
func (e *Event) WithKind(kind domain.CallKind) *Event {
	e.CallKind = kind
	return e
}

func (e *Event) WithCall(callID uuid.UUID) *Event {
	e.CallID = &callID
	return e
}

func (e *Event) WithRoom(roomID uuid.UUID) *Event {
	e.RoomID = &roomID
	return e
}

// Encode marshals the event to a text frame
func (e *Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// ErrorEvent converts err into an error event for the action that failed.
// Errors that are not AppErrors are reported without their detail.
func ErrorEvent(err error, action string) *Event {
	data := ErrorData{
		Code:    string(apperrors.ErrCodeInternal),
		Message: "Internal server error",
		Action:  action,
	}
	if apperrors.IsAppError(err) {
		appErr := apperrors.GetAppError(err)
		data.Code = string(appErr.Code)
		data.Message = appErr.Message
	}
	return NewEvent(EventError, data)
}

// AuthOKData confirms the connection is registered
type AuthOKData struct {
	UserID  uuid.UUID `json:"user_id"`
	Channel string    `json:"channel"`
}

// ErrorData reports a rejected or failed inbound message
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
}

// PresenceData is a snapshot of every online user
type PresenceData struct {
	OnlineUsers []uuid.UUID `json:"online_users"`
}

// IncomingCallData is delivered to the callee of a 1:1 call and to room members of a room call
type IncomingCallData struct {
	CallerID   uuid.UUID                  `json:"caller_id"`
	CallerName string                     `json:"caller_name,omitempty"`
	SDP        *webrtc.SessionDescription `json:"sdp"`
}

// CallStatusData acknowledges an offer back to the caller
type CallStatusData struct {
	Status   domain.CallStatus `json:"status"`
	TargetID *uuid.UUID        `json:"target_id,omitempty"`
}

type CallAnsweredData struct {
	ResponderID uuid.UUID                  `json:"responder_id"`
	SDP         *webrtc.SessionDescription `json:"sdp"`
}

type CandidateData struct {
	SenderID  uuid.UUID                `json:"sender_id"`
	Candidate *webrtc.ICECandidateInit `json:"candidate"`
}

type CallEndedData struct {
	EndedBy  uuid.UUID `json:"ended_by"`
	Reason   string    `json:"reason,omitempty"`
	Duration int       `json:"duration"`
}

// GroupStartedData announces a new room call to the other room members
type GroupStartedData struct {
	StartedBy uuid.UUID `json:"started_by"`
	StartedAt time.Time `json:"started_at"`
}

// GroupSignalData carries a point-to-point offer, answer or candidate inside a room call
type GroupSignalData struct {
	From      uuid.UUID                  `json:"from"`
	To        uuid.UUID                  `json:"to"`
	SDP       *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
}

// GroupMemberData reports a participant joining or leaving
type GroupMemberData struct {
	UserID       uuid.UUID   `json:"user_id"`
	Reason       string      `json:"reason,omitempty"`
	Participants []uuid.UUID `json:"participants"`
}

type GroupEndedData struct {
	EndedBy  uuid.UUID `json:"ended_by"`
	Duration int       `json:"duration"`
}

type ChatMessageData struct {
	MessageID uuid.UUID `json:"message_id"`
	SenderID  uuid.UUID `json:"sender_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type TypingData struct {
	UserID uuid.UUID `json:"user_id"`
}

type PushTokenSavedData struct {
	TokenType string `json:"token_type"`
	Platform  string `json:"platform,omitempty"`
}
