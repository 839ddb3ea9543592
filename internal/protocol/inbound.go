// Package protocol defines the JSON frames exchanged over every channel.
package protocol

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"callrelay-backend/internal/domain"
	"callrelay-backend/pkg/constants"
	apperrors "callrelay-backend/pkg/errors"
)

// Inbound message types
const (
	TypeAuth             = "auth"
	TypeHeartbeat        = "heartbeat"
	TypeCallOffer        = "call-offer"
	TypeCallAnswer       = "call-answer"
	TypeCallICECandidate = "call-ice-candidate"
	TypeCallEnd          = "call-end"
	TypeGroupOffer       = "group-call-offer"
	TypeGroupAnswer      = "group-call-answer"
	TypeGroupICE         = "group-call-ice-candidate"
	TypeGroupLeave       = "group-call-user-left"
	TypeGroupEnd         = "group-call-end"
	TypeChatMessage      = "chat-message"
	TypeTyping           = "typing"
	TypePushToken        = "push-token"
)

// Message is one decoded inbound frame
type Message interface {
	Type() string
	Validate() error
}

// Auth must be the first frame on every connection
type Auth struct {
	Token string `json:"token"`
}

type Heartbeat struct{}

// CallOffer starts a 1:1 call with TargetID or a room call with RoomID
type CallOffer struct {
	TargetID *uuid.UUID                 `json:"target_id,omitempty"`
	RoomID   *uuid.UUID                 `json:"room_id,omitempty"`
	SDP      *webrtc.SessionDescription `json:"sdp"`
	CallKind domain.CallKind            `json:"call_kind"`
}

type CallAnswer struct {
	CallID uuid.UUID                  `json:"call_id"`
	SDP    *webrtc.SessionDescription `json:"sdp"`
}

type CallICECandidate struct {
	TargetID  uuid.UUID                `json:"target_id"`
	CallID    *uuid.UUID               `json:"call_id,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate"`
	CallKind  domain.CallKind          `json:"call_kind,omitempty"`
}

type CallEnd struct {
	CallID uuid.UUID `json:"call_id"`
	Reason string    `json:"reason,omitempty"`
}

// GroupOffer is sent by a participant to one peer inside a room call
type GroupOffer struct {
	RoomID   uuid.UUID                  `json:"room_id"`
	PeerID   uuid.UUID                  `json:"peer_id"`
	SDP      *webrtc.SessionDescription `json:"sdp"`
	CallKind domain.CallKind            `json:"call_kind"`
}

type GroupAnswer struct {
	RoomID   uuid.UUID                  `json:"room_id"`
	PeerID   uuid.UUID                  `json:"peer_id"`
	SDP      *webrtc.SessionDescription `json:"sdp"`
	CallKind domain.CallKind            `json:"call_kind"`
}

type GroupICECandidate struct {
	RoomID    uuid.UUID                `json:"room_id"`
	PeerID    uuid.UUID                `json:"peer_id"`
	Candidate *webrtc.ICECandidateInit `json:"candidate"`
	CallKind  domain.CallKind          `json:"call_kind"`
}

type GroupLeave struct {
	RoomID   uuid.UUID       `json:"room_id"`
	CallKind domain.CallKind `json:"call_kind"`
}

type GroupEnd struct {
	RoomID uuid.UUID `json:"room_id"`
}

type ChatMessage struct {
	RoomID  uuid.UUID `json:"room_id"`
	Content string    `json:"content"`
}

type Typing struct {
	RoomID uuid.UUID `json:"room_id"`
}

type PushToken struct {
	Token     string `json:"token"`
	TokenType string `json:"token_type"`
	Platform  string `json:"platform"`
}

func (Auth) Type() string              { return TypeAuth }
func (Heartbeat) Type() string         { return TypeHeartbeat }
func (CallOffer) Type() string         { return TypeCallOffer }
func (CallAnswer) Type() string        { return TypeCallAnswer }
func (CallICECandidate) Type() string  { return TypeCallICECandidate }
func (CallEnd) Type() string           { return TypeCallEnd }
func (GroupOffer) Type() string        { return TypeGroupOffer }
func (GroupAnswer) Type() string       { return TypeGroupAnswer }
func (GroupICECandidate) Type() string { return TypeGroupICE }
func (GroupLeave) Type() string        { return TypeGroupLeave }
func (GroupEnd) Type() string          { return TypeGroupEnd }
func (ChatMessage) Type() string       { return TypeChatMessage }
func (Typing) Type() string            { return TypeTyping }
func (PushToken) Type() string         { return TypePushToken }

func (m Auth) Validate() error {
	if strings.TrimSpace(m.Token) == "" {
		return apperrors.MissingFieldError("token")
	}
	return nil
}

func (Heartbeat) Validate() error { return nil }

func (m CallOffer) Validate() error {
	switch {
	case m.TargetID == nil && m.RoomID == nil:
		return apperrors.MissingFieldError("target_id or room_id")
	case m.TargetID != nil && m.RoomID != nil:
		return apperrors.ValidationError("Only one of target_id and room_id may be set")
	case m.TargetID != nil && *m.TargetID == uuid.Nil, m.RoomID != nil && *m.RoomID == uuid.Nil:
		return apperrors.ValidationError("Invalid call target")
	}
	if err := validateKind(m.CallKind); err != nil {
		return err
	}
	return validateSDP(m.SDP, webrtc.SDPTypeOffer)
}

func (m CallAnswer) Validate() error {
	if m.CallID == uuid.Nil {
		return apperrors.MissingFieldError("call_id")
	}
	return validateSDP(m.SDP, webrtc.SDPTypeAnswer)
}

func (m CallICECandidate) Validate() error {
	if m.TargetID == uuid.Nil {
		return apperrors.MissingFieldError("target_id")
	}
	if m.Candidate == nil {
		return apperrors.MissingFieldError("candidate")
	}
	if m.CallKind != "" {
		return validateKind(m.CallKind)
	}
	return nil
}

func (m CallEnd) Validate() error {
	if m.CallID == uuid.Nil {
		return apperrors.MissingFieldError("call_id")
	}
	return nil
}

func (m GroupOffer) Validate() error {
	if err := validatePeer(m.RoomID, m.PeerID); err != nil {
		return err
	}
	if err := validateKind(m.CallKind); err != nil {
		return err
	}
	return validateSDP(m.SDP, webrtc.SDPTypeOffer)
}

func (m GroupAnswer) Validate() error {
	if err := validatePeer(m.RoomID, m.PeerID); err != nil {
		return err
	}
	if err := validateKind(m.CallKind); err != nil {
		return err
	}
	return validateSDP(m.SDP, webrtc.SDPTypeAnswer)
}

func (m GroupICECandidate) Validate() error {
	if err := validatePeer(m.RoomID, m.PeerID); err != nil {
		return err
	}
	if m.Candidate == nil {
		return apperrors.MissingFieldError("candidate")
	}
	return validateKind(m.CallKind)
}

func (m GroupLeave) Validate() error {
	if m.RoomID == uuid.Nil {
		return apperrors.MissingFieldError("room_id")
	}
	if m.CallKind != "" {
		return validateKind(m.CallKind)
	}
	return nil
}

func (m GroupEnd) Validate() error {
	if m.RoomID == uuid.Nil {
		return apperrors.MissingFieldError("room_id")
	}
	return nil
}

func (m ChatMessage) Validate() error {
	if m.RoomID == uuid.Nil {
		return apperrors.MissingFieldError("room_id")
	}
	if strings.TrimSpace(m.Content) == "" {
		return apperrors.MissingFieldError("content")
	}
	if len(m.Content) > constants.MaxMessageLength {
		return apperrors.ValidationError("Message content too long")
	}
	return nil
}

func (m Typing) Validate() error {
	if m.RoomID == uuid.Nil {
		return apperrors.MissingFieldError("room_id")
	}
	return nil
}

func (m PushToken) Validate() error {
	if strings.TrimSpace(m.Token) == "" {
		return apperrors.MissingFieldError("token")
	}
	if m.TokenType == "" {
		return apperrors.MissingFieldError("token_type")
	}
	return nil
}

func validateKind(kind domain.CallKind) error {
	if kind == "" {
		return apperrors.MissingFieldError("call_kind")
	}
	if !kind.Valid() {
		return apperrors.ValidationError("call_kind must be audio or video")
	}
	return nil
}

func validatePeer(roomID, peerID uuid.UUID) error {
	if roomID == uuid.Nil {
		return apperrors.MissingFieldError("room_id")
	}
	if peerID == uuid.Nil {
		return apperrors.MissingFieldError("peer_id")
	}
	return nil
}

// validateSDP checks the description type and that the body parses as SDP
func validateSDP(desc *webrtc.SessionDescription, want webrtc.SDPType) error {
	if desc == nil || desc.SDP == "" {
		return apperrors.MissingFieldError("sdp")
	}
	if desc.Type != want {
		return apperrors.ValidationError("sdp type must be " + want.String())
	}
	if _, err := desc.Unmarshal(); err != nil {
		return apperrors.Wrap(apperrors.ErrCodeValidation, "Malformed session description", err)
	}
	return nil
}

// Decode parses one inbound frame into its typed message and validates it.
// The returned message is non-nil whenever the type was recognised, so the
// caller can name the failed action.
func Decode(data []byte) (Message, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeValidation, "Malformed frame", err)
	}
	if envelope.Type == "" {
		return nil, apperrors.MissingFieldError("type")
	}

	msg, err := decodeTyped(envelope.Type, data)
	if err != nil {
		return msg, err
	}
	return msg, msg.Validate()
}

func decodeTyped(msgType string, data []byte) (Message, error) {
	switch msgType {
	case TypeAuth:
		return decodeAs[Auth](data)
	case TypeHeartbeat:
		return Heartbeat{}, nil
	case TypeCallOffer:
		return decodeAs[CallOffer](data)
	case TypeCallAnswer:
		return decodeAs[CallAnswer](data)
	case TypeCallICECandidate:
		return decodeAs[CallICECandidate](data)
	case TypeCallEnd:
		return decodeAs[CallEnd](data)
	case TypeGroupOffer:
		return decodeAs[GroupOffer](data)
	case TypeGroupAnswer:
		return decodeAs[GroupAnswer](data)
	case TypeGroupICE:
		return decodeAs[GroupICECandidate](data)
	case TypeGroupLeave:
		return decodeAs[GroupLeave](data)
	case TypeGroupEnd:
		return decodeAs[GroupEnd](data)
	case TypeChatMessage:
		return decodeAs[ChatMessage](data)
	case TypeTyping:
		return decodeAs[Typing](data)
	case TypePushToken:
		return decodeAs[PushToken](data)
	}
	return nil, apperrors.UnknownMessageError(msgType)
}

func decodeAs[T Message](data []byte) (Message, error) {
	var msg T
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, apperrors.Wrap(apperrors.ErrCodeValidation, "Malformed "+msg.Type()+" payload", err)
	}
	return msg, nil
}
